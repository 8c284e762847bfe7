package repair

import (
	"context"
	"errors"
	"log/slog"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/internal/sandbox"
	"github.com/avi3tal/fixloop/pkg/agents"
	"github.com/avi3tal/fixloop/pkg/workflow"
)

// Name is the graph name; graph IDs are derived from it.
const Name = "repair"

// graphVersion pins the graph ID so checkpoints outlive the process.
const graphVersion = "v1"

// GraphID is the ID every App built by NewApp runs under.
const GraphID = Name + "-" + graphVersion

// Deps are the collaborators of a repair run.
type Deps struct {
	Explainer Completer
	Fixer     Completer
	Sandbox   sandbox.Runner
	Logger    *slog.Logger
}

func (d Deps) validate() error {
	var errs []error
	if d.Explainer == nil {
		errs = append(errs, errors.New("explainer is required"))
	}
	if d.Fixer == nil {
		errs = append(errs, errors.New("fixer is required"))
	}
	if d.Sandbox == nil {
		errs = append(errs, errors.New("sandbox is required"))
	}
	return errors.Join(errs...)
}

// Agents returns the explain, fix and execute agents in graph order.
func Agents(d Deps) []workflow.Agent[State, Patch] {
	n := &Nodes{explainer: d.Explainer, fixer: d.Fixer, sandbox: d.Sandbox, logger: d.Logger}
	return []workflow.Agent[State, Patch]{
		agents.NewSimpleAgent(Explain.String(), n.Explain, map[string]any{"description": "explain the last failure"}),
		agents.NewSimpleAgent(Fix.String(), n.Fix, map[string]any{"description": "propose replacement code"}),
		agents.NewSimpleAgent(Execute.String(), n.Execute, map[string]any{"description": "run the candidate in the sandbox"}),
	}
}

// NewWorkflow wires START -> explain -> fix -> execute -> {explain | END}.
func NewWorkflow(d Deps, opts ...graph.Option) (*workflow.Builder[State, Patch], error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	wf := workflow.NewBuilder[State, Patch](Name, opts...)
	a := Agents(d)
	flow := wf.AddAgent(a[Explain]).
		AsEntryPoint().
		Then(a[Fix]).
		Then(a[Execute]).
		Route(ShouldRetry(RetryBound), Explain.String(), graph.END)
	if err := flow.Err(); err != nil {
		return nil, err
	}
	return wf, nil
}

// NewApp builds and compiles the repair workflow. Topology problems surface
// here, before any run starts.
func NewApp(d Deps, opts ...workflow.AppOption[State, Patch]) (*workflow.App[State, Patch], error) {
	wf, err := NewWorkflow(d, graph.WithGraphID(graphVersion))
	if err != nil {
		return nil, err
	}
	if d.Logger != nil {
		opts = append([]workflow.AppOption[State, Patch]{workflow.WithLogger[State, Patch](d.Logger)}, opts...)
	}
	return workflow.NewApp(wf, opts...)
}

// Run is a convenience for a single repair without an App.
func Run(ctx context.Context, d Deps, errorReason, code string) (State, error) {
	app, err := NewApp(d)
	if err != nil {
		return State{}, err
	}
	return app.Invoke(ctx, NewState(errorReason, code))
}

// Result classifies a finished run.
type Result string

const (
	ResultFixed     Result = "fixed"
	ResultExhausted Result = "exhausted"
	ResultFailed    Result = "failed"
	ResultCancelled Result = "cancelled"
)

// Outcome tells a repaired run from one that ran out of retries.
func Outcome(s State) Result {
	if s.ErrorPresent {
		return ResultExhausted
	}
	return ResultFixed
}

// Classify is Outcome extended to runs that returned err.
func Classify(s State, err error) Result {
	switch {
	case err == nil:
		return Outcome(s)
	case errors.Is(err, graph.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	default:
		return ResultFailed
	}
}
