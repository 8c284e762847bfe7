package repair

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avi3tal/fixloop/internal/logging"
	"github.com/avi3tal/fixloop/internal/sandbox"
	"github.com/avi3tal/fixloop/pkg/types"
)

// Prompt variable names passed to a Completer.
const (
	VarErrorReason = "error_reason"
	VarMessages    = "messages"
	VarOldCode     = "old_code"
)

// SuccessMessage is recorded when the candidate runs cleanly.
const SuccessMessage = "Success!"

// Completer is the text completion service used by Explain and Fix.
type Completer interface {
	Complete(ctx context.Context, vars map[string]any) (string, error)
}

// CompleterFunc adapts a function to a Completer.
type CompleterFunc func(ctx context.Context, vars map[string]any) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, vars map[string]any) (string, error) {
	return f(ctx, vars)
}

// CollaboratorError reports that a service the workflow depends on failed,
// as opposed to the candidate code failing.
type CollaboratorError struct {
	Service string
	Step    Step
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Step, e.Service, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Nodes holds the collaborators shared by the three node functions.
type Nodes struct {
	explainer Completer
	fixer     Completer
	sandbox   sandbox.Runner
	logger    *slog.Logger
}

// Explain asks the completion service for a short cause of the last failure.
func (n *Nodes) Explain(ctx context.Context, s State, _ types.Config[State]) (Patch, error) {
	text, err := n.explainer.Complete(ctx, map[string]any{
		VarErrorReason: s.ErrorReason,
		VarMessages:    s.History(),
	})
	if err != nil {
		return Patch{}, &CollaboratorError{Service: "completion", Step: Explain, Err: err}
	}
	n.log(ctx).DebugContext(ctx, "explained failure", "reason", s.ErrorReason)

	return Patch{
		Messages: []Message{{Role: RoleAssistant, Content: text}},
		Visited:  []string{Explain.String()},
	}, nil
}

// Fix asks the completion service for a replacement of the current code.
// The returned text is used verbatim, even when empty.
func (n *Nodes) Fix(ctx context.Context, s State, _ types.Config[State]) (Patch, error) {
	code, err := n.fixer.Complete(ctx, map[string]any{
		VarMessages: s.History(),
		VarOldCode:  s.FixedCode,
	})
	if err != nil {
		return Patch{}, &CollaboratorError{Service: "completion", Step: Fix, Err: err}
	}
	n.log(ctx).DebugContext(ctx, "proposed fix", "bytes", len(code))

	return Patch{
		FixedCode: ptr(code),
		Messages:  []Message{{Role: RoleAssistant, Content: "Fixed code:\n" + code}},
		Visited:   []string{Fix.String()},
	}, nil
}

// Execute runs the current candidate in the sandbox. A failing candidate,
// including one that makes the runner panic, becomes state; only a broken
// sandbox is returned as an error.
func (n *Nodes) Execute(ctx context.Context, s State, _ types.Config[State]) (Patch, error) {
	out, err := n.run(ctx, s.FixedCode)
	if err != nil {
		return Patch{}, &CollaboratorError{Service: "sandbox", Step: Execute, Err: err}
	}
	n.log(ctx).DebugContext(ctx, "executed candidate", "status", out.Status, "duration", out.Duration)

	if out.OK() {
		return Patch{
			ErrorPresent: ptr(false),
			Messages:     []Message{{Role: RoleSystem, Content: SuccessMessage}},
			Visited:      []string{Execute.String()},
		}, nil
	}

	reason := "Execution failed: " + out.Reason
	return Patch{
		ErrorPresent: ptr(true),
		ErrorReason:  ptr(reason),
		Messages:     []Message{{Role: RoleSystem, Content: reason}},
		Visited:      []string{Execute.String()},
	}, nil
}

func (n *Nodes) run(ctx context.Context, src string) (out sandbox.Outcome, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, err = sandbox.Failure(fmt.Sprintf("panic: %v", r), ""), nil
			out.Duration = time.Since(started)
		}
	}()
	return n.sandbox.Run(ctx, src)
}

func (n *Nodes) log(ctx context.Context) *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return logging.FromContext(ctx)
}
