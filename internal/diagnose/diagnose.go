// Package diagnose asks for the cause of an error and for fix steps at the
// same time.
package diagnose

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"

	"github.com/avi3tal/fixloop/internal/llm"
)

// Report holds both answers for one trace.
type Report struct {
	Trace string `json:"trace"`
	Cause string `json:"cause"`
	Fixes string `json:"fixes"`
}

// Completer renders and completes one prompt.
type Completer interface {
	Complete(ctx context.Context, vars map[string]any) (string, error)
}

type Diagnoser struct {
	cause Completer
	fixes Completer
}

func New(cause, fixes Completer) *Diagnoser {
	return &Diagnoser{cause: cause, fixes: fixes}
}

// NewWithModel uses the default cause and fix-steps prompts on model.
func NewWithModel(model llms.Model) *Diagnoser {
	return New(llm.NewChain(model, llm.CausePrompt()), llm.NewChain(model, llm.FixStepsPrompt()))
}

// Diagnose runs both completions concurrently. The first failure cancels
// the other.
func (d *Diagnoser) Diagnose(ctx context.Context, trace string) (Report, error) {
	r := Report{Trace: trace}
	vars := map[string]any{"trace": trace}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := d.cause.Complete(gctx, vars)
		if err != nil {
			return fmt.Errorf("cause: %w", err)
		}
		r.Cause = out
		return nil
	})
	g.Go(func() error {
		out, err := d.fixes.Complete(gctx, vars)
		if err != nil {
			return fmt.Errorf("fixes: %w", err)
		}
		r.Fixes = out
		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return r, nil
}
