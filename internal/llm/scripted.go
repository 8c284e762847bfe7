package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrScriptExhausted is returned once a Scripted model has no replies left.
var ErrScriptExhausted = errors.New("scripted model has no replies left")

type scriptStep struct {
	resp *llms.ContentResponse
	err  error
}

// Scripted is an offline model that plays back canned responses in order.
// It records every request for inspection.
type Scripted struct {
	mu    sync.Mutex
	steps []scriptStep
	calls [][]llms.MessageContent
}

func NewScripted(replies ...string) *Scripted {
	s := &Scripted{}
	for _, r := range replies {
		s.Then(r)
	}
	return s
}

// Then queues a plain text reply.
func (s *Scripted) Then(text string) *Scripted {
	return s.ThenResponse(&llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	})
}

// ThenToolCall queues a reply asking for a single tool call.
func (s *Scripted) ThenToolCall(id, name, arguments string) *Scripted {
	return s.ThenResponse(&llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			StopReason: "tool_calls",
			ToolCalls: []llms.ToolCall{{
				ID:           id,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: name, Arguments: arguments},
			}},
		}},
	})
}

func (s *Scripted) ThenResponse(resp *llms.ContentResponse) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptStep{resp: resp})
	return s
}

// ThenError queues a failed call.
func (s *Scripted) ThenError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptStep{err: err})
	return s
}

func (s *Scripted) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	if len(s.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.resp, step.err
}

func (s *Scripted) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

// Calls returns the requests received so far.
func (s *Scripted) Calls() [][]llms.MessageContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]llms.MessageContent(nil), s.calls...)
}
