package toolclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/avi3tal/fixloop/internal/tools"
)

// Caller is the part of Client the Agent needs.
type Caller interface {
	Tools(ctx context.Context) ([]tools.Definition, error)
	Call(ctx context.Context, name string, args map[string]any) (Result, error)
}

// Answer is what Ask returns.
type Answer struct {
	Text  string
	Calls []Result
}

// Agent lets a model pick tools for a question and summarises their results.
type Agent struct {
	model  llms.Model
	caller Caller
}

func NewAgent(model llms.Model, caller Caller) *Agent {
	return &Agent{model: model, caller: caller}
}

// Ask sends query with every discovered tool attached. When the model asks
// for tools they are called and the model is asked again with the results
// appended to the query; otherwise its first answer is returned.
func (a *Agent) Ask(ctx context.Context, query string) (Answer, error) {
	defs, err := a.caller.Tools(ctx)
	if err != nil {
		return Answer{}, fmt.Errorf("discover tools: %w", err)
	}

	resp, err := a.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, query)},
		llms.WithTools(llmTools(defs)))
	if err != nil {
		return Answer{}, fmt.Errorf("choose tools: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, errors.New("model returned no choices")
	}

	choice := resp.Choices[0]
	if len(choice.ToolCalls) == 0 {
		return Answer{Text: choice.Content}, nil
	}

	var (
		ans    Answer
		prompt strings.Builder
	)
	prompt.WriteString(query)
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		res, err := a.call(ctx, tc.FunctionCall)
		if err != nil {
			return Answer{}, err
		}
		ans.Calls = append(ans.Calls, res)
		fmt.Fprintf(&prompt, "\nTool result: %s", res.JSON())
	}

	final, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt.String())
	if err != nil {
		return Answer{}, fmt.Errorf("summarise tool results: %w", err)
	}
	ans.Text = final
	return ans, nil
}

func (a *Agent) call(ctx context.Context, fc *llms.FunctionCall) (Result, error) {
	args := map[string]any{}
	if strings.TrimSpace(fc.Arguments) != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return Result{Tool: fc.Name, Failed: true, Error: "invalid arguments: " + err.Error()}, nil
		}
	}
	return a.caller.Call(ctx, fc.Name, args)
}

func llmTools(defs []tools.Definition) []llms.Tool {
	out := make([]llms.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}
