// Package llm is the text completion service used by the repair workflow and
// the smaller tools around it. A Chain renders a chat prompt template,
// sends it to a langchaingo model and returns the first choice.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// ErrEmptyResponse is returned when the model answers with no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Parser post-processes the raw completion text.
type Parser func(string) (string, error)

// Chain is prompt | model | parser.
type Chain struct {
	model  llms.Model
	prompt prompts.ChatPromptTemplate
	parser Parser
	opts   []llms.CallOption
}

type ChainOption func(*Chain)

// WithParser sets the output parser. The default trims surrounding space.
func WithParser(p Parser) ChainOption {
	return func(c *Chain) {
		c.parser = p
	}
}

// WithCallOptions adds model call options such as temperature or tools.
func WithCallOptions(opts ...llms.CallOption) ChainOption {
	return func(c *Chain) {
		c.opts = append(c.opts, opts...)
	}
}

func NewChain(model llms.Model, prompt prompts.ChatPromptTemplate, opts ...ChainOption) *Chain {
	c := &Chain{
		model:  model,
		prompt: prompt,
		parser: TrimSpace,
		opts:   []llms.CallOption{llms.WithTemperature(0)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete renders the prompt with vars and returns the parsed completion.
func (c *Chain) Complete(ctx context.Context, vars map[string]any) (string, error) {
	msgs, err := c.Render(vars)
	if err != nil {
		return "", err
	}

	resp, err := c.model.GenerateContent(ctx, msgs, c.opts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	out, err := c.parser(resp.Choices[0].Content)
	if err != nil {
		return "", fmt.Errorf("parse completion: %w", err)
	}
	return out, nil
}

// Render formats the prompt into model messages without calling the model.
func (c *Chain) Render(vars map[string]any) ([]llms.MessageContent, error) {
	chat, err := c.prompt.FormatMessages(vars)
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return ToMessageContent(chat), nil
}

// ToMessageContent converts chat messages into model input.
func ToMessageContent(chat []llms.ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(chat))
	for _, m := range chat {
		out = append(out, llms.TextParts(m.GetType(), m.GetContent()))
	}
	return out
}

func TrimSpace(s string) (string, error) {
	return strings.TrimSpace(s), nil
}

// StripCodeFence removes a single surrounding markdown code fence, if any.
func StripCodeFence(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s, nil
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s), nil
}
