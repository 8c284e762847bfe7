package repair

import (
	"errors"
	"slices"

	"github.com/tmc/langchaingo/llms"
)

// Message roles recorded in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessage converts the entry for prompt templates.
func (m Message) ChatMessage() llms.ChatMessage {
	switch m.Role {
	case RoleAssistant:
		return llms.AIChatMessage{Content: m.Content}
	case RoleSystem:
		return llms.SystemChatMessage{Content: m.Content}
	default:
		return llms.HumanChatMessage{Content: m.Content}
	}
}

// State is the record threaded through one repair run. Messages and Visited
// only ever grow; Iterations only grows, and only through the router.
type State struct {
	ErrorPresent bool      `json:"error_present"`
	ErrorReason  string    `json:"error_reason"`
	FixedCode    string    `json:"fixed_code"`
	Messages     []Message `json:"messages"`
	Iterations   int       `json:"iterations"`
	Visited      []string  `json:"visited"`
}

// NewState seeds a run with the failure to repair and the code that failed.
func NewState(errorReason, code string) State {
	return State{
		ErrorPresent: true,
		ErrorReason:  errorReason,
		FixedCode:    code,
	}
}

// Validate rejects a state with a negative retry count.
func (s State) Validate() error {
	if s.Iterations < 0 {
		return errors.New("iterations cannot be negative")
	}
	return nil
}

// Apply merges p into a copy of s: scalar fields are replaced when set,
// Messages and Visited are appended to in order.
func (s State) Apply(p Patch) State {
	out := s
	if p.ErrorPresent != nil {
		out.ErrorPresent = *p.ErrorPresent
	}
	if p.ErrorReason != nil {
		out.ErrorReason = *p.ErrorReason
	}
	if p.FixedCode != nil {
		out.FixedCode = *p.FixedCode
	}
	out.Iterations += p.IterationsDelta
	out.Messages = appendCloned(s.Messages, p.Messages)
	out.Visited = appendCloned(s.Visited, p.Visited)
	return out
}

func appendCloned[T any](base, extra []T) []T {
	if len(extra) == 0 {
		return base
	}
	out := make([]T, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// History returns the transcript in the form prompt templates expect.
func (s State) History() []llms.ChatMessage {
	out := make([]llms.ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.ChatMessage())
	}
	return out
}

// Patch is a sparse update proposed by a node or the router. There is no way
// to replace Messages or Visited, only to append to them.
type Patch struct {
	ErrorPresent    *bool
	ErrorReason     *string
	FixedCode       *string
	IterationsDelta int
	Messages        []Message
	Visited         []string
}

// Merge combines two patches as if q were applied after p.
func (p Patch) Merge(q Patch) Patch {
	out := p
	if q.ErrorPresent != nil {
		out.ErrorPresent = q.ErrorPresent
	}
	if q.ErrorReason != nil {
		out.ErrorReason = q.ErrorReason
	}
	if q.FixedCode != nil {
		out.FixedCode = q.FixedCode
	}
	out.IterationsDelta += q.IterationsDelta
	out.Messages = append(slices.Clone(p.Messages), q.Messages...)
	out.Visited = append(slices.Clone(p.Visited), q.Visited...)
	return out
}

func ptr[T any](v T) *T {
	return &v
}
