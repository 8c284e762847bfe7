package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI   = "openai"
	ProviderGroq     = "groq"
	ProviderOllama   = "ollama"
	ProviderScripted = "scripted"

	GroqBaseURL = "https://api.groq.com/openai/v1"
)

// Options select and configure a model provider.
type Options struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	MaxRetries     int
	// Script holds the replies of the scripted provider, in order.
	Script []string
	Logger *slog.Logger
}

// NewModel returns the chat model described by opts, wrapped with retries
// when MaxRetries is positive.
func NewModel(opts Options) (llms.Model, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(opts.Provider) {
	case ProviderOpenAI, ProviderGroq:
		model, err = newOpenAI(opts)
	case ProviderOllama:
		model, err = newOllama(opts)
	case ProviderScripted:
		model = NewScripted(opts.Script...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", opts.Provider, err)
	}

	if opts.MaxRetries > 0 {
		model = NewRetryingModel(model, opts.MaxRetries, WithRetryLogger(opts.Logger))
	}
	return model, nil
}

// NewEmbedder returns an embedder backed by the configured provider.
func NewEmbedder(opts Options) (embeddings.Embedder, error) {
	var (
		client embeddings.EmbedderClient
		err    error
	)

	switch strings.ToLower(opts.Provider) {
	case ProviderOpenAI, ProviderGroq:
		client, err = newOpenAI(opts)
	case ProviderOllama:
		o := opts
		if o.EmbeddingModel != "" {
			o.Model = o.EmbeddingModel
		}
		client, err = newOllama(o)
	default:
		return nil, fmt.Errorf("llm provider %q has no embeddings", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", opts.Provider, err)
	}
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func newOpenAI(opts Options) (*openai.LLM, error) {
	var oo []openai.Option
	if opts.Model != "" {
		oo = append(oo, openai.WithModel(opts.Model))
	}
	if opts.APIKey != "" {
		oo = append(oo, openai.WithToken(opts.APIKey))
	}
	baseURL := opts.BaseURL
	if baseURL == "" && strings.EqualFold(opts.Provider, ProviderGroq) {
		baseURL = GroqBaseURL
	}
	if baseURL != "" {
		oo = append(oo, openai.WithBaseURL(baseURL))
	}
	if opts.EmbeddingModel != "" {
		oo = append(oo, openai.WithEmbeddingModel(opts.EmbeddingModel))
	}
	return openai.New(oo...)
}

func newOllama(opts Options) (*ollama.LLM, error) {
	var oo []ollama.Option
	if opts.Model != "" {
		oo = append(oo, ollama.WithModel(opts.Model))
	}
	if opts.BaseURL != "" {
		oo = append(oo, ollama.WithServerURL(opts.BaseURL))
	}
	return ollama.New(oo...)
}
