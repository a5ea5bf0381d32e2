// Package structure reformats extracted text with a chat-completion model.
package structure

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/model"
	"github.com/sells-group/docextract/pkg/anthropic"
	"github.com/sells-group/docextract/pkg/openai"
	"github.com/sells-group/docextract/pkg/vertex"
)

// ErrMissingCredential is returned by a backend when neither the process
// default nor the per-request override supplies an API key.
var ErrMissingCredential = eris.New("structure: no API key configured")

// backend performs one model call.
type backend interface {
	name() string
	complete(ctx context.Context, system, text, apiKey string) (string, error)
}

// Structurer sends text to the configured model. It never returns an error:
// every failure becomes model.StructuringFailed.
type Structurer struct {
	backend backend
	system  string
	timeout time.Duration
	closer  func() error
}

func newStructurer(b backend, cfg config.StructureConfig) *Structurer {
	return &Structurer{
		backend: b,
		system:  cfg.SystemPrompt,
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// New builds a Structurer for cfg.Provider with real API clients.
func New(ctx context.Context, cfg config.StructureConfig) (*Structurer, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(openai.NewClient(cfg.OpenAI.Key, cfg.OpenAI.BaseURL), cfg), nil
	case "anthropic":
		return NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key, cfg.Anthropic.BaseURL), cfg), nil
	case "vertex":
		client, err := vertex.NewClient(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Region)
		if err != nil {
			return nil, eris.Wrap(err, "structure: vertex client")
		}
		s := NewVertex(client, cfg)
		s.closer = client.Close
		return s, nil
	default:
		return nil, eris.Errorf("structure: unknown provider %q", cfg.Provider)
	}
}

// NewOpenAI returns a Structurer backed by the OpenAI chat completions API.
func NewOpenAI(client openai.Client, cfg config.StructureConfig) *Structurer {
	return newStructurer(&openAIBackend{
		client:    client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		key:       cfg.OpenAI.Key,
	}, cfg)
}

// NewAnthropic returns a Structurer backed by the Anthropic Messages API.
func NewAnthropic(client anthropic.Client, cfg config.StructureConfig) *Structurer {
	return newStructurer(&anthropicBackend{
		client:    client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		key:       cfg.Anthropic.Key,
	}, cfg)
}

// NewVertex returns a Structurer backed by Gemini on Vertex AI. Vertex uses
// application default credentials, so per-request keys are ignored.
func NewVertex(client vertex.Client, cfg config.StructureConfig) *Structurer {
	return newStructurer(&vertexBackend{
		client:    client,
		model:     cfg.Model,
		maxTokens: int32(cfg.MaxTokens),
	}, cfg)
}

// Provider names the backend in use.
func (s *Structurer) Provider() string {
	return s.backend.name()
}

// Structure returns the model's rendering of text, or model.StructuringFailed
// when the call fails for any reason. apiKey overrides the configured key for
// this call when non-empty.
func (s *Structurer) Structure(ctx context.Context, text, apiKey string) string {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.backend.complete(ctx, s.system, text, apiKey)
	if err != nil {
		zap.L().Error("structure: model call failed",
			zap.String("provider", s.backend.name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return model.StructuringFailed
	}

	zap.L().Debug("structure: model call complete",
		zap.String("provider", s.backend.name()),
		zap.Int("input_chars", len(text)),
		zap.Int("output_chars", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

// Close releases the underlying client, if it holds one.
func (s *Structurer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func pickKey(override, fallback string) (string, error) {
	if override != "" {
		return override, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrMissingCredential
}

type openAIBackend struct {
	client    openai.Client
	model     string
	maxTokens int64
	key       string
}

func (b *openAIBackend) name() string { return "openai" }

func (b *openAIBackend) complete(ctx context.Context, system, text, apiKey string) (string, error) {
	key, err := pickKey(apiKey, b.key)
	if err != nil {
		return "", err
	}
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatRequest{
		Model:     b.model,
		Developer: system,
		User:      text,
		MaxTokens: b.maxTokens,
		APIKey:    key,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

type anthropicBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	key       string
}

func (b *anthropicBackend) name() string { return "anthropic" }

func (b *anthropicBackend) complete(ctx context.Context, system, text, apiKey string) (string, error) {
	key, err := pickKey(apiKey, b.key)
	if err != nil {
		return "", err
	}
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: text}},
		APIKey:    key,
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(b.model)
	return resp.Text(), nil
}

type vertexBackend struct {
	client    vertex.Client
	model     string
	maxTokens int32
}

func (b *vertexBackend) name() string { return "vertex" }

func (b *vertexBackend) complete(ctx context.Context, system, text, _ string) (string, error) {
	return b.client.Generate(ctx, vertex.GenerateRequest{
		Model:     b.model,
		System:    system,
		Text:      text,
		MaxTokens: b.maxTokens,
	})
}
