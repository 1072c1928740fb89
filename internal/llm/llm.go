// Package llm produces grounded answers from a chat-completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxTokens bounds answer length when no option overrides it.
const DefaultMaxTokens = 800

// ErrGenerationFailed wraps every failure of the upstream model.
var ErrGenerationFailed = errors.New("generation failed")

var tracer = otel.Tracer("orgrag.llm")

// Generator completes a system and user prompt pair.
type Generator interface {
	Complete(ctx context.Context, system, user string, opts ...Option) (string, error)
}

// Options holds per-call settings.
type Options struct {
	MaxTokens   int
	Temperature *float64
}

// Option configures a single Complete call.
type Option func(*Options)

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// Config configures the chat-completion client.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int

	// RequestsPerSecond throttles calls. Zero disables throttling.
	RequestsPerSecond float64
}

// ConfigFrom maps the generation section of the application config.
func ConfigFrom(cfg config.GenerationConfig) Config {
	return Config{
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey.Value(),
		MaxTokens: cfg.MaxTokens,
	}
}

// ChatGenerator implements Generator on any langchaingo model.
type ChatGenerator struct {
	model     llms.Model
	modelName string
	maxTokens int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewOpenAIGenerator creates a generator backed by an OpenAI-compatible API.
func NewOpenAIGenerator(cfg Config, logger *zap.Logger) (*ChatGenerator, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: generation api key or base URL required", config.ErrConfiguration)
	}

	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewChatGenerator(client, cfg, logger), nil
}

// NewChatGenerator wraps an existing langchaingo model.
func NewChatGenerator(model llms.Model, cfg Config, logger *zap.Logger) *ChatGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &ChatGenerator{
		model:     model,
		modelName: cfg.Model,
		maxTokens: maxTokens,
		limiter:   limiter,
		logger:    logger,
	}
}

// Complete sends one system message and one human message and returns the
// first choice verbatim.
func (g *ChatGenerator) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	o := Options{MaxTokens: g.maxTokens}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "ChatGenerator.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", g.modelName),
		attribute.Int("max_tokens", o.MaxTokens),
	)

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	callOpts := []llms.CallOption{llms.WithMaxTokens(o.MaxTokens)}
	if o.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*o.Temperature))
	}

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: empty response", ErrGenerationFailed)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	g.logger.Debug("completion generated",
		zap.String("model", g.modelName),
		zap.Duration("duration", time.Since(start)),
		zap.Int("answer_length", len(resp.Choices[0].Content)),
	)
	span.SetStatus(codes.Ok, "success")
	return resp.Choices[0].Content, nil
}

var _ Generator = (*ChatGenerator)(nil)
