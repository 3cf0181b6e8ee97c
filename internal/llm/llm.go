package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/llm/prompts"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 120 * time.Second

// MaxTokens caps the completion length of every chat call.
const MaxTokens = 4096

// Gateway sends a rendered prompt to the model and returns the raw reply text.
type Gateway interface {
	Generate(ctx context.Context, p prompts.Prompt) (string, error)
	Grade(ctx context.Context, p prompts.Prompt) (string, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// TranscribeModel is the speech-to-text model; defaults to whisper-1.
	TranscribeModel string
	// Timeout bounds each call; zero means DefaultTimeout.
	Timeout time.Duration
	// JSONMode asks the server for a JSON object response format. Not every
	// OpenAI-compatible server supports it.
	JSONMode bool
	Logger   *slog.Logger
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api        *openai.Client
	model      string
	transcribe string
	timeout    time.Duration
	jsonMode   bool
	log        *slog.Logger
	tracer     trace.Tracer
}

var _ Gateway = (*Client)(nil)

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	c := &Client{
		api:        openai.NewClientWithConfig(config),
		model:      cfg.Model,
		transcribe: cfg.TranscribeModel,
		timeout:    cfg.Timeout,
		jsonMode:   cfg.JSONMode,
		log:        cfg.Logger,
		tracer:     otel.Tracer("github.com/pavelanni/papergen/internal/llm"),
	}
	if c.model == "" {
		c.model = openai.GPT3Dot5Turbo
	}
	if c.transcribe == "" {
		c.transcribe = openai.Whisper1
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Generate asks the model for a question paper.
func (c *Client) Generate(ctx context.Context, p prompts.Prompt) (string, error) {
	return c.complete(ctx, "llm.generate", p)
}

// Grade asks the model to grade a submission.
func (c *Client) Grade(ctx context.Context, p prompts.Prompt) (string, error) {
	return c.complete(ctx, "llm.grade", p)
}

func (c *Client) complete(ctx context.Context, op string, p prompts.Prompt) (string, error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("llm.model", c.model),
		attribute.Float64("llm.temperature", float64(p.Temperature)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: p.Temperature,
		MaxTokens:   MaxTokens,
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		c.log.Warn("LLM call failed", "op", op, "elapsed", time.Since(start), "error", err)
		return "", apperr.Gateway(fmt.Errorf("LLM API call: %w", err))
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", apperr.Gateway(errors.New("LLM returned no choices"))
	}

	raw := resp.Choices[0].Message.Content
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	c.log.Debug("LLM response", "op", op, "elapsed", time.Since(start), "finish_reason", resp.Choices[0].FinishReason, "raw", raw)
	return raw, nil
}

// Transcribe converts an audio or video stream to text.
func (c *Client) Transcribe(ctx context.Context, name string, r io.Reader) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.transcribe", trace.WithAttributes(
		attribute.String("llm.model", c.transcribe),
		attribute.String("media.name", name),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribe,
		FilePath: name,
		Reader:   r,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return "", apperr.Gateway(fmt.Errorf("transcribe %s: %w", name, err))
	}
	c.log.Debug("transcription done", "name", name, "chars", len(resp.Text))
	return resp.Text, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return apperr.Gateway(fmt.Errorf("list models: %w", err))
	}
	return nil
}
