package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "markr",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Duration of individual model invocations",
	}, []string{"model"})

	llmFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "markr",
		Subsystem: "llm",
		Name:      "request_failures_total",
		Help:      "Number of failed model invocations by failure kind",
	}, []string{"model", "kind"})

	llmRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "markr",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "Number of rate-limited invocations that were retried",
	}, []string{"model"})
)

// completionAPI is the slice of the OpenAI client the adapter needs.
// *openai.Client satisfies it; tests substitute a scripted fake.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config defines configuration options for the assessment client.
type Config struct {
	APIKey      string
	TextModel   string
	VisionModel string
	MaxRetries  int
	BackoffBase time.Duration
	Temperature float32
	MaxTokens   int
	Logger      zerolog.Logger
}

// Client sends normalized prompts to the OpenAI chat completion API and
// returns validated assessment results. It is stateless per call and safe to
// share across concurrent requests.
type Client struct {
	api    completionAPI
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient builds a new assessment client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.TextModel == "" {
		cfg.TextModel = openai.GPT4oMini
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = openai.GPT4o
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 750 * time.Millisecond
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	client := openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey))

	return &Client{
		api:    client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/markr-app/markr-api/pkg/llm"),
		logger: logger.With().Str("component", "llm_client").Logger(),
		sleep:  sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SelectModel returns the vision-capable model when the prompt attaches at
// least one image, the lightweight text model otherwise.
func (c *Client) SelectModel(p Prompt) string {
	switch p := p.(type) {
	case ImagePrompt:
		if len(p.Images) > 0 {
			return c.cfg.VisionModel
		}
		return c.cfg.TextModel
	case TextPrompt:
		return c.cfg.TextModel
	default:
		return c.cfg.TextModel
	}
}

// buildMessages translates the prompt into chat messages. For multimodal
// prompts the first message's text leads, followed by one part per image in
// input order. Inline data becomes a data URL part, a URI becomes an
// image-URL part; an image carrying neither is skipped.
func (c *Client) buildMessages(p Prompt) []openai.ChatCompletionMessage {
	switch p := p.(type) {
	case TextPrompt:
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		}
	case ImagePrompt:
		parts := make([]openai.ChatMessagePart, 0, len(p.Images)+1)
		if len(p.Messages) > 0 {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Messages[0].Content,
			})
		}
		for _, image := range p.Images {
			switch {
			case image.Data != "":
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", image.MimeType, image.Data),
					},
				})
			case image.URI != "":
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: image.URI},
				})
			default:
				c.logger.Debug().Str("mime_type", image.MimeType).Msg("dropping image with neither data nor uri")
			}
		}
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		}
	default:
		return nil
	}
}

// invoke performs a single model call and returns the raw reply text. Any
// transport or SDK failure propagates unmodified; classification is the
// retry loop's job.
func (c *Client) invoke(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          model,
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    c.cfg.Temperature,
		Messages:       messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from model")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Assess runs the full attempt chain {invoke, parse, validate} under the
// retry policy: rate-limited attempts back off exponentially up to
// MaxRetries, quota exhaustion and every other failure abort immediately.
// Parse and schema failures are never retried and propagate as themselves.
func (c *Client) Assess(ctx context.Context, p Prompt) (AssessmentResult, error) {
	model := c.SelectModel(p)
	messages := c.buildMessages(p)

	ctx, span := c.tracer.Start(ctx, "llm.assess", trace.WithAttributes(
		attribute.String("model", model),
	))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			llmRetries.WithLabelValues(model).Inc()
			c.logger.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("rate limited, backing off before retry")
			if err := c.sleep(ctx, delay); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "cancelled")
				return AssessmentResult{}, err
			}
		}

		start := time.Now()
		raw, err := c.invoke(ctx, model, messages)
		llmDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

		if err == nil {
			result, finishErr := c.finish(raw)
			if finishErr != nil {
				llmFailures.WithLabelValues(model, finishKind(finishErr)).Inc()
				span.RecordError(finishErr)
				span.SetStatus(codes.Error, "invalid_response")
				return AssessmentResult{}, finishErr
			}
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			return result, nil
		}

		switch Classify(err) {
		case ClassResourceExhausted:
			llmFailures.WithLabelValues(model, "quota").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "quota_exhausted")
			return AssessmentResult{}, &QuotaExhaustedError{cause: err}
		case ClassRateLimited:
			llmFailures.WithLabelValues(model, "rate_limited").Inc()
			lastErr = err
		default:
			llmFailures.WithLabelValues(model, "transport").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return AssessmentResult{}, fmt.Errorf("failed to get a valid and structured response from the model: %w", err)
		}
	}

	// retry budget spent on pure rate limiting; surface the provider's last
	// error unmodified so callers see the real condition
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries_exhausted")
	return AssessmentResult{}, lastErr
}

// finish parses and validates one raw reply. Some models wrap the single
// result object in an array; only the first element is taken forward.
func (c *Client) finish(raw string) (AssessmentResult, error) {
	value, err := ParseModelJSON(raw)
	if err != nil {
		return AssessmentResult{}, err
	}

	if list, ok := value.([]any); ok && len(list) > 0 {
		value = list[0]
	}

	return ValidateAssessment(value)
}

func finishKind(err error) string {
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return "malformed"
	}
	return "schema"
}
