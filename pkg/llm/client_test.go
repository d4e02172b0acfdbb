package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

const validAssessmentJSON = `{"completeness":{"score":5,"reasoning":"Perfect"},"accuracy":{"score":4,"reasoning":"Good"},"spag":{"score":3,"reasoning":"Okay"}}`

type scriptedCall struct {
	content string
	err     error
}

type scriptedAPI struct {
	script   []scriptedCall
	requests []openai.ChatCompletionRequest
}

func (s *scriptedAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	index := len(s.requests) - 1
	if index >= len(s.script) {
		index = len(s.script) - 1
	}
	call := s.script[index]
	if call.err != nil {
		return openai.ChatCompletionResponse{}, call.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: call.content}},
		},
	}, nil
}

func newTestClient(api *scriptedAPI, maxRetries int) (*Client, *[]time.Duration) {
	delays := &[]time.Duration{}
	client := &Client{
		api: api,
		cfg: Config{
			TextModel:   "text-model",
			VisionModel: "vision-model",
			MaxRetries:  maxRetries,
			BackoffBase: 100 * time.Millisecond,
			MaxTokens:   256,
		},
		tracer: otel.Tracer("test"),
		logger: zerolog.Nop(),
		sleep: func(_ context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	}
	return client, delays
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	client, err := NewClient(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, openai.GPT4oMini, client.cfg.TextModel)
	require.Equal(t, openai.GPT4o, client.cfg.VisionModel)
	require.Positive(t, client.cfg.BackoffBase)
}

func TestSelectModelUsesVisionOnlyWithImages(t *testing.T) {
	client, _ := newTestClient(&scriptedAPI{}, 0)

	require.Equal(t, "text-model", client.SelectModel(TextPrompt{System: "s", User: "u"}))
	require.Equal(t, "text-model", client.SelectModel(ImagePrompt{System: "s", Messages: []Message{{Content: "u"}}}))
	require.Equal(t, "vision-model", client.SelectModel(ImagePrompt{
		System:   "s",
		Messages: []Message{{Content: "u"}},
		Images:   []ImageSource{{MimeType: "image/png", Data: "AAAA"}},
	}))
}

func TestBuildMessagesOrdersTextThenImages(t *testing.T) {
	client, _ := newTestClient(&scriptedAPI{}, 0)

	messages := client.buildMessages(ImagePrompt{
		System:   "marker",
		Messages: []Message{{Content: "grade this"}},
		Images: []ImageSource{
			{MimeType: "image/png", Data: "aGVsbG8="},
			{MimeType: "image/jpeg", URI: "https://images.test/page2.jpg"},
			{MimeType: "image/png"}, // neither data nor uri, dropped
		},
	})

	require.Len(t, messages, 2)
	require.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	require.Equal(t, "marker", messages[0].Content)

	parts := messages[1].MultiContent
	require.Len(t, parts, 3)
	require.Equal(t, openai.ChatMessagePartTypeText, parts[0].Type)
	require.Equal(t, "grade this", parts[0].Text)
	require.Equal(t, "data:image/png;base64,aGVsbG8=", parts[1].ImageURL.URL)
	require.Equal(t, "https://images.test/page2.jpg", parts[2].ImageURL.URL)
}

func TestAssessReturnsValidatedResult(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{{content: validAssessmentJSON}}}
	client, _ := newTestClient(api, 2)

	result, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "test"})
	require.NoError(t, err)
	require.Len(t, api.requests, 1)
	require.Equal(t, Criterion{Score: 5, Reasoning: "Perfect"}, result.Completeness)
	require.Equal(t, Criterion{Score: 4, Reasoning: "Good"}, result.Accuracy)
	require.Equal(t, Criterion{Score: 3, Reasoning: "Okay"}, result.Spag)
}

func TestAssessRepairsTrailingComma(t *testing.T) {
	broken := `{"completeness":{"score":4,"reasoning":"Test"},"accuracy":{"score":4,"reasoning":"Test"},"spag":{"score":4,"reasoning":"Test"},}`
	api := &scriptedAPI{script: []scriptedCall{{content: broken}}}
	client, _ := newTestClient(api, 0)

	result, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.NoError(t, err)
	require.Equal(t, 4, result.Completeness.Score)
	require.Equal(t, "Test", result.Spag.Reasoning)
}

func TestAssessUnwrapsArrayResponse(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{{content: "[" + validAssessmentJSON + "]"}}}
	client, _ := newTestClient(api, 0)

	result, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.NoError(t, err)
	require.Equal(t, 5, result.Completeness.Score)
}

func TestAssessRetryBoundOnRateLimiting(t *testing.T) {
	first := &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	second := errors.New("rate limit reached for requests")
	last := errors.New("Too many requests")
	api := &scriptedAPI{script: []scriptedCall{{err: first}, {err: second}, {err: last}}}
	client, delays := newTestClient(api, 2)

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.Len(t, api.requests, 3, "initial attempt plus two retries")
	require.Equal(t, last, err, "last attempt's error must propagate unmodified")
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestAssessBackoffGrowsExponentially(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{{err: errors.New("too many requests")}}}
	client, delays := newTestClient(api, 3)

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.Error(t, err)
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *delays)
}

func TestAssessQuotaExhaustionShortCircuits(t *testing.T) {
	cause := &openai.APIError{HTTPStatusCode: 429, Message: "RESOURCE_EXHAUSTED: Quota exceeded"}
	api := &scriptedAPI{script: []scriptedCall{{err: cause}}}
	client, delays := newTestClient(api, 5)

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.Len(t, api.requests, 1, "quota exhaustion must never be retried")
	require.Empty(t, *delays)

	var quota *QuotaExhaustedError
	require.ErrorAs(t, err, &quota)
	require.Contains(t, quota.Error(), "quota exhausted")

	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr, "original error must be preserved")
	require.Equal(t, cause.Message, apiErr.Message)
}

func TestAssessRecoversAfterRateLimit(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{
		{err: errors.New("Too many requests")},
		{content: validAssessmentJSON},
	}}
	client, delays := newTestClient(api, 2)

	result, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.NoError(t, err)
	require.Len(t, api.requests, 2)
	require.Equal(t, []time.Duration{100 * time.Millisecond}, *delays)
	require.Equal(t, 5, result.Completeness.Score)
}

func TestAssessServerErrorIsFatal(t *testing.T) {
	cause := &openai.APIError{HTTPStatusCode: 500, Message: "Server error"}
	api := &scriptedAPI{script: []scriptedCall{{err: cause}}}
	client, _ := newTestClient(api, 3)

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.Len(t, api.requests, 1, "fatal errors must not be retried")
	require.ErrorContains(t, err, "failed to get a valid and structured response")

	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestAssessSchemaFailurePropagatesUnwrapped(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{{content: `{"completeness":{"score":5,"reasoning":"ok"}}`}}}
	client, _ := newTestClient(api, 3)

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.Len(t, api.requests, 1, "schema failures must not be retried")

	var schemaErr *SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	require.False(t, strings.Contains(err.Error(), "failed to get a valid and structured response"))
}

func TestAssessMalformedResponseFailsFast(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{{content: "I could not grade this submission."}}}
	client, _ := newTestClient(api, 3)

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.Len(t, api.requests, 1)

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "I could not grade this submission.", malformed.Raw)
}

func TestAssessHonorsCancellationDuringBackoff(t *testing.T) {
	api := &scriptedAPI{script: []scriptedCall{{err: errors.New("too many requests")}}}
	client, _ := newTestClient(api, 2)
	client.sleep = func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	}

	_, err := client.Assess(context.Background(), TextPrompt{System: "s", User: "u"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, api.requests, 1, "no further attempts after cancellation")
}
