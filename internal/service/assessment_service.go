package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/markr-app/markr-api/internal/dto"
	"github.com/markr-app/markr-api/internal/models"
	"github.com/markr-app/markr-api/internal/prompt"
	"github.com/markr-app/markr-api/internal/repository"
	"github.com/markr-app/markr-api/pkg/llm"
)

// ErrInvalidImage indicates an inline image attachment could not be decoded
// or is not an image.
var ErrInvalidImage = errors.New("image attachment is not a decodable image")

// Assessor abstracts the LLM pipeline consumed by the service.
type Assessor interface {
	SelectModel(p llm.Prompt) string
	Assess(ctx context.Context, p llm.Prompt) (llm.AssessmentResult, error)
}

// AssessmentService runs the full assessment flow for one request: validate,
// sanitize, cache lookup, LLM pipeline, audit log, event publication.
type AssessmentService interface {
	Assess(ctx context.Context, payload dto.AssessmentRequest, clientKey string) (dto.AssessmentResponse, error)
}

type assessmentService struct {
	assessor  Assessor
	records   repository.AssessmentRecordRepository
	cache     *redis.Client
	cacheTTL  time.Duration
	events    EventPublisher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAssessmentService constructs the assessment service. The records
// repository, cache client, and event publisher are optional; the service
// degrades to direct pipeline calls when they are nil.
func NewAssessmentService(
	assessor Assessor,
	records repository.AssessmentRecordRepository,
	cache *redis.Client,
	cacheTTL time.Duration,
	events EventPublisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) AssessmentService {
	return &assessmentService{
		assessor:  assessor,
		records:   records,
		cache:     cache,
		cacheTTL:  cacheTTL,
		events:    events,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "assessment_service").Logger(),
		tracer:    otel.Tracer("github.com/markr-app/markr-api/internal/service/assessment"),
		now:       time.Now,
	}
}

func (s *assessmentService) Assess(ctx context.Context, payload dto.AssessmentRequest, clientKey string) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessment.assess", trace.WithAttributes(
		attribute.String("assessment.task_type", payload.TaskType),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssessmentResponse{}, err
	}

	payload.Reference = s.sanitizeText(payload.Reference)
	payload.Template = s.sanitizeText(payload.Template)
	payload.StudentResponse = s.sanitizeText(payload.StudentResponse)

	normalized, err := s.normalizeImages(payload.Images)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_image")
		return dto.AssessmentResponse{}, err
	}
	payload.Images = normalized

	hash, err := requestHash(payload)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	cacheKey := fmt.Sprintf("assessment:%s", hash)

	if cached, ok := s.cacheGet(ctx, cacheKey); ok {
		span.SetAttributes(attribute.Bool("assessment.cache_hit", true))
		return cached, nil
	}

	p := prompt.Build(payload)
	model := s.assessor.SelectModel(p)

	start := s.now()
	result, err := s.assessor.Assess(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline_failed")
		return dto.AssessmentResponse{}, err
	}
	duration := s.now().Sub(start)

	response := dto.NewAssessmentResponse(result, model)

	s.recordAssessment(ctx, hash, payload.TaskType, clientKey, model, result, duration)
	s.publishCompleted(ctx, hash, payload.TaskType, model, result)
	s.cacheSet(ctx, cacheKey, response)

	return response, nil
}

func (s *assessmentService) sanitizeText(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}

// normalizeImages decodes inline attachments and replaces the declared MIME
// type with the sniffed one. Images with neither data nor URI are kept here
// and skipped later by the pipeline adapter.
func (s *assessmentService) normalizeImages(images []dto.ImageInput) ([]dto.ImageInput, error) {
	if len(images) == 0 {
		return images, nil
	}

	normalized := make([]dto.ImageInput, 0, len(images))
	for i, image := range images {
		if image.Data != "" {
			decoded, err := base64.StdEncoding.DecodeString(image.Data)
			if err != nil {
				return nil, fmt.Errorf("image %d: %w", i, ErrInvalidImage)
			}

			detected := mimetype.Detect(decoded)
			if !strings.HasPrefix(detected.String(), "image/") {
				return nil, fmt.Errorf("image %d is %s: %w", i, detected.String(), ErrInvalidImage)
			}
			image.MimeType = detected.String()
		} else if image.URI == "" {
			s.logger.Debug().Int("index", i).Msg("image carries neither data nor uri")
		}

		normalized = append(normalized, image)
	}

	return normalized, nil
}

// requestHash fingerprints the normalized request for caching and auditing.
func requestHash(payload dto.AssessmentRequest) (string, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint request: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (s *assessmentService) cacheGet(ctx context.Context, key string) (dto.AssessmentResponse, bool) {
	if s.cache == nil {
		return dto.AssessmentResponse{}, false
	}

	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read assessment cache")
		}
		return dto.AssessmentResponse{}, false
	}

	var response dto.AssessmentResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return dto.AssessmentResponse{}, false
	}

	response.Cached = true
	return response, true
}

func (s *assessmentService) cacheSet(ctx context.Context, key string, response dto.AssessmentResponse) {
	if s.cache == nil {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return
	}

	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store assessment cache")
	}
}

func (s *assessmentService) recordAssessment(ctx context.Context, hash, taskType, clientKey, model string, result llm.AssessmentResult, duration time.Duration) {
	if s.records == nil {
		return
	}

	record := models.AssessmentRecord{
		RequestHash:       hash,
		TaskType:          taskType,
		ClientKey:         clientKey,
		Model:             model,
		CompletenessScore: result.Completeness.Score,
		AccuracyScore:     result.Accuracy.Score,
		SpagScore:         result.Spag.Score,
		Result:            resultMap(result),
		DurationMs:        duration.Milliseconds(),
	}

	if err := s.records.Create(ctx, &record); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist assessment record")
	}
}

func (s *assessmentService) publishCompleted(ctx context.Context, hash, taskType, model string, result llm.AssessmentResult) {
	if s.events == nil {
		return
	}

	event := AssessmentCompletedEvent{
		ID:          uuid.NewString(),
		RequestHash: hash,
		TaskType:    taskType,
		Model:       model,
		Scores: map[string]int{
			"completeness": result.Completeness.Score,
			"accuracy":     result.Accuracy.Score,
			"spag":         result.Spag.Score,
		},
		OccurredAt: s.now().UTC(),
	}

	if err := s.events.AssessmentCompleted(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish assessment completed event")
	}
}

func resultMap(result llm.AssessmentResult) datatypes.JSONMap {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}

	var out datatypes.JSONMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
