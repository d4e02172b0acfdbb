package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/markr-app/markr-api/internal/dto"
	"github.com/markr-app/markr-api/internal/middleware"
	"github.com/markr-app/markr-api/internal/service"
	"github.com/markr-app/markr-api/internal/utils"
	"github.com/markr-app/markr-api/pkg/llm"
)

// AssessmentHandler exposes the assessment endpoint.
type AssessmentHandler struct {
	service service.AssessmentService
	logger  zerolog.Logger
}

// NewAssessmentHandler constructs the handler.
func NewAssessmentHandler(svc service.AssessmentService, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		service: svc,
		logger:  logger.With().Str("component", "assessment_handler").Logger(),
	}
}

// Register wires the handler's routes into the given router group.
func (h *AssessmentHandler) Register(router fiber.Router) {
	router.Post("/", h.Assess)
}

// Assess accepts a piece of student work and returns the structured result.
func (h *AssessmentHandler) Assess(c *fiber.Ctx) error {
	var payload dto.AssessmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Assess(c.UserContext(), payload, middleware.ClientKeyFingerprint(c))
	if err != nil {
		return h.renderError(c, err)
	}

	return utils.SendSuccess(c, "assessment completed", response)
}

func (h *AssessmentHandler) renderError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make(map[string]string, len(validationErrors))
		for _, fieldError := range validationErrors {
			details[fieldError.Field()] = fieldError.Tag()
		}
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", details)
	}

	if errors.Is(err, service.ErrInvalidImage) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var quota *llm.QuotaExhaustedError
	if errors.As(err, &quota) {
		return utils.SendError(c, fiber.StatusTooManyRequests, quota.Error())
	}

	var schemaErr *llm.SchemaValidationError
	if errors.As(err, &schemaErr) {
		h.logger.Error().Strs("problems", schemaErr.Problems).Msg("model response failed schema validation")
		return utils.SendError(c, fiber.StatusBadGateway, "model returned an invalid assessment")
	}

	var malformed *llm.MalformedResponseError
	if errors.As(err, &malformed) {
		h.logger.Error().Err(err).Msg("model response could not be parsed")
		return utils.SendError(c, fiber.StatusBadGateway, "model returned an unreadable response")
	}

	if llm.Classify(err) == llm.ClassRateLimited {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "model is temporarily unavailable, please retry")
	}

	h.logger.Error().Err(err).Msg("assessment failed")
	return utils.SendError(c, fiber.StatusBadGateway, "assessment failed")
}
