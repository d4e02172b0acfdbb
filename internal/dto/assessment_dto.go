package dto

import (
	"github.com/markr-app/markr-api/pkg/llm"
)

// AssessmentRequest describes a piece of student work to be assessed.
// StudentResponse may be omitted when the work is supplied as images.
type AssessmentRequest struct {
	TaskType        string       `json:"task_type" validate:"required,oneof=default essay short_answer handwriting"`
	Reference       string       `json:"reference" validate:"required,min=1"`
	Template        string       `json:"template" validate:"omitempty,max=20000"`
	StudentResponse string       `json:"student_response" validate:"required_without=Images"`
	Images          []ImageInput `json:"images" validate:"omitempty,max=8,dive"`
}

// ImageInput attaches one page of student work. Either inline base64 data or
// a remote URI must be present; MimeType is sniffed server-side for inline
// data when omitted.
type ImageInput struct {
	MimeType string `json:"mime_type" validate:"omitempty,max=128"`
	Data     string `json:"data" validate:"omitempty,base64"`
	URI      string `json:"uri" validate:"omitempty,url"`
}

// CriterionResponse serializes one scored criterion.
type CriterionResponse struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// AssessmentResponse is returned to API clients after a completed assessment.
type AssessmentResponse struct {
	Completeness CriterionResponse `json:"completeness"`
	Accuracy     CriterionResponse `json:"accuracy"`
	Spag         CriterionResponse `json:"spag"`
	Model        string            `json:"model,omitempty"`
	Cached       bool              `json:"cached"`
}

// NewAssessmentResponse converts a validated pipeline result into a DTO.
func NewAssessmentResponse(result llm.AssessmentResult, model string) AssessmentResponse {
	return AssessmentResponse{
		Completeness: CriterionResponse(result.Completeness),
		Accuracy:     CriterionResponse(result.Accuracy),
		Spag:         CriterionResponse(result.Spag),
		Model:        model,
	}
}
