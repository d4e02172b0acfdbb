package prompt

import (
	"strings"

	"github.com/markr-app/markr-api/internal/dto"
	"github.com/markr-app/markr-api/pkg/llm"
)

const baseInstruction = `You are an experienced teacher marking student work against a reference answer.
Assess the student's response on three criteria:
- completeness: how fully the response covers the reference answer
- accuracy: how factually correct the response is against the reference
- spag: spelling, punctuation and grammar

Respond with a single JSON object of exactly this shape:
{"completeness":{"score":N,"reasoning":"..."},"accuracy":{"score":N,"reasoning":"..."},"spag":{"score":N,"reasoning":"..."}}
where each score is an integer from 1 (poor) to 5 (excellent).
Return JSON only, with no markdown fences or commentary.`

var taskGuidance = map[string]string{
	"essay":        "The work is an essay. Weigh structure and argument development in your completeness reasoning.",
	"short_answer": "The work is a short answer. Do not penalise brevity when the key points are present.",
	"handwriting":  "The work is handwritten and supplied as images. Transcribe what you can read before assessing; note illegible sections in your reasoning rather than guessing.",
}

// SystemInstruction returns the marking persona for the given task type.
func SystemInstruction(taskType string) string {
	guidance, ok := taskGuidance[taskType]
	if !ok {
		return baseInstruction
	}
	return baseInstruction + "\n\n" + guidance
}

// UserText composes the user-facing portion of the prompt from the reference
// answer, optional mark scheme, and the student's response.
func UserText(req dto.AssessmentRequest) string {
	builder := strings.Builder{}
	builder.WriteString("# Reference Answer\n")
	builder.WriteString(req.Reference)
	if req.Template != "" {
		builder.WriteString("\n\n## Mark Scheme\n")
		builder.WriteString(req.Template)
	}
	builder.WriteString("\n\n## Student Response\n")
	if req.StudentResponse != "" {
		builder.WriteString(req.StudentResponse)
	} else {
		builder.WriteString("(supplied as attached images)")
	}
	return builder.String()
}

// Build converts a validated assessment request into the normalized prompt
// consumed by the LLM pipeline: a text prompt when no images are attached, a
// multimodal prompt otherwise.
func Build(req dto.AssessmentRequest) llm.Prompt {
	system := SystemInstruction(req.TaskType)
	user := UserText(req)

	if len(req.Images) == 0 {
		return llm.TextPrompt{System: system, User: user}
	}

	images := make([]llm.ImageSource, 0, len(req.Images))
	for _, image := range req.Images {
		images = append(images, llm.ImageSource{
			MimeType: image.MimeType,
			Data:     image.Data,
			URI:      image.URI,
		})
	}

	return llm.ImagePrompt{
		System:   system,
		Messages: []llm.Message{{Content: user}},
		Images:   images,
	}
}
