package prompt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markr-app/markr-api/internal/dto"
	"github.com/markr-app/markr-api/pkg/llm"
)

func TestBuildTextPrompt(t *testing.T) {
	p := Build(dto.AssessmentRequest{
		TaskType:        "essay",
		Reference:       "Photosynthesis converts light into chemical energy.",
		Template:        "Award marks for mentioning chlorophyll.",
		StudentResponse: "Plants use sunlight to make food.",
	})

	text, ok := p.(llm.TextPrompt)
	require.True(t, ok)
	require.Contains(t, text.System, "essay")
	require.Contains(t, text.User, "# Reference Answer")
	require.Contains(t, text.User, "## Mark Scheme")
	require.Contains(t, text.User, "Plants use sunlight to make food.")
}

func TestBuildImagePrompt(t *testing.T) {
	p := Build(dto.AssessmentRequest{
		TaskType:  "handwriting",
		Reference: "ref",
		Images: []dto.ImageInput{
			{MimeType: "image/png", Data: "AAAA"},
			{MimeType: "image/jpeg", URI: "https://images.test/p2.jpg"},
		},
	})

	image, ok := p.(llm.ImagePrompt)
	require.True(t, ok)
	require.Len(t, image.Messages, 1)
	require.Contains(t, image.Messages[0].Content, "(supplied as attached images)")
	require.Len(t, image.Images, 2)
	require.Equal(t, "AAAA", image.Images[0].Data)
	require.Equal(t, "https://images.test/p2.jpg", image.Images[1].URI)
}

func TestSystemInstructionFallsBackForUnknownTask(t *testing.T) {
	require.Equal(t, SystemInstruction("default"), SystemInstruction("something-else"))
	require.Contains(t, SystemInstruction("short_answer"), "brevity")
}

func TestUserTextOmitsEmptyMarkScheme(t *testing.T) {
	text := UserText(dto.AssessmentRequest{Reference: "ref", StudentResponse: "answer"})
	require.NotContains(t, text, "Mark Scheme")
}
