package llm

// Prompt is the normalized payload handed to the assessment pipeline.
// Exactly one of the two concrete shapes is used per call; the adapter
// dispatches on the concrete type.
type Prompt interface {
	prompt()
}

// TextPrompt is a pure text exchange: a system instruction plus the user text.
type TextPrompt struct {
	System string
	User   string
}

// Message carries one textual instruction within a multimodal prompt.
type Message struct {
	Content string
}

// ImageSource attaches one image to a prompt, either as inline base64 data
// or as a remote URI. An image carrying neither is skipped by the adapter.
type ImageSource struct {
	MimeType string
	Data     string
	URI      string
}

// ImagePrompt is a multimodal exchange: the first message supplies the
// textual instruction, followed by the attached images in input order.
type ImagePrompt struct {
	System   string
	Messages []Message
	Images   []ImageSource
}

func (TextPrompt) prompt()  {}
func (ImagePrompt) prompt() {}
