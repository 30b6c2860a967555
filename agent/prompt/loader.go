package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/dialog.txt
	dialogRaw string

	//go:embed template/vision.txt
	visionRaw string
)

// PromptSet holds the system prompts of the LLM-backed stages.
type PromptSet struct {
	Dialog string
	Vision string
}

// LoadPromptSet returns the embedded prompts, trimmed. The dialog prompt is
// used as an FString template, so it must not contain braces.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Dialog: strings.TrimSpace(dialogRaw),
		Vision: strings.TrimSpace(visionRaw),
	}
}
