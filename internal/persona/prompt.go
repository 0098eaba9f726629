// Package persona builds the exact message sequence sent to the completion
// capability. Persona injection lives here and only here, so every request
// carries identical safety framing regardless of call site.
package persona

import (
	"fmt"

	"github.com/calmind-app/calmind/internal/openai"
	"github.com/calmind-app/calmind/internal/storage"
)

// DefaultCompanionName is the display name used until the user picks one.
const DefaultCompanionName = "Calmind"

const preambleFormat = `You are %s — kind, warm, quietly humorous.
Respond briefly, like a caring friend.
Use poetic or literary comfort when it helps.
No medical advice. Keep it human.`

// DisplayName returns name, or the default when the user never set one.
func DisplayName(name string) string {
	if name == "" {
		return DefaultCompanionName
	}
	return name
}

// Preamble returns the fixed system instruction, parameterized only by the
// companion's display name.
func Preamble(companionName string) string {
	return fmt.Sprintf(preambleFormat, DisplayName(companionName))
}

// Build maps history into the ordered role/content sequence for one
// completion request: exactly one system entry first, then every history
// message in order. Nothing is truncated, summarized, or reordered.
func Build(companionName string, history []storage.Message) []openai.Message {
	out := make([]openai.Message, 0, len(history)+1)
	out = append(out, openai.Message{Role: openai.RoleSystem, Content: Preamble(companionName)})

	for _, m := range history {
		role := openai.RoleUser
		if m.Sender == storage.SenderCompanion {
			role = openai.RoleAssistant
		}
		out = append(out, openai.Message{Role: role, Content: m.Body})
	}
	return out
}
