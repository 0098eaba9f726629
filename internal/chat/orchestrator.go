package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/calmind-app/calmind/internal/openai"
	"github.com/calmind-app/calmind/internal/persona"
	"github.com/calmind-app/calmind/internal/storage"
)

// FallbackReply is recorded as the companion's turn whenever the completion
// capability fails. The conversation never shows a broken or empty state;
// the cost is the occasional placeholder reply.
const FallbackReply = "Something went quiet… I'm still here."

// DefaultTypingDelay mirrors the pause a person takes before answering.
const DefaultTypingDelay = 1200 * time.Millisecond

// Completer is the external completion capability.
type Completer interface {
	Complete(ctx context.Context, messages []openai.Message) (string, error)
}

// Orchestrator assembles the persona prompt, dispatches it, and maps any
// provider failure into the user-safe fallback. The typing delay is an
// explicit policy parameter, not a rendering concern.
type Orchestrator struct {
	llm         Completer
	typingDelay time.Duration
}

// NewOrchestrator creates an Orchestrator. A negative typingDelay means
// none; zero selects the default.
func NewOrchestrator(llm Completer, typingDelay time.Duration) *Orchestrator {
	if typingDelay == 0 {
		typingDelay = DefaultTypingDelay
	}
	return &Orchestrator{llm: llm, typingDelay: typingDelay}
}

// Reply produces the companion's next turn for the given history. It never
// returns an error: provider failures are logged for operators and come
// back as FallbackReply. There is no automatic retry; a retry is a new
// user-initiated turn.
func (o *Orchestrator) Reply(ctx context.Context, companionName string, history []storage.Message) string {
	prompt := persona.Build(companionName, history)

	text, err := o.llm.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("completion failed, using fallback reply", "error", err)
		text = FallbackReply
	}

	if o.typingDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(o.typingDelay):
		}
	}

	return text
}
