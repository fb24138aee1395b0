// Package extraction runs LLM-backed knowledge extraction over CoT items:
// prompt a completion service for entities and relations, validate what
// comes back, and persist it with natural-key deduplication.
package extraction

import "context"

// Completer is the text-completion service the pipeline prompts. The
// service is treated as an unreliable, rate-limited black box; callers
// must tolerate non-JSON and truncated responses.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error)
}
