package ai

import "context"

// Provider sends one prompt as a single user message and returns the text
// of the completion. The credential is chosen per call.
type Provider interface {
	Complete(ctx context.Context, apiKey string, model string, prompt string) (string, error)
}
