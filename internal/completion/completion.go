// Package completion runs a metered prompt through the provider and folds
// every outcome into a Result.
package completion

import (
	"context"
	"errors"
	"time"

	"github.com/kiliankoe/promptgate/internal/ai"
	"github.com/kiliankoe/promptgate/internal/prompt"
	"github.com/kiliankoe/promptgate/internal/usage"
	"github.com/rs/zerolog/log"
)

// NeedsKeyMessage is returned once the free quota is used up.
const NeedsKeyMessage = "Please add your own API key to continue using the service."

const DefaultModel = "gpt-4"

// Result is what callers get back for every completion, success or not.
type Result struct {
	Response    string `json:"response"`
	Success     bool   `json:"success"`
	NeedsAPIKey bool   `json:"needs_api_key,omitempty"`
}

type Service struct {
	gate     *usage.Gate
	resolver *usage.Resolver
	provider ai.Provider
	model    string
}

func New(gate *usage.Gate, resolver *usage.Resolver, provider ai.Provider, model string) (*Service, error) {
	if gate == nil || resolver == nil || provider == nil {
		return nil, errors.New("completion service requires gate, resolver, and provider")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Service{gate: gate, resolver: resolver, provider: provider, model: model}, nil
}

func (s *Service) Model() string { return s.model }

// Call gates, composes and invokes. Sources are inlined only when their
// name appears in user.
func (s *Service) Call(ctx context.Context, system, user string, sources prompt.Sources) Result {
	grant, ok := s.gate.Acquire()
	if !ok {
		log.Info().Int("count", grant.Count).Msg("free quota exhausted")
		return Result{Response: NeedsKeyMessage, Success: false, NeedsAPIKey: true}
	}
	key := s.resolver.Resolve(grant)
	return s.Invoke(ctx, key, prompt.Compose(system, user, sources))
}

// CallWithSource answers user strictly from content.
func (s *Service) CallWithSource(ctx context.Context, system, user, content string) Result {
	return s.Call(ctx, prompt.WithSource(system, content), user, nil)
}

// Invoke sends final to the provider once. Errors come back in the
// Response field with Success false.
func (s *Service) Invoke(ctx context.Context, apiKey, final string) Result {
	start := time.Now()
	text, err := s.provider.Complete(ctx, apiKey, s.model, final)
	dur := time.Since(start)
	if err != nil {
		log.Warn().Err(err).Str("model", s.model).Str("key", usage.MaskKey(apiKey)).Dur("dur", dur).Msg("completion failed")
		return Result{Response: err.Error(), Success: false}
	}
	log.Info().Str("model", s.model).Int("prompt_len", len(final)).Int("response_len", len(text)).Dur("dur", dur).Msg("completion")
	return Result{Response: text, Success: true}
}
