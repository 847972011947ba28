package orchestrator

import "github.com/opsdeskhq/opsdesk/services/providers"

// costOrder is the fixed fallback priority: cheapest/most generous free tier
// first, most expensive last.
var costOrder = []providers.ID{
	providers.Groq,
	providers.Gemini,
	providers.Kimi,
	providers.OpenAI,
	providers.Claude,
}

// availability is the slice of the registry the selector needs
type availability interface {
	Available(id providers.ID) bool
}

// FallbackCandidates returns the configured providers to try after failed,
// in fixed cost order. The failed provider and anything without a credential
// are excluded.
func FallbackCandidates(failed providers.ID, reg availability) []providers.ID {
	candidates := make([]providers.ID, 0, len(costOrder)-1)
	for _, id := range costOrder {
		if id == failed {
			continue
		}
		if !reg.Available(id) {
			continue
		}
		candidates = append(candidates, id)
	}
	return candidates
}

// CostEffectiveProvider returns the cheapest configured provider. Batch
// callers use this instead of the operator-selected current provider.
func CostEffectiveProvider(reg availability) (providers.ID, bool) {
	for _, id := range costOrder {
		if reg.Available(id) {
			return id, true
		}
	}
	return "", false
}
