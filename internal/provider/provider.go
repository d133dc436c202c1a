// Package provider wraps the external AI enrichment collaborator.
//
// The orchestrator treats enrichment as an opaque call that is slow,
// externally rate-limited, and occasionally returns unusable data; all
// provider failures wrap apperr.ErrProvider so the caller can distinguish
// them from cache and quota errors.
package provider

import (
	"context"

	"github.com/starford/toolvault/internal/models"
)

// Enricher produces structured tool metadata for a raw user input.
type Enricher interface {
	// Enrich analyzes input (a URL or free-text tool name) and returns
	// structured fields. categories is the closed set the provider must
	// choose from.
	Enrich(ctx context.Context, input string, categories []string) (*models.EnrichedFields, error)
}
