// Package models defines the shared domain types for the global tool cache.
package models

import "time"

// EnrichVersion is the current enrichment schema version. Bump it whenever
// the provider prompt or response schema changes so that previously cached
// records are treated as stale and re-enriched.
const EnrichVersion = 1

// Status is the lifecycle state of a global tool record.
type Status string

const (
	StatusReady     Status = "ready"
	StatusEnriching Status = "enriching"
	StatusError     Status = "error"
)

// PricingBucket is the closed pricing classification set.
type PricingBucket string

const (
	PricingFree       PricingBucket = "Free"
	PricingFreemium   PricingBucket = "Freemium"
	PricingPaid       PricingBucket = "Paid"
	PricingEnterprise PricingBucket = "Enterprise"
	PricingUnknown    PricingBucket = "Unknown"
)

// ParsePricingBucket maps a raw string to a PricingBucket, falling back to
// PricingUnknown for anything outside the closed set.
func ParsePricingBucket(s string) PricingBucket {
	switch PricingBucket(s) {
	case PricingFree, PricingFreemium, PricingPaid, PricingEnterprise, PricingUnknown:
		return PricingBucket(s)
	default:
		return PricingUnknown
	}
}

// DefaultCategories is the fallback category hint set offered to the
// provider when the caller supplies none. "Other" must stay last: the
// provider is instructed to use it when nothing else fits.
var DefaultCategories = []string{
	"Automation",
	"AI",
	"CRM",
	"Design",
	"Email",
	"Analytics",
	"Development",
	"Other",
}

// EnrichedFields is the structured output of one provider enrichment.
type EnrichedFields struct {
	Name          string        `json:"name"`
	Summary       string        `json:"summary"`
	BestUseCases  []string      `json:"bestUseCases"`
	Category      string        `json:"category"`
	Tags          []string      `json:"tags"`
	Integrations  []string      `json:"integrations"`
	PricingBucket PricingBucket `json:"pricingBucket"`
	PricingNotes  string        `json:"pricingNotes"`
	WhatItDoes    string        `json:"whatItDoes,omitempty"`
	LogoURL       string        `json:"logoUrl,omitempty"`
	WebsiteURL    string        `json:"websiteUrl,omitempty"`
}

// GlobalTool is the shared cache record for one canonical tool identity.
// It is keyed by ToolID and mutated only through the store's atomic
// operations; all callers observe the same record.
type GlobalTool struct {
	ToolID        string `json:"toolId"`
	CanonicalURL  string `json:"canonicalUrl,omitempty"`
	NormalizedURL string `json:"normalizedUrl,omitempty"`
	RootDomain    string `json:"rootDomain,omitempty"`

	EnrichedFields

	Status        Status    `json:"status"`
	EnrichedAt    time.Time `json:"enrichedAt"`
	EnrichVersion int       `json:"enrichVersion"`
	Aliases       []string  `json:"aliases,omitempty"`
	LockExpiresAt time.Time `json:"lockExpiresAt"`
}

// LockHeld reports whether the enrichment lock is currently held. A record
// in the enriching state whose lock has expired is considered abandoned and
// reclaimable.
func (t *GlobalTool) LockHeld(now time.Time) bool {
	return t.Status == StatusEnriching && !t.LockExpiresAt.IsZero() && now.Before(t.LockExpiresAt)
}

// HasAlias reports whether alias is already in the record's alias set.
func (t *GlobalTool) HasAlias(alias string) bool {
	for _, a := range t.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}
