// Package enrich implements the enrichment orchestrator: it resolves raw
// input to a canonical tool identity, consults the shared cache, and
// coordinates lock acquisition, quota admission, and provider calls for
// cache misses.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/identity"
	"github.com/starford/toolvault/internal/models"
	"github.com/starford/toolvault/internal/provider"
	"github.com/starford/toolvault/internal/store"
)

// Config tunes orchestrator policy.
type Config struct {
	// StaleAfter is the cache freshness window. Defaults to 30 days.
	StaleAfter time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Notify, when set, is called after a record changes (kinds:
	// "enriched", "aliased"). Used to feed the SSE broker.
	Notify func(kind, toolID string)
}

// Request is one enrichment request from an authenticated caller.
type Request struct {
	Input          string
	CategoryHints  []string
	CallerID       string
	CallerVerified bool
}

// Service coordinates the cache store, quota ledger, and AI provider.
// It holds no mutable state of its own: all coordination between
// concurrent callers happens through the store's atomic operations.
type Service struct {
	tools      store.ToolStore
	quota      store.QuotaLedger
	ai         provider.Enricher
	staleAfter time.Duration
	now        func() time.Time
	notify     func(kind, toolID string)
}

// NewService creates the orchestrator.
func NewService(tools store.ToolStore, quota store.QuotaLedger, ai provider.Enricher, cfg Config) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		tools:      tools,
		quota:      quota,
		ai:         ai,
		staleAfter: cfg.StaleAfter,
		now:        cfg.Now,
		notify:     cfg.Notify,
	}
}

// Enrich resolves input to a global tool record, serving fresh cached
// records without touching the provider and coordinating enrichment for
// misses. Quota is only consumed on the provider path: cache hits are free.
func (s *Service) Enrich(ctx context.Context, req Request) (*models.GlobalTool, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, fmt.Errorf("%w: input is required", apperr.ErrInvalidInput)
	}
	if req.CallerID == "" {
		return nil, fmt.Errorf("%w: caller id is required", apperr.ErrUnauthenticated)
	}

	if identity.LooksLikeURL(input) {
		return s.enrichURL(ctx, req, input)
	}
	return s.enrichText(ctx, req, input)
}

// Get returns a cached record by id regardless of freshness (display path).
func (s *Service) Get(ctx context.Context, toolID string) (*models.GlobalTool, error) {
	if toolID == "" {
		return nil, fmt.Errorf("%w: tool id is required", apperr.ErrInvalidInput)
	}
	return s.tools.Get(ctx, toolID)
}

// Lookup resolves input against the cache only: no lock, no quota, no
// provider call. Used by read-only surfaces.
func (s *Service) Lookup(ctx context.Context, input string) (*models.GlobalTool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: input is required", apperr.ErrInvalidInput)
	}
	if identity.LooksLikeURL(input) {
		canonical, err := identity.NormalizeURL(input)
		if err != nil {
			return nil, err
		}
		root, err := identity.RootDomainOf(canonical)
		if err != nil {
			return nil, err
		}
		return s.tools.Get(ctx, identity.ToolIDFromDomain(root))
	}
	return s.tools.FindByAlias(ctx, identity.NormalizeTextAlias(input))
}

// enrichURL is the URL path of the state machine: identity is known up
// front, so the lock is taken before any quota or provider spend.
func (s *Service) enrichURL(ctx context.Context, req Request, input string) (*models.GlobalTool, error) {
	canonical, err := identity.NormalizeURL(input)
	if err != nil {
		return nil, err
	}
	root, err := identity.RootDomainOf(canonical)
	if err != nil {
		return nil, err
	}
	toolID := identity.ToolIDFromDomain(root)

	cached, err := s.tools.Get(ctx, toolID)
	if err == nil && store.Fresh(cached, models.EnrichVersion, s.staleAfter, s.now()) {
		return cached, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if !req.CallerVerified {
		return nil, fmt.Errorf("%w: enrichment requires a verified caller", apperr.ErrUnauthenticated)
	}

	acquired, err := s.tools.TryAcquireLock(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperr.ErrConflict
	}

	// From here on, failures leave the lock to expire via its TTL: the
	// short TTL bounds the cost and avoids releasing a lock whose
	// protected work may still be in flight.
	if err := s.admit(ctx, req.CallerID); err != nil {
		return nil, err
	}

	fields, err := s.ai.Enrich(ctx, input, s.hints(req))
	if err != nil {
		return nil, err
	}

	tool := s.buildRecord(toolID, canonical, root, fields)
	tool.Aliases = derivedAliases(root, canonical, fields.Name)
	if err := s.tools.Commit(ctx, tool); err != nil {
		return nil, err
	}
	s.emit("enriched", toolID)
	slog.Info("tool enriched", slog.String("tool_id", toolID), slog.String("root_domain", root))

	return s.tools.Get(ctx, toolID)
}

// enrichText is the text path: the canonical identity is only known after
// the provider names an official website, so quota is spent before any
// lock can be taken. Two concurrent callers entering different text for
// the same tool may therefore both reach the provider; this mirrors the
// deliberate simplification of the alias flow.
func (s *Service) enrichText(ctx context.Context, req Request, input string) (*models.GlobalTool, error) {
	alias := identity.NormalizeTextAlias(input)
	if alias == "" {
		return nil, fmt.Errorf("%w: input is required", apperr.ErrInvalidInput)
	}

	cached, err := s.tools.FindByAlias(ctx, alias)
	if err == nil && store.Fresh(cached, models.EnrichVersion, s.staleAfter, s.now()) {
		return cached, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if !req.CallerVerified {
		return nil, fmt.Errorf("%w: enrichment requires a verified caller", apperr.ErrUnauthenticated)
	}

	if err := s.admit(ctx, req.CallerID); err != nil {
		return nil, err
	}

	fields, err := s.ai.Enrich(ctx, input, s.hints(req))
	if err != nil {
		return nil, err
	}
	website := strings.TrimSpace(fields.WebsiteURL)
	if website == "" {
		return nil, fmt.Errorf("%w: provider found no official website for %q", apperr.ErrUnresolvedIdentity, input)
	}

	canonical, err := identity.NormalizeURL(website)
	if err != nil {
		return nil, fmt.Errorf("%w: provider website %q is not a usable url", apperr.ErrUnresolvedIdentity, website)
	}
	root, err := identity.RootDomainOf(canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: provider website %q is not a usable url", apperr.ErrUnresolvedIdentity, website)
	}
	toolID := identity.ToolIDFromDomain(root)

	existing, err := s.tools.Get(ctx, toolID)
	if err == nil && store.Fresh(existing, models.EnrichVersion, s.staleAfter, s.now()) {
		// Another caller's URL-based enrichment already covers this tool;
		// remember the alias so future text lookups hit directly.
		if !existing.HasAlias(alias) {
			if err := s.tools.AddAliases(ctx, toolID, []string{alias}); err != nil {
				return nil, err
			}
			s.emit("aliased", toolID)
		}
		return s.tools.Get(ctx, toolID)
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	tool := s.buildRecord(toolID, canonical, root, fields)
	tool.Aliases = append([]string{alias}, derivedAliases(root, canonical, fields.Name)...)
	if err := s.tools.Commit(ctx, tool); err != nil {
		return nil, err
	}
	s.emit("enriched", toolID)
	slog.Info("tool enriched from alias",
		slog.String("tool_id", toolID),
		slog.String("alias", alias),
		slog.String("root_domain", root))

	return s.tools.Get(ctx, toolID)
}

// admit consumes quota for one provider call, minute bucket first. The
// orchestrator never retries internally: a denial is surfaced with its
// backoff so retrying stays a caller-side decision.
func (s *Service) admit(ctx context.Context, callerID string) error {
	ok, err := s.quota.Admit(ctx, callerID, store.ScopeMinute)
	if err != nil {
		return fmt.Errorf("quota admit: %w", err)
	}
	if !ok {
		return &apperr.RateLimitError{Scope: string(store.ScopeMinute), RetryAfter: time.Minute}
	}
	ok, err = s.quota.Admit(ctx, callerID, store.ScopeDay)
	if err != nil {
		return fmt.Errorf("quota admit: %w", err)
	}
	if !ok {
		return &apperr.RateLimitError{Scope: string(store.ScopeDay), RetryAfter: 24 * time.Hour}
	}
	return nil
}

func (s *Service) hints(req Request) []string {
	if len(req.CategoryHints) > 0 {
		return req.CategoryHints
	}
	return models.DefaultCategories
}

func (s *Service) buildRecord(toolID, canonical, root string, fields *models.EnrichedFields) *models.GlobalTool {
	tool := &models.GlobalTool{
		ToolID:         toolID,
		CanonicalURL:   canonical,
		NormalizedURL:  canonical,
		RootDomain:     root,
		EnrichedFields: *fields,
		Status:         models.StatusReady,
		EnrichedAt:     s.now(),
		EnrichVersion:  models.EnrichVersion,
	}
	if tool.WebsiteURL == "" {
		tool.WebsiteURL = canonical
	}
	return tool
}

func (s *Service) emit(kind, toolID string) {
	if s.notify != nil {
		s.notify(kind, toolID)
	}
}

// derivedAliases are the alias strings every committed record gets so that
// later text lookups resolve without a provider call: the root domain, its
// www. form, the canonical URL, and the normalized tool name.
func derivedAliases(root, canonical, name string) []string {
	aliases := []string{root, "www." + root, canonical}
	if n := identity.NormalizeTextAlias(name); n != "" {
		aliases = append(aliases, n)
	}
	return aliases
}
