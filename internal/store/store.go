// Package store defines the persistence contracts for the global tool
// cache and the usage quota ledger, plus the shared freshness policy.
//
// All mutual exclusion between concurrent callers is externalized to the
// backing store's atomic read-modify-write primitive; the process holds no
// shared mutable state. Two backends are provided: SQLite (single node)
// and Redis (distributed deployments).
package store

import (
	"context"
	"time"

	"github.com/starford/toolvault/internal/models"
)

// Scope identifies a quota time bucket granularity.
type Scope string

const (
	ScopeMinute Scope = "minute"
	ScopeDay    Scope = "day"
)

// BucketKey returns the counter bucket key for a scope at the given time.
// Buckets are computed in UTC so distributed handlers agree on boundaries.
func BucketKey(scope Scope, now time.Time) string {
	switch scope {
	case ScopeMinute:
		return now.UTC().Format("200601021504")
	default:
		return now.UTC().Format("2006-01-02")
	}
}

// ToolStore is the shared cache of global tool records.
type ToolStore interface {
	// Get returns the record for toolID, or apperr.ErrNotFound.
	Get(ctx context.Context, toolID string) (*models.GlobalTool, error)

	// FindByAlias returns the record whose alias set contains alias,
	// or apperr.ErrNotFound.
	FindByAlias(ctx context.Context, alias string) (*models.GlobalTool, error)

	// TryAcquireLock attempts to take the enrichment lock for toolID,
	// creating a stub record when none exists. It never blocks: it returns
	// false when another caller holds an unexpired lock. An expired lock is
	// reclaimed.
	TryAcquireLock(ctx context.Context, toolID string) (bool, error)

	// Commit atomically merges the enriched record: existing aliases are
	// unioned with tool.Aliases (the alias set only ever grows) and the
	// lock is released. The caller stamps status, enrichedAt, and
	// enrichVersion before committing.
	Commit(ctx context.Context, tool *models.GlobalTool) error

	// AddAliases atomically adds aliases to an existing record without
	// touching its enriched fields or freshness metadata.
	AddAliases(ctx context.Context, toolID string, aliases []string) error

	Close() error
}

// QuotaLedger enforces per-caller ceilings on the expensive enrichment
// path via atomic increment-with-ceiling counters.
type QuotaLedger interface {
	// Admit increments the caller's counter for the current bucket unless
	// the ceiling is already reached. Under concurrent admits for the same
	// bucket the ceiling is never exceeded.
	Admit(ctx context.Context, callerID string, scope Scope) (bool, error)
}

// Options configures store behavior shared by both backends.
type Options struct {
	// LockTTL bounds how long an enrichment lock is honored before it is
	// considered abandoned.
	LockTTL time.Duration

	// MinuteLimit and DayLimit are the quota ceilings per caller.
	MinuteLimit int
	DayLimit    int

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) fill() {
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.MinuteLimit <= 0 {
		o.MinuteLimit = 4
	}
	if o.DayLimit <= 0 {
		o.DayLimit = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) limit(scope Scope) int {
	if scope == ScopeMinute {
		return o.MinuteLimit
	}
	return o.DayLimit
}

// bucketTTLSeconds is how long a counter key is kept around before the
// backend may drop it. Old buckets are never read again, so this only
// bounds storage growth.
func bucketTTLSeconds(scope Scope) int {
	if scope == ScopeMinute {
		return 120
	}
	return 2 * 86400
}

// Fresh reports whether a cached record can be served without
// re-enrichment: it must be ready, carry the current schema version, and
// have been enriched within staleAfter. Anything else is a read miss,
// though its aliases and lock state still matter for write coordination.
func Fresh(t *models.GlobalTool, version int, staleAfter time.Duration, now time.Time) bool {
	if t == nil || t.Status != models.StatusReady {
		return false
	}
	if t.EnrichVersion != version {
		return false
	}
	if t.EnrichedAt.IsZero() {
		return false
	}
	return now.Sub(t.EnrichedAt) < staleAfter
}
