package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/models"
)

const (
	toolKeyPrefix  = "tool:"
	aliasKeyPrefix = "alias:"
	quotaKeyPrefix = "quota:"

	// casAttempts bounds optimistic-transaction retries before a
	// contended lock acquisition is reported as held.
	casAttempts = 3
)

// errLockHeld aborts a watch transaction when another caller holds the lock.
var errLockHeld = errors.New("lock held")

// admitScript is the atomic increment-with-ceiling. Returning before the
// INCR means a denied admit never touches the counter.
var admitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return 0
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// Redis is the distributed store backend. Tool records are JSON documents
// under one key each; WATCH-based transactions give the per-document
// atomic read-modify-write, and quota counters use a Lua script.
type Redis struct {
	client *redis.Client
	opts   Options
}

var _ ToolStore = (*Redis)(nil)
var _ QuotaLedger = (*Redis)(nil)

// NewRedis connects to the Redis instance at url (redis://host:port form).
func NewRedis(url string, opts Options) (*Redis, error) {
	opts.fill()
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: connect redis: %w", err)
	}
	return &Redis{client: client, opts: opts}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Get returns the record for toolID, or apperr.ErrNotFound.
func (r *Redis) Get(ctx context.Context, toolID string) (*models.GlobalTool, error) {
	data, err := r.client.Get(ctx, toolKeyPrefix+toolID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tool: %w", err)
	}
	var tool models.GlobalTool
	if err := json.Unmarshal([]byte(data), &tool); err != nil {
		return nil, fmt.Errorf("store: decode tool doc: %w", err)
	}
	return &tool, nil
}

// FindByAlias resolves alias through the alias index, or apperr.ErrNotFound.
func (r *Redis) FindByAlias(ctx context.Context, alias string) (*models.GlobalTool, error) {
	toolID, err := r.client.Get(ctx, aliasKeyPrefix+alias).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve alias: %w", err)
	}
	return r.Get(ctx, toolID)
}

// TryAcquireLock takes the enrichment lock via a WATCH transaction on the
// tool document. It fails fast when the lock is held and reclaims expired
// locks. Persistent CAS contention is reported as held rather than
// retried indefinitely.
func (r *Redis) TryAcquireLock(ctx context.Context, toolID string) (bool, error) {
	key := toolKeyPrefix + toolID

	for i := 0; i < casAttempts; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			now := r.opts.Now()
			tool := models.GlobalTool{ToolID: toolID}

			data, err := tx.Get(ctx, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				// First attempt for this identity: create the stub below.
			case err != nil:
				return err
			default:
				if err := json.Unmarshal([]byte(data), &tool); err != nil {
					return err
				}
				if tool.LockHeld(now) {
					return errLockHeld
				}
			}

			tool.ToolID = toolID
			tool.Status = models.StatusEnriching
			tool.LockExpiresAt = now.Add(r.opts.LockTTL)

			payload, err := json.Marshal(&tool)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errLockHeld):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, fmt.Errorf("store: acquire lock: %w", err)
		}
	}
	return false, nil
}

// Commit merges the enriched record, unions aliases with the existing
// document, updates the alias index, and releases the lock.
func (r *Redis) Commit(ctx context.Context, tool *models.GlobalTool) error {
	key := toolKeyPrefix + tool.ToolID

	for i := 0; i < casAttempts; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			merged := *tool
			merged.LockExpiresAt = time.Time{}

			data, err := tx.Get(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var existing models.GlobalTool
				if err := json.Unmarshal([]byte(data), &existing); err != nil {
					return err
				}
				merged.Aliases = unionAliases(existing.Aliases, tool.Aliases)
			}

			payload, err := json.Marshal(&merged)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				for _, alias := range merged.Aliases {
					pipe.Set(ctx, aliasKeyPrefix+alias, merged.ToolID, 0)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("store: commit tool: %w", err)
		}
		return nil
	}
	return fmt.Errorf("store: commit tool %s: transaction contention", tool.ToolID)
}

// AddAliases records additional aliases for an existing tool without
// touching its enriched fields.
func (r *Redis) AddAliases(ctx context.Context, toolID string, aliases []string) error {
	key := toolKeyPrefix + toolID

	for i := 0; i < casAttempts; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				return apperr.ErrNotFound
			}
			if err != nil {
				return err
			}
			var tool models.GlobalTool
			if err := json.Unmarshal([]byte(data), &tool); err != nil {
				return err
			}
			tool.Aliases = unionAliases(tool.Aliases, aliases)

			payload, err := json.Marshal(&tool)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				for _, alias := range tool.Aliases {
					pipe.Set(ctx, aliasKeyPrefix+alias, toolID, 0)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: add aliases: %w", err)
		}
		return nil
	}
	return fmt.Errorf("store: add aliases %s: transaction contention", toolID)
}

// Admit runs the atomic increment-with-ceiling script for the caller's
// current bucket.
func (r *Redis) Admit(ctx context.Context, callerID string, scope Scope) (bool, error) {
	now := r.opts.Now()
	key := quotaKeyPrefix + callerID + ":" + BucketKey(scope, now)

	res, err := admitScript.Run(ctx, r.client, []string{key},
		r.opts.limit(scope), bucketTTLSeconds(scope)).Int()
	if err != nil {
		return false, fmt.Errorf("store: admit: %w", err)
	}
	return res == 1, nil
}

func unionAliases(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, set := range [][]string{existing, added} {
		for _, a := range set {
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
