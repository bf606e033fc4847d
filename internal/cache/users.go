package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
)

// UserSnapshot contains the user fields needed to hydrate feeds, replies and alerts.
type UserSnapshot struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Active    bool            `json:"active"`
	Banned    bool            `json:"banned"`
	Muted     bool            `json:"muted"`
	Operator  bool            `json:"operator"`
	ReplySort model.ReplySort `json:"reply_sort"`
}

func snapshotOf(u *model.User) *UserSnapshot {
	return &UserSnapshot{
		ID:        u.ID,
		Username:  u.Username,
		Active:    u.Active,
		Banned:    u.Banned,
		Muted:     u.Muted,
		Operator:  u.Operator,
		ReplySort: u.ReplySort,
	}
}

// UserCache is a read-through snapshot cache in front of the user document store.
// Misses are never cached, so a deleted user disappears as soon as its entry is
// invalidated or expires.
type UserCache struct {
	rdb   *redis.Client
	users repository.UserRepository
	ttl   time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	bulkLoads atomic.Int64
}

func NewUserCache(rdb *redis.Client, users repository.UserRepository, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &UserCache{rdb: rdb, users: users, ttl: ttl}
}

// Get returns a single snapshot, or nil when the user does not exist.
func (c *UserCache) Get(ctx context.Context, id string) (*UserSnapshot, error) {
	m, err := c.Load(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return m[id], nil
}

// Load returns snapshots keyed by id; ids that do not resolve are absent.
func (c *UserCache) Load(ctx context.Context, ids []string) (map[string]*UserSnapshot, error) {
	out := make(map[string]*UserSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = repository.UserSnapshotKey(id)
	}
	if vals, err := c.rdb.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var snap UserSnapshot
			if uErr := json.Unmarshal([]byte(str), &snap); uErr == nil {
				out[ids[i]] = &snap
			}
		}
	}

	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	c.hits.Add(int64(len(ids) - len(missing)))
	if len(missing) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missing)))
	c.bulkLoads.Add(1)

	vers, err := c.versions(ctx, missing)
	if err != nil {
		return nil, err
	}
	users, err := c.users.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return out, nil
	}
	snaps := make([]*UserSnapshot, len(users))
	for i, u := range users {
		snaps[i] = snapshotOf(u)
		out[u.ID] = snaps[i]
	}
	c.store(ctx, snaps, vers)
	return out, nil
}

// storeSnapshotScript writes a snapshot only while its version key still
// holds the value read before the document store load.
// KEYS: snapshot, version. ARGV: expected version, payload, ttl ms.
var storeSnapshotScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or ''
if cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// versions reads the snapshot version of each id; absent versions are "".
func (c *UserCache) versions(ctx context.Context, ids []string) (map[string]string, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = repository.UserSnapshotVersionKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ids))
	for i, v := range vals {
		str, _ := v.(string)
		out[ids[i]] = str
	}
	return out, nil
}

// store caches snapshots whose version has not moved since vers was read.
// A concurrent Invalidate bumps the version, so a stale load is dropped.
func (c *UserCache) store(ctx context.Context, snaps []*UserSnapshot, vers map[string]string) {
	pipe := c.rdb.Pipeline()
	for _, snap := range snaps {
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		storeSnapshotScript.Eval(ctx, pipe,
			[]string{repository.UserSnapshotKey(snap.ID), repository.UserSnapshotVersionKey(snap.ID)},
			vers[snap.ID], payload, c.ttl.Milliseconds())
	}
	_, _ = pipe.Exec(ctx)
}

// Invalidate drops cached snapshots after a user is updated or deleted and
// bumps their version so loads already in flight do not write them back.
func (c *UserCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, repository.UserSnapshotKey(id))
			verKey := repository.UserSnapshotVersionKey(id)
			pipe.Incr(ctx, verKey)
			pipe.PExpire(ctx, verKey, 2*c.ttl)
		}
		return nil
	})
	return err
}

// ResetCounters clears recorded hit/miss counters.
func (c *UserCache) ResetCounters() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.bulkLoads.Store(0)
}

// Counters reports cache effectiveness since the last reset.
func (c *UserCache) Counters() Counters {
	return Counters{Hits: c.hits.Load(), Misses: c.misses.Load(), BulkLoads: c.bulkLoads.Load()}
}

// Counters summarises cache hits during a run.
type Counters struct {
	Hits      int64
	Misses    int64
	BulkLoads int64
}
