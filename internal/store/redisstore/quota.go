package redisstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/ugc-platform/internal/ai"
)

const quotaKeyPrefix = "quota:"

// QuotaStore shares provider quota state between API and worker processes.
// Each exhausted provider is one key holding the reset time; the key TTL
// equals the cooldown so stale entries disappear on their own.
type QuotaStore struct {
	store    *Store
	cooldown time.Duration
	now      func() time.Time
}

func NewQuotaStore(store *Store, cooldown time.Duration) *QuotaStore {
	if cooldown <= 0 {
		cooldown = ai.DefaultQuotaCooldown
	}
	return &QuotaStore{store: store, cooldown: cooldown, now: time.Now}
}

func quotaKey(provider string) string { return quotaKeyPrefix + provider }

func (q *QuotaStore) resetTime(ctx context.Context, provider string) (time.Time, bool, error) {
	v, err := q.store.rdb.Get(ctx, quotaKey(provider)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// unreadable entry, drop it
		_ = q.store.rdb.Del(ctx, quotaKey(provider)).Err()
		return time.Time{}, false, nil
	}
	reset := time.Unix(sec, 0)
	if q.now().After(reset) {
		_ = q.store.rdb.Del(ctx, quotaKey(provider)).Err()
		return time.Time{}, false, nil
	}
	return reset, true, nil
}

func (q *QuotaStore) Exhausted(ctx context.Context, provider string) (bool, error) {
	_, ok, err := q.resetTime(ctx, provider)
	return ok, err
}

func (q *QuotaStore) MarkExhausted(ctx context.Context, provider string, retryAfter time.Duration) (time.Time, error) {
	ttl := ai.Cooldown(q.cooldown, retryAfter)
	reset := q.now().Add(ttl)
	err := q.store.rdb.Set(ctx, quotaKey(provider), strconv.FormatInt(reset.Unix(), 10), ttl).Err()
	return reset, err
}

func (q *QuotaStore) Status(ctx context.Context, providers []string) ([]ai.QuotaStatus, error) {
	names := append([]string(nil), providers...)
	if len(names) == 0 {
		iter := q.store.rdb.Scan(ctx, 0, quotaKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			names = append(names, strings.TrimPrefix(iter.Val(), quotaKeyPrefix))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		sort.Strings(names)
	}

	out := make([]ai.QuotaStatus, 0, len(names))
	for _, name := range names {
		reset, ok, err := q.resetTime(ctx, name)
		if err != nil {
			return nil, err
		}
		st := ai.QuotaStatus{Provider: name, Exhausted: ok}
		if ok {
			st.ResetAt = &reset
		}
		out = append(out, st)
	}
	return out, nil
}
