package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps summary records and session snapshots in Redis so several
// vidsum processes can share them. Summaries live in a hash, with recency
// tracked in a sorted set scored by a monotonically increasing counter.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	summaryCap int
}

type redisSummary struct {
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenRedis connects to redisURL and verifies the connection.
func OpenRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{rdb: rdb, prefix: "vidsum:", summaryCap: DefaultSummaryCap}, nil
}

// SetSummaryCap changes how many summary records are retained.
func (s *RedisStore) SetSummaryCap(n int) {
	if n > 0 {
		s.summaryCap = n
	}
}

// SetPrefix namespaces every key. Tests use it to isolate runs.
func (s *RedisStore) SetPrefix(p string) {
	s.prefix = p
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) summariesKey() string { return s.prefix + "summaries" }
func (s *RedisStore) lruKey() string { return s.prefix + "summaries:lru" }
func (s *RedisStore) seqKey() string { return s.prefix + "summaries:seq" }
func (s *RedisStore) sessionKey(n string) string { return s.prefix + "session:" + n }

func (s *RedisStore) touch(ctx context.Context, videoRef string) error {
	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, s.lruKey(), redis.Z{Score: float64(seq), Member: videoRef}).Err()
}

func (s *RedisStore) PutSummary(ctx context.Context, videoRef, summary string) error {
	now := time.Now().UTC()
	rec := redisSummary{Summary: summary, CreatedAt: now, UpdatedAt: now}
	if prev, err := s.rdb.HGet(ctx, s.summariesKey(), videoRef).Result(); err == nil {
		var old redisSummary
		if json.Unmarshal([]byte(prev), &old) == nil && !old.CreatedAt.IsZero() {
			rec.CreatedAt = old.CreatedAt
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reading summary: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.summariesKey(), videoRef, data).Err(); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := s.touch(ctx, videoRef); err != nil {
		return fmt.Errorf("touching summary: %w", err)
	}
	return s.evict(ctx)
}

func (s *RedisStore) evict(ctx context.Context) error {
	n, err := s.rdb.ZCard(ctx, s.lruKey()).Result()
	if err != nil {
		return fmt.Errorf("counting summaries: %w", err)
	}
	excess := n - int64(s.summaryCap)
	if excess <= 0 {
		return nil
	}
	stale, err := s.rdb.ZRange(ctx, s.lruKey(), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("listing stale summaries: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	members := make([]any, len(stale))
	for i, m := range stale {
		members[i] = m
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.summariesKey(), stale...)
	pipe.ZRem(ctx, s.lruKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evicting summaries: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupSummary(ctx context.Context, videoRef string) (string, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.summariesKey(), videoRef).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var rec redisSummary
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", false, fmt.Errorf("decoding summary: %w", err)
	}
	if err := s.touch(ctx, videoRef); err != nil {
		return "", false, fmt.Errorf("touching summary: %w", err)
	}
	return rec.Summary, true, nil
}

// ListSummaries returns summary records, most recently used first.
func (s *RedisStore) ListSummaries(ctx context.Context, limit, offset int) ([]SummaryRecord, error) {
	refs, err := s.rdb.ZRevRange(ctx, s.lruKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}
	results := []SummaryRecord{}
	if len(refs) == 0 {
		return results, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.summariesKey(), refs...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec redisSummary
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decoding summary %s: %w", refs[i], err)
		}
		results = append(results, SummaryRecord{
			VideoRef:  refs[i],
			Summary:   rec.Summary,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return results, nil
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, name string, data []byte) error {
	return s.rdb.Set(ctx, s.sessionKey(name), data, 0).Err()
}

func (s *RedisStore) LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) DeleteSnapshot(ctx context.Context, name string) error {
	return s.rdb.Del(ctx, s.sessionKey(name)).Err()
}
