package pickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyGrace keeps an entry readable past its deadline so a sweeper can still
// announce the expiry. Redis drops it after that.
const keyGrace = 5 * time.Minute

var (
	takeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then redis.call('DEL', KEYS[1]) end
redis.call('ZREM', KEYS[2], ARGV[1])
return v`)

	restoreScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[2], 'NX', 'PX', ARGV[3]) then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
  return 1
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1`)

	expireScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then return false end
local v = redis.call('GET', KEYS[1])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return v`)
)

// RedisStore shares pending releases between instances. Each request is a
// JSON value under <prefix>:<student id>; a sorted set of deadlines drives
// listing and expiry.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	deadlines string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "escola:pendente"
	}
	return &RedisStore{client: client, prefix: prefix, deadlines: prefix + ":prazos"}
}

func (s *RedisStore) key(studentID int64) string {
	return s.prefix + ":" + strconv.FormatInt(studentID, 10)
}

func (s *RedisStore) Put(ctx context.Context, p PendingRelease) (PendingRelease, bool, error) {
	key := s.key(p.StudentID)
	replaced := false
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return PendingRelease{}, false, fmt.Errorf("load pending release %d: %w", p.StudentID, err)
	default:
		var prev PendingRelease
		if err := json.Unmarshal(raw, &prev); err == nil {
			p.RequestedAt = prev.RequestedAt
			replaced = true
		}
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return PendingRelease{}, false, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, keyTTL(p.ExpiresAt))
		pipe.ZAdd(ctx, s.deadlines, redis.Z{Score: score(p.ExpiresAt), Member: p.StudentID})
		return nil
	})
	if err != nil {
		return PendingRelease{}, false, fmt.Errorf("store pending release %d: %w", p.StudentID, err)
	}
	return p, replaced, nil
}

func (s *RedisStore) Take(ctx context.Context, studentID int64) (PendingRelease, bool, error) {
	raw, err := takeScript.Run(ctx, s.client, []string{s.key(studentID), s.deadlines}, studentID).Text()
	if errors.Is(err, redis.Nil) {
		return PendingRelease{}, false, nil
	}
	if err != nil {
		return PendingRelease{}, false, fmt.Errorf("take pending release %d: %w", studentID, err)
	}
	p, err := decodePending(raw)
	if err != nil {
		return PendingRelease{}, false, err
	}
	return p, true, nil
}

func (s *RedisStore) Restore(ctx context.Context, p PendingRelease) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	args := []any{p.StudentID, payload, keyTTL(p.ExpiresAt).Milliseconds(), score(p.ExpiresAt)}
	if err := restoreScript.Run(ctx, s.client, []string{s.key(p.StudentID), s.deadlines}, args...).Err(); err != nil {
		return fmt.Errorf("restore pending release %d: %w", p.StudentID, err)
	}
	return nil
}

func (s *RedisStore) Refresh(ctx context.Context, studentID int64, expiresAt time.Time) (PendingRelease, bool, error) {
	key := s.key(studentID)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return PendingRelease{}, false, nil
	}
	if err != nil {
		return PendingRelease{}, false, fmt.Errorf("load pending release %d: %w", studentID, err)
	}
	p, err := decodePending(raw)
	if err != nil {
		return PendingRelease{}, false, err
	}
	p.ExpiresAt = expiresAt

	payload, err := json.Marshal(p)
	if err != nil {
		return PendingRelease{}, false, err
	}
	args := []any{studentID, payload, keyTTL(expiresAt).Milliseconds(), score(expiresAt)}
	ok, err := refreshScript.Run(ctx, s.client, []string{key, s.deadlines}, args...).Int()
	if err != nil {
		return PendingRelease{}, false, fmt.Errorf("refresh pending release %d: %w", studentID, err)
	}
	return p, ok == 1, nil
}

// Expire claims each overdue entry atomically, so with several sweepers
// every expiry is reported once.
func (s *RedisStore) Expire(ctx context.Context, now time.Time) ([]PendingRelease, error) {
	limit := strconv.FormatInt(now.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.deadlines, &redis.ZRangeBy{Min: "-inf", Max: limit}).Result()
	if err != nil {
		return nil, fmt.Errorf("list overdue releases: %w", err)
	}

	var out []PendingRelease
	for _, id := range ids {
		studentID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			s.client.ZRem(ctx, s.deadlines, id)
			continue
		}
		raw, err := expireScript.Run(ctx, s.client, []string{s.key(studentID), s.deadlines}, studentID, limit).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("expire pending release %d: %w", studentID, err)
		}
		p, err := decodePending(raw)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	sortByRequest(out)
	return out, nil
}

func (s *RedisStore) List(ctx context.Context) ([]PendingRelease, error) {
	ids, err := s.client.ZRange(ctx, s.deadlines, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending releases: %w", err)
	}
	out := make([]PendingRelease, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + ":" + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending releases: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if p, err := decodePending(raw); err == nil {
			out = append(out, p)
		}
	}
	sortByRequest(out)
	return out, nil
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.deadlines).Result()
	return int(n), err
}

func decodePending(raw string) (PendingRelease, error) {
	var p PendingRelease
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return PendingRelease{}, fmt.Errorf("decode pending release: %w", err)
	}
	return p, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func keyTTL(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt) + keyGrace
	if d < keyGrace {
		return keyGrace
	}
	return d
}
