package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"VoteBoard/budget"
	"VoteBoard/model"
)

const keyPrefix = "VoteBoard:"

func lockKey(userID string) string { return keyPrefix + "vote:lock:" + userID }
func pendingKey(userID string) string { return keyPrefix + "vote:pending:" + userID }
func countKey(featureID string) string { return keyPrefix + "feature:votes:" + featureID }
func countLoadKey(featureID string) string { return keyPrefix + "feature:votes:load:" + featureID }

// releaseScript deletes the lock only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`)

// renewScript pushes the lock expiry out only while we still own it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end`)

// RedisLocker is a per-user distributed lock built on SETNX. While held, the
// lock expiry is renewed every ttl/3 so a slow mutation keeps it.
type RedisLocker struct {
	cli     *redis.Client
	ttl     time.Duration // lock expiry, bounds how long a crashed holder blocks others
	timeout time.Duration // max wait to acquire
}

func NewRedisLocker(cli *redis.Client, ttl, timeout time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{cli: cli, ttl: ttl, timeout: timeout}
}

func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := lockKey(userID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)

	for {
		locked, err := l.cli.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock for %s: %w", userID, err)
		}
		if locked {
			stop := make(chan struct{})
			go l.keepAlive(key, token, userID, stop)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					// Release with a fresh context so a cancelled request still unlocks.
					rctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					if err := releaseScript.Run(rctx, l.cli, []string{key}, token).Err(); err != nil {
						log.WithError(err).WithField("user_id", userID).Warn("failed to release vote lock")
					}
				})
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, budget.ErrLockTimeout
		}
		// Random backoff to spread out contending requests.
		wait := time.Duration(rand.Intn(50)+10) * time.Millisecond
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, budget.ErrLockTimeout
		}
	}
}

func (l *RedisLocker) keepAlive(key, token, userID string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := renewScript.Run(ctx, l.cli, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.WithError(err).WithField("user_id", userID).Warn("failed to renew vote lock")
				continue
			}
			if n == 0 {
				log.WithField("user_id", userID).Warn("vote lock lost before release")
				return
			}
		}
	}
}

// RedisPendingStore keeps withdrawal proposals as JSON with an expiry.
type RedisPendingStore struct {
	cli *redis.Client
}

func NewRedisPendingStore(cli *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{cli: cli}
}

func (s *RedisPendingStore) GetPending(ctx context.Context, userID string) (budget.PendingProposal, bool, error) {
	raw, err := s.cli.Get(ctx, pendingKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return budget.PendingProposal{}, false, nil
	}
	if err != nil {
		return budget.PendingProposal{}, false, fmt.Errorf("get pending: %w", err)
	}
	var p budget.PendingProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return budget.PendingProposal{}, false, fmt.Errorf("decode pending: %w", err)
	}
	return p, true, nil
}

func (s *RedisPendingStore) PutPending(ctx context.Context, p budget.PendingProposal, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending: %w", err)
	}
	if err := s.cli.Set(ctx, pendingKey(p.UserID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("put pending: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) DeletePending(ctx context.Context, userID string) error {
	if err := s.cli.Del(ctx, pendingKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

// FeatureSource loads a feature request on a cache miss.
type FeatureSource interface {
	GetFeatureRequest(ctx context.Context, featureID string) (model.FeatureRequest, error)
}

// VoteCountCache is a display cache of feature vote counts. It is never
// used for budget decisions.
type VoteCountCache struct {
	cli    *redis.Client
	source FeatureSource
	expiry time.Duration
}

func NewVoteCountCache(cli *redis.Client, source FeatureSource, expiry time.Duration) *VoteCountCache {
	return &VoteCountCache{cli: cli, source: source, expiry: expiry}
}

// Get returns the cached count, loading it from the source on a miss.
// Only one caller per feature loads; the others wait briefly for the value.
func (c *VoteCountCache) Get(ctx context.Context, featureID string) (int, error) {
	n, ok, err := c.cached(ctx, featureID)
	if err != nil || ok {
		return n, err
	}

	loading, err := c.cli.SetNX(ctx, countLoadKey(featureID), "1", 200*time.Millisecond).Result()
	if err != nil {
		return 0, fmt.Errorf("count cache guard: %w", err)
	}
	if loading {
		defer c.cli.Del(ctx, countLoadKey(featureID))
		return c.load(ctx, featureID)
	}

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		if n, ok, err := c.cached(ctx, featureID); err != nil || ok {
			return n, err
		}
	}
	return c.load(ctx, featureID)
}

func (c *VoteCountCache) cached(ctx context.Context, featureID string) (int, bool, error) {
	s, err := c.cli.Get(ctx, countKey(featureID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("count cache get: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("count cache value %q: %w", s, err)
	}
	return n, true, nil
}

func (c *VoteCountCache) load(ctx context.Context, featureID string) (int, error) {
	fr, err := c.source.GetFeatureRequest(ctx, featureID)
	if err != nil {
		return 0, err
	}
	if err := c.cli.Set(ctx, countKey(featureID), fr.VoteCount, c.expiry).Err(); err != nil {
		log.WithError(err).WithField("feature_id", featureID).Warn("count cache set failed")
	}
	return fr.VoteCount, nil
}

// Invalidate drops cached counts of the given features.
func (c *VoteCountCache) Invalidate(ctx context.Context, featureIDs ...string) error {
	if len(featureIDs) == 0 {
		return nil
	}
	keys := make([]string, len(featureIDs))
	for i, id := range featureIDs {
		keys[i] = countKey(id)
	}
	if err := c.cli.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("count cache invalidate: %w", err)
	}
	return nil
}

// Publish invalidates the counts touched by a vote event.
func (c *VoteCountCache) Publish(ctx context.Context, e budget.VoteEvent) error {
	return c.Invalidate(ctx, e.FeatureIDs...)
}
