package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// credentialKeyPrefix namespaces entries in a Redis instance potentially
// shared with other engine deployments.
const credentialKeyPrefix = "rdatacore:cred:"

// CredentialCache is the L1+L2 cache in front of the `authenticate`
// transform's bcrypt compare, implementing dsl.CredentialCache. L1 is an
// in-process expirable LRU (cache_credential_ttl, default 600s); L2 is an
// optional Redis client shared across the worker pool's processes, so
// bcrypt's deliberate slowness is paid once per credential pair across the
// whole fleet rather than once per worker. Only ever stores verified
// pairs, never failures, per §4.K "MUST NOT cache negative results for
// mutable operations" — a rejected login always re-checks the registry, so
// a just-rotated password never has a stale "valid" entry working against
// it.
type CredentialCache struct {
	l1  *expirable.LRU[string, struct{}]
	l2  *redis.Client // optional, may be nil
	ttl time.Duration
}

// NewCredentialCache builds a CredentialCache with an L1 of size l1Size and
// an optional Redis-backed L2 (pass a nil client to run L1-only).
func NewCredentialCache(l2 *redis.Client, l1Size int, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		l1:  expirable.NewLRU[string, struct{}](l1Size, nil, ttl),
		l2:  l2,
		ttl: ttl,
	}
}

// IsValid reports whether key was marked valid within the last ttl, L1
// first, then L2 when wired. A Redis error is treated as a cache miss: the
// caller falls back to a real bcrypt compare, so a down L2 degrades
// latency, never correctness.
func (c *CredentialCache) IsValid(ctx context.Context, key string) bool {
	if _, ok := c.l1.Get(key); ok {
		return true
	}

	if c.l2 == nil {
		return false
	}

	n, err := c.l2.Exists(ctx, credentialKeyPrefix+key).Result()
	if err != nil || n == 0 {
		return false
	}

	c.l1.Add(key, struct{}{})

	return true
}

// MarkValid records that key verified successfully, for ttl, in both tiers.
func (c *CredentialCache) MarkValid(ctx context.Context, key string) {
	c.l1.Add(key, struct{}{})

	if c.l2 != nil {
		_ = c.l2.Set(ctx, credentialKeyPrefix+key, 1, c.ttl).Err()
	}
}
