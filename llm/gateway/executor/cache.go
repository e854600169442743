package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/gateway"
)

// ResponseCache is the Response Cache Hook (SPEC_FULL.md §4.11): when a
// request sets extra.cache.enabled, a basic (non-streaming) response may
// be served from cache instead of hitting the provider, keyed by a
// fingerprint derived from the request body unless the caller supplies
// one explicitly.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*llm.ChatResponse, bool, error)
	Set(ctx context.Context, key string, resp *llm.ChatResponse, ttl time.Duration) error
}

// Fingerprint derives a cache key from the request when
// extra.cache.fingerprint was not supplied by the caller: a SHA-256 over
// the model name and serialised messages, so two requests that would
// produce the same provider call share a cache entry.
func Fingerprint(req *gateway.ChatCompletionRequest) string {
	if req.Cache != nil && req.Cache.Fingerprint != "" {
		return req.Cache.Fingerprint
	}
	h := sha256.New()
	h.Write([]byte(req.Model))
	enc, _ := json.Marshal(req.Messages)
	h.Write(enc)
	return hex.EncodeToString(h.Sum(nil))
}

// InMemoryResponseCache is a process-local ResponseCache for tests and
// single-instance deployments.
type InMemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    *llm.ChatResponse
	expires time.Time
}

func NewInMemoryResponseCache() *InMemoryResponseCache {
	return &InMemoryResponseCache{entries: map[string]cacheEntry{}}
}

func (c *InMemoryResponseCache) Get(_ context.Context, key string) (*llm.ChatResponse, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, false, nil
	}
	return e.resp, true, nil
}

func (c *InMemoryResponseCache) Set(_ context.Context, key string, resp *llm.ChatResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.entries[key] = cacheEntry{resp: resp, expires: expires}
	return nil
}

// RedisResponseCache backs the cache hook with redis, mirroring
// internal/cache.Manager's client-wrapping style (same go-redis/v9
// client, same JSON-blob encoding convention).
type RedisResponseCache struct {
	client *redis.Client
	prefix string
}

func NewRedisResponseCache(client *redis.Client) *RedisResponseCache {
	return &RedisResponseCache{client: client, prefix: "gateway:cache:response:"}
}

func (c *RedisResponseCache) Get(ctx context.Context, key string) (*llm.ChatResponse, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp llm.ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisResponseCache) Set(ctx context.Context, key string, resp *llm.ChatResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}
