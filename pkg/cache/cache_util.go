package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned by Get when the key is absent or the cache is disabled.
	ErrMiss = errors.New("cache miss")
	// ErrStale is returned by SetJSONAt when the key was invalidated after the caller read its generation.
	ErrStale = errors.New("cache generation moved")
)

// generation counters outlive any cached value they guard
const generationTTL = 24 * time.Hour

// Cache namespaces keys over a redis client. A nil *Cache is a valid, always-missing cache.
//
// Every key carries a generation counter next to its value. Invalidate bumps the counter, and
// SetJSONAt only stores a value computed under the generation the caller read first, so a slow
// reader cannot put back figures that a concurrent write already replaced.
type Cache struct {
	client redis.UniversalClient // works with both single and cluster
}

func NewCache(addrs []string, password string, useCluster bool) *Cache {
	if len(addrs) == 0 || addrs[0] == "" {
		return nil
	}

	var rdb redis.UniversalClient
	if useCluster && len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       0,
		})
	}

	return &Cache{client: rdb}
}

func (c *Cache) Client() redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c.client
}

// value and generation keys share a hash tag so WATCH/MULTI stay on one cluster slot
func valueKey(namespace, key string) string { return namespace + ":{" + key + "}" }
func genKey(namespace, key string) string   { return namespace + ":{" + key + "}:gen" }

func (c *Cache) Get(ctx context.Context, namespace, key string) (string, error) {
	if c == nil {
		return "", ErrMiss
	}
	val, err := c.client.Get(ctx, valueKey(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// GetJSON decodes a cached JSON value into dst.
func (c *Cache) GetJSON(ctx context.Context, namespace, key string, dst interface{}) error {
	val, err := c.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dst)
}

// Generation reads the current invalidation counter of a key; an unknown key is at generation 0.
func (c *Cache) Generation(ctx context.Context, namespace, key string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, genKey(namespace, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetJSONAt stores value as JSON only while the key is still at generation gen.
func (c *Cache) SetJSONAt(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration, gen int64) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	gk, vk := genKey(namespace, key), valueKey(namespace, key)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, vk, data, ttl)
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	return err
}

// Invalidate bumps the generation of every key and drops its cached value.
func (c *Cache) Invalidate(ctx context.Context, namespace string, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			gk := genKey(namespace, k)
			p.Incr(ctx, gk)
			p.Expire(ctx, gk, generationTTL)
			p.Del(ctx, valueKey(namespace, k))
		}
		return nil
	})
	return err
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
