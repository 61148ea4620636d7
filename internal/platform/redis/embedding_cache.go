package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EmbeddingCache stores vectors as packed little-endian float32 values.
type EmbeddingCache struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewEmbeddingCache(rdb goredis.UniversalClient, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "detox:emb:"
	}
	return &EmbeddingCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Get returns (nil, false, nil) on a miss.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(raw)%4 != 0 {
		return nil, false, fmt.Errorf("corrupt cached embedding for %s: %d bytes", key, len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, true, nil
}

func (c *EmbeddingCache) Put(ctx context.Context, key string, vec []float32) error {
	raw := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}
