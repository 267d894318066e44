package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/logger"
)

const cachePrefix = "jobmatch:emb:"

// Cache stores vectors by content key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// CacheKey derives the content key for text at the given dimension.
func CacheKey(text string, dim int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(dim) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	vec     []float32
	expires time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]memoryEntry
}

func NewMemory(ttl time.Duration, c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real()
	}
	return &Memory{ttl: ttl, clock: c, entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.ttl > 0 && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return append([]float32(nil), e.vec...), true
}

func (m *Memory) Set(_ context.Context, key string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{vec: append([]float32(nil), vec...), expires: m.clock.Now().Add(m.ttl)}
}

// Len reports how many entries are held, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Redis is a shared cache backed by a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, logger: logger.OrNop(log)}
}

func (r *Redis) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := r.client.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache get failed", zap.Error(err))
		}
		return nil, false
	}
	vec, ok := decodeVector(data)
	return vec, ok
}

func (r *Redis) Set(ctx context.Context, key string, vec []float32) {
	if err := r.client.Set(ctx, cachePrefix+key, encodeVector(vec), r.ttl).Err(); err != nil {
		r.logger.Warn("redis cache set failed", zap.Error(err))
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, true
}

// Tiered checks L1 before L2 and back-fills L1 on an L2 hit.
type Tiered struct {
	L1 Cache
	L2 Cache
}

func (t *Tiered) Get(ctx context.Context, key string) ([]float32, bool) {
	if t.L1 != nil {
		if vec, ok := t.L1.Get(ctx, key); ok {
			return vec, true
		}
	}
	if t.L2 != nil {
		if vec, ok := t.L2.Get(ctx, key); ok {
			if t.L1 != nil {
				t.L1.Set(ctx, key, vec)
			}
			return vec, true
		}
	}
	return nil, false
}

func (t *Tiered) Set(ctx context.Context, key string, vec []float32) {
	if t.L1 != nil {
		t.L1.Set(ctx, key, vec)
	}
	if t.L2 != nil {
		t.L2.Set(ctx, key, vec)
	}
}
