// Package resolvertest provides in-memory tiers for exercising the resolver
// and everything built on it.
package resolvertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mahirjain10/go-resizer/internal/types"
)

// Cache is an in-memory ephemeral tier. While marked down every call behaves
// like a timed-out round trip.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	down    atomic.Bool

	Gets atomic.Int64
	Puts atomic.Int64
}

func NewCache() *Cache {
	return &Cache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *Cache) SetDown(down bool) {
	c.down.Store(down)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.Gets.Add(1)
	if c.down.Load() || ctx.Err() != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	return data, ok
}

func (c *Cache) Put(ctx context.Context, key string, data []byte, ttl time.Duration) {
	c.Puts.Add(1)
	if c.down.Load() || ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	c.ttls[key] = ttl
}

// Has reports whether key is cached and its TTL.
func (c *Cache) Has(key string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok, c.ttls[key]
}

// Evict drops every entry, like a cache restart.
func (c *Cache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	c.ttls = map[string]time.Duration{}
}

// Store is an in-memory durable tier.
type Store struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string

	GetErr error
	PutErr error

	Gets atomic.Int64
	Puts atomic.Int64
}

func NewStore() *Store {
	return &Store{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.Gets.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrStoreRead, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrStoreRead, s.GetErr)
	}
	data, ok := s.objects[key]
	return data, ok, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.Puts.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return "", s.PutErr
	}
	s.objects[key] = data
	s.contentTypes[key] = contentType
	return "mem://" + key, nil
}

// Seed stores data under key directly.
func (s *Store) Seed(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.contentTypes[key] = contentType
}

func (s *Store) Object(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, s.contentTypes[key], ok
}

// Engine wraps a transform function and counts invocations.
type Engine struct {
	Fn    func(src []byte, req types.TransformRequest) ([]byte, error)
	Calls atomic.Int64
}

// ErrCorrupt is what Failing reports for sources it rejects.
var ErrCorrupt = errors.New("corrupt source")

func (e *Engine) Transform(src []byte, req types.TransformRequest) ([]byte, error) {
	e.Calls.Add(1)
	return e.Fn(src, req)
}

// Echo returns an engine whose output is a deterministic function of the
// source and options, without decoding anything.
func Echo() *Engine {
	return &Engine{Fn: func(src []byte, req types.TransformRequest) ([]byte, error) {
		o := req.Options
		return []byte(fmt.Sprintf("%s|%dx%d|%s|%d|%s", src, o.Width, o.Height, o.Format, o.Quality, o.Aspect)), nil
	}}
}

// Failing wraps inner and fails with a *types.TransformError for the named files.
func Failing(inner *Engine, fileNames ...string) *Engine {
	bad := map[string]bool{}
	for _, name := range fileNames {
		bad[name] = true
	}
	return &Engine{Fn: func(src []byte, req types.TransformRequest) ([]byte, error) {
		if bad[req.FileName] {
			return nil, &types.TransformError{FileName: req.FileName, Err: ErrCorrupt}
		}
		return inner.Fn(src, req)
	}}
}
