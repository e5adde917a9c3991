// Package resolver walks the derived-asset tiers for one transform request:
// derive the key, try the ephemeral cache, try the durable store, and only
// on a full miss run the transform and populate both tiers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mahirjain10/go-resizer/internal/cachekey"
	"github.com/mahirjain10/go-resizer/internal/metrics"
	"github.com/mahirjain10/go-resizer/internal/types"
)

// EphemeralCache is best-effort: Get reports absence on any failure and Put
// never fails the caller.
type EphemeralCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration)
}

// DurableStore is the system of record. Get returns (nil, false, nil) for a
// key that was never written.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Transformer interface {
	Transform(src []byte, req types.TransformRequest) ([]byte, error)
}

// Resolver is safe for concurrent use. Concurrent resolves of one key share a
// single tier walk, so a key is computed at most once while a resolve for it
// is in flight.
type Resolver struct {
	cache    EphemeralCache
	store    DurableStore
	engine   Transformer
	observer *metrics.Observer
	logger   *slog.Logger
	inflight singleflight.Group
}

// New builds a resolver. cache may be nil when no ephemeral tier is configured.
func New(cache EphemeralCache, store DurableStore, engine Transformer, observer *metrics.Observer, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:    cache,
		store:    store,
		engine:   engine,
		observer: observer,
		logger:   logger,
	}
}

// Resolve returns the derived asset for req. The returned Data is shared with
// concurrent callers of the same key and must not be modified.
//
// The tier walk is detached from ctx cancellation: once started it runs to
// completion and populates the stores even if the requester has gone away.
func (r *Resolver) Resolve(ctx context.Context, req types.TransformRequest) (types.AssetRecord, error) {
	key, err := cachekey.Derive(req)
	if err != nil {
		r.observer.Resolve("failed")
		return types.AssetRecord{}, err
	}
	req.Options = req.Options.Normalize()

	ctx = context.WithoutCancel(ctx)
	v, err, shared := r.inflight.Do(key, func() (any, error) {
		return r.resolve(ctx, key, req)
	})
	if err != nil {
		r.observer.Resolve("failed")
		return types.AssetRecord{}, err
	}
	rec := v.(types.AssetRecord)
	if shared {
		r.logger.Debug("resolve shared in-flight walk", "key", key)
	}
	r.observer.Resolve(string(rec.Provenance))
	return rec, nil
}

func (r *Resolver) resolve(ctx context.Context, key string, req types.TransformRequest) (types.AssetRecord, error) {
	rec := types.AssetRecord{Key: key, FileName: req.FileName, Options: req.Options}

	if data, ok := r.cache.Get(ctx, key); ok {
		rec.Data, rec.Provenance = data, types.EphemeralHit
		return rec, nil
	}

	if data, ok := r.checkDurable(ctx, key); ok {
		r.cache.Put(ctx, key, data, types.CacheTTL)
		rec.Data, rec.Provenance = data, types.DurableHit
		return rec, nil
	}

	start := time.Now()
	out, err := r.engine.Transform(req.Source, req)
	r.observer.Transform(time.Since(start))
	if err != nil {
		var te *types.TransformError
		if !errors.As(err, &te) {
			err = &types.TransformError{FileName: req.FileName, Err: err}
		}
		return types.AssetRecord{}, err
	}
	rec.Data, rec.Provenance = out, types.Computed

	location, err := r.store.Put(ctx, key, out, req.Options.Format.ContentType())
	if err != nil {
		rec.PersistErr = &types.StoreWriteError{Key: key, Err: err}
		r.observer.StoreWriteFailed()
		r.logger.Warn("computed asset not saved, future misses will recompute",
			"tier", metrics.TierDurable, "op", "put", "key", key, "err", err)
	} else {
		rec.Location = location
	}
	r.cache.Put(ctx, key, out, types.CacheTTL)
	return rec, nil
}

// checkDurable treats read failures as misses, logged apart from not-found.
func (r *Resolver) checkDurable(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("durable read failed, treating as miss",
			"tier", metrics.TierDurable, "op", "get", "key", key, "kind", "read_error", "err", err)
		return nil, false
	}
	return data, ok
}

// Fetch looks up an already derived asset by key without computing it. A
// durable hit is promoted into the ephemeral cache. ErrAssetNotFound is
// returned when neither tier has the key.
func (r *Resolver) Fetch(ctx context.Context, key string, opts types.TransformOptions) (types.AssetRecord, error) {
	ctx = context.WithoutCancel(ctx)
	rec := types.AssetRecord{Key: key, Options: opts.Normalize()}

	if data, ok := r.cache.Get(ctx, key); ok {
		rec.Data, rec.Provenance = data, types.EphemeralHit
		return rec, nil
	}
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return types.AssetRecord{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	if !ok {
		return types.AssetRecord{}, fmt.Errorf("fetch %s: %w", key, types.ErrAssetNotFound)
	}
	r.cache.Put(ctx, key, data, types.CacheTTL)
	rec.Data, rec.Provenance = data, types.DurableHit
	return rec, nil
}

type noCache struct{}

func (noCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (noCache) Put(context.Context, string, []byte, time.Duration) {}
