package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mahirjain10/go-resizer/internal/types"
)

type Resolver interface {
	Resolve(ctx context.Context, req types.TransformRequest) (types.AssetRecord, error)
}

// Coordinator fans a batch out to a bounded pool of resolves and fans the
// results back in request order.
type Coordinator struct {
	resolver Resolver
	workers  int
	logger   *slog.Logger
}

// NewCoordinator caps in-flight resolves at workers (NumCPU when <= 0).
func NewCoordinator(resolver Resolver, workers int, logger *slog.Logger) *Coordinator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{resolver: resolver, workers: workers, logger: logger}
}

// ResolveAll resolves every file with the shared options. The result is
// index-aligned with files. A failed item never aborts its siblings; the
// returned error wraps ErrBatchFailed only when every item failed.
func (c *Coordinator) ResolveAll(ctx context.Context, files []types.SourceFile, opts types.TransformOptions) (types.BatchResult, error) {
	result := make(types.BatchResult, 0, len(files))
	err := c.Stream(ctx, files, opts, func(item types.BatchItem) error {
		result = append(result, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Failed() == len(result) {
		return result, fmt.Errorf("%w: %w", types.ErrBatchFailed, result[0].Err)
	}
	return result, nil
}

// Stream resolves files concurrently and calls emit once per item, in index
// order, as soon as every earlier item is done. If emit fails Stream returns
// its error at once; resolves already running finish in the background and
// still populate the stores, but no new ones start. Stream also returns when
// ctx is done rather than wait on slow items.
func (c *Coordinator) Stream(ctx context.Context, files []types.SourceFile, opts types.TransformOptions, emit func(types.BatchItem) error) error {
	if len(files) == 0 {
		return &types.ParameterError{Name: "files", Reason: "at least one file is required"}
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return err
	}

	stop, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so workers never block on a reader that has gone away
	results := make(chan types.BatchItem, len(files))
	go c.dispatch(stop, files, opts, results)

	pending := make(map[int]types.BatchItem, len(files))
	next := 0
	for next < len(files) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-results:
			pending[item.Index] = item
		}
		for {
			item, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := emit(item); err != nil {
				return err
			}
			next++
		}
	}
	return nil
}

func (c *Coordinator) dispatch(stop context.Context, files []types.SourceFile, opts types.TransformOptions, results chan<- types.BatchItem) {
	g := new(errgroup.Group)
	g.SetLimit(c.workers)

	for i, file := range files {
		if err := stop.Err(); err != nil {
			results <- types.BatchItem{Index: i, Err: err}
			continue
		}
		g.Go(func() error {
			results <- c.resolveOne(stop, i, file, opts)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) resolveOne(ctx context.Context, index int, file types.SourceFile, opts types.TransformOptions) types.BatchItem {
	req, err := types.NewTransformRequest(file.Name, file.Data, opts)
	if err != nil {
		return types.BatchItem{Index: index, Err: err}
	}
	rec, err := c.resolver.Resolve(ctx, req)
	if err != nil {
		level := slog.LevelWarn
		var pe *types.ParameterError
		if errors.As(err, &pe) {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "batch item failed", "index", index, "file", file.Name, "err", err)
		return types.BatchItem{Index: index, Err: err}
	}
	c.logger.Debug("batch item resolved", "index", index, "file", file.Name, "provenance", rec.Provenance, "bytes", rec.Size())
	return types.BatchItem{Index: index, Record: rec}
}
