package handlers

import (
	"context"
	"path"

	"github.com/mahirjain10/go-resizer/internal/types"
)

type Resolver interface {
	Resolve(ctx context.Context, req types.TransformRequest) (types.AssetRecord, error)
}

type TransformHandler struct {
	resolver Resolver
}

func NewTransformHandler(resolver Resolver) *TransformHandler {
	return &TransformHandler{
		resolver: resolver,
	}
}

// TransformImage resolves the asset a job asks for, computing and storing it
// on a miss. Jobs without a file name are keyed by the raw object's basename.
func (h *TransformHandler) TransformImage(ctx context.Context, job types.ResizeJob, source []byte) (types.AssetRecord, error) {
	opts, err := job.Options()
	if err != nil {
		return types.AssetRecord{}, err
	}
	name := job.FileName
	if name == "" {
		name = path.Base(job.S3RawKey)
	}
	req, err := types.NewTransformRequest(name, source, opts)
	if err != nil {
		return types.AssetRecord{}, err
	}
	return h.resolver.Resolve(ctx, req)
}
