// Package cachekey derives the identifier shared by the ephemeral cache and the
// durable store for one (source file, transform options) pair.
//
// Keys are built from the original filename, not the source content: two
// different images uploaded under the same name with the same options and
// client identity collide. This mirrors how uploads have always been keyed.
package cachekey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mahirjain10/go-resizer/internal/types"
)

const anonymous = "anon"

// Derive returns the cache key for req. Options are normalized first, so
// requests that differ only in defaulted or ineffective fields share a key.
func Derive(req types.TransformRequest) (string, error) {
	return ForFile(req.FileName, req.Options)
}

// ForFile derives a key from a filename and options without source bytes.
// The download surface uses it to rebuild keys of earlier results.
func ForFile(fileName string, opts types.TransformOptions) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", &types.ParameterError{Name: "filename", Reason: "must not be empty"}
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return "", err
	}

	client := strings.TrimSpace(opts.ClientID)
	if client == "" {
		client = anonymous
	}
	height := "auto"
	if opts.Height > 0 {
		height = strconv.Itoa(opts.Height)
	}
	return fmt.Sprintf("%s-%d-%s-%s-q%d-%s-%s",
		client, opts.Width, height, opts.Format, opts.Quality, opts.Aspect, fileName), nil
}
