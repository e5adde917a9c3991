package types

import (
	"fmt"
	"strings"
	"time"
)

// Format is the encoding of a derived asset.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	WEBP Format = "webp"
)

// AspectPolicy governs how the requested box interacts with the source proportions.
type AspectPolicy string

const (
	Preserve AspectPolicy = "preserve"
	Stretch  AspectPolicy = "stretch"
)

const (
	DefaultFormat  = JPEG
	DefaultQuality = 90

	// MaxDimension bounds either requested output dimension.
	MaxDimension = 10000

	// CacheTTL is the lifetime of every ephemeral cache entry.
	CacheTTL = 3600 * time.Second
)

// ParseFormat accepts the names used by upload forms ("jpg", "JPEG", ...).
// An empty string yields the default format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultFormat, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "gif":
		return GIF, nil
	case "webp":
		return WEBP, nil
	default:
		return "", &ParameterError{Name: "format", Reason: fmt.Sprintf("unsupported output format %q", s)}
	}
}

// Lossy reports whether quality affects the encoded output.
func (f Format) Lossy() bool {
	return f == JPEG
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// TransformOptions is the transform template shared by every file in a batch.
type TransformOptions struct {
	// ClientID is the client/device identity folded into the cache key. May be
	// empty. It scopes keys server-side and is never serialized.
	ClientID string `json:"-"`
	Width    int    `json:"width"`
	// Height of 0 means unset: the output height follows the source aspect ratio.
	Height  int          `json:"height,omitempty"`
	Format  Format       `json:"format"`
	Quality int          `json:"quality,omitempty"`
	Aspect  AspectPolicy `json:"aspect"`
}

// Normalize fills defaults and clears quality for formats where it has no effect,
// so equivalent requests derive the same cache key.
func (o TransformOptions) Normalize() TransformOptions {
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if o.Aspect == "" {
		o.Aspect = Preserve
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if !o.Format.Lossy() {
		o.Quality = 0
	}
	return o
}

// Validate checks the request shape. It does no I/O.
func (o TransformOptions) Validate() error {
	if o.Width <= 0 {
		return &ParameterError{Name: "width", Reason: fmt.Sprintf("must be a positive integer, got %d", o.Width)}
	}
	if o.Height < 0 {
		return &ParameterError{Name: "height", Reason: fmt.Sprintf("must be a positive integer, got %d", o.Height)}
	}
	if o.Width > MaxDimension || o.Height > MaxDimension {
		return &ParameterError{Name: "dimensions", Reason: fmt.Sprintf("must not exceed %d pixels", MaxDimension)}
	}
	switch o.Format {
	case JPEG, PNG, GIF, WEBP:
	default:
		return &ParameterError{Name: "format", Reason: fmt.Sprintf("unsupported output format %q", o.Format)}
	}
	if o.Format.Lossy() && (o.Quality < 1 || o.Quality > 100) {
		return &ParameterError{Name: "quality", Reason: fmt.Sprintf("must be within 1-100, got %d", o.Quality)}
	}
	switch o.Aspect {
	case Preserve, Stretch:
	default:
		return &ParameterError{Name: "aspect", Reason: fmt.Sprintf("unknown aspect policy %q", o.Aspect)}
	}
	return nil
}

// TransformRequest is one source image plus the options to apply to it.
// It is passed by value and never mutated after construction.
type TransformRequest struct {
	FileName string
	Source   []byte
	Options  TransformOptions
}

// NewTransformRequest normalizes and validates opts for a single source file.
func NewTransformRequest(fileName string, source []byte, opts TransformOptions) (TransformRequest, error) {
	opts = opts.Normalize()
	if strings.TrimSpace(fileName) == "" {
		return TransformRequest{}, &ParameterError{Name: "filename", Reason: "must not be empty"}
	}
	if err := opts.Validate(); err != nil {
		return TransformRequest{}, err
	}
	return TransformRequest{FileName: fileName, Source: source, Options: opts}, nil
}

// ResizeJob is the payload of a prewarm message consumed by the worker.
type ResizeJob struct {
	Id        string `json:"id"`
	UserId    string `json:"userId"`
	FileName  string `json:"fileName"`
	S3RawKey  string `json:"s3RawKey"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Quality   int    `json:"quality"`
	Aspect    string `json:"aspect"`
	CreatedAt string `json:"createdAt"`
}

// Options converts the job's wire fields into transform options.
func (j ResizeJob) Options() (TransformOptions, error) {
	format, err := ParseFormat(j.Format)
	if err != nil {
		return TransformOptions{}, err
	}
	return TransformOptions{
		ClientID: j.UserId,
		Width:    j.Width,
		Height:   j.Height,
		Format:   format,
		Quality:  j.Quality,
		Aspect:   AspectPolicy(strings.ToLower(j.Aspect)),
	}, nil
}
