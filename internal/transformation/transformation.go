package transformation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	// We must import the image formats we want to support,
	// even if we don't use them directly. This "registers"
	// their decoders with the standard 'image' package.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"

	"github.com/mahirjain10/go-resizer/internal/types"
)

// maxSourcePixels rejects sources that would decode into an oversized bitmap.
const maxSourcePixels = 100_000_000

var errEmptyImage = errors.New("source image has no pixels")

// Engine is the transform step of the resolver. It is stateless and
// deterministic: identical input yields byte-identical output.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Transform decodes src, applies the aspect policy and encodes the result.
// Every failure is a *types.TransformError.
func (e *Engine) Transform(src []byte, req types.TransformRequest) ([]byte, error) {
	out, err := Transform(src, req.Options)
	if err != nil {
		return nil, &types.TransformError{FileName: req.FileName, Err: err}
	}
	return out, nil
}

// Transform resizes and re-encodes buffer according to opts.
func Transform(buffer []byte, opts types.TransformOptions) ([]byte, error) {
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// 1. Check the header before decoding the full bitmap
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buffer))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errEmptyImage
	}
	if cfg.Width*cfg.Height > maxSourcePixels {
		return nil, fmt.Errorf("source image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxSourcePixels)
	}
	// an unset height follows the source ratio, so tall sources can scale past the limit
	if w, h := TargetSize(cfg.Width, cfg.Height, opts); w > types.MaxDimension || h > types.MaxDimension {
		return nil, fmt.Errorf("output %dx%d exceeds %d pixels per side", w, h, types.MaxDimension)
	}

	// 2. Decode
	img, _, err := image.Decode(bytes.NewReader(buffer))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// 3. Aspect policy, then encoding
	return Encode(Resize(img, opts), opts.Format, opts.Quality)
}

// Resize applies the aspect policy of opts to img.
func Resize(img image.Image, opts types.TransformOptions) image.Image {
	b := img.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), opts)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// TargetSize computes output dimensions for a srcW x srcH source.
//
// Without a height, width alone sets the scale for both policies. With a
// height, preserve fits the source inside the box keeping its ratio and
// stretch returns the box exactly.
func TargetSize(srcW, srcH int, opts types.TransformOptions) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	if opts.Height <= 0 {
		return opts.Width, scaled(srcH, float64(opts.Width)/float64(srcW))
	}
	if opts.Aspect == types.Stretch {
		return opts.Width, opts.Height
	}
	scale := math.Min(float64(opts.Width)/float64(srcW), float64(opts.Height)/float64(srcH))
	return min(scaled(srcW, scale), opts.Width), min(scaled(srcH, scale), opts.Height)
}

func scaled(n int, scale float64) int {
	return max(1, int(math.Floor(float64(n)*scale+0.5)))
}

// Encode writes img in the target format. quality only affects JPEG; WebP
// output is lossless.
func Encode(img image.Image, format types.Format, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	var err error
	switch format {
	case types.JPEG:
		if quality <= 0 {
			quality = types.DefaultQuality
		}
		err = imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case types.PNG:
		err = imaging.Encode(buf, img, imaging.PNG)
	case types.GIF:
		err = imaging.Encode(buf, img, imaging.GIF)
	case types.WEBP:
		err = nativewebp.Encode(buf, img, nil)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("error while encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Dimensions reads the pixel size of an encoded image from its header.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
