// Package archive streams resolved assets into a ZIP archive written
// directly to the response sink, one entry at a time.
package archive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/mahirjain10/go-resizer/internal/types"
)

// FileName is the attachment name used for archive downloads.
const FileName = "resized-images.zip"

// EntryName embeds the requested dimensions so inputs sharing a basename but
// differing in size do not collide. An unset height is written as "auto".
func EntryName(rec types.AssetRecord) string {
	h := "auto"
	if rec.Options.Height > 0 {
		h = strconv.Itoa(rec.Options.Height)
	}
	return fmt.Sprintf("resized-%dx%s-%s", rec.Options.Width, h, rec.FileName)
}

// Writer appends assets to a ZIP stream. Only the entry being compressed is
// held in memory; headers and compressed bytes go to the sink as they are
// produced. Any sink failure is reported as a *types.DeliveryError and makes
// every later call fail fast.
type Writer struct {
	sink    *sinkWriter
	zw      *zip.Writer
	entries int
	closed  bool
}

func NewWriter(w io.Writer) *Writer {
	sink := &sinkWriter{w: w}
	zw := zip.NewWriter(sink)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	return &Writer{sink: sink, zw: zw}
}

// Add writes rec as the next entry.
func (w *Writer) Add(ctx context.Context, rec types.AssetRecord) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     EntryName(rec),
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return w.fail(err)
	}
	if _, err := entry.Write(rec.Data); err != nil {
		return w.fail(err)
	}
	// push the entry out now instead of when the zip buffer fills
	if err := w.zw.Flush(); err != nil {
		return w.fail(err)
	}
	w.entries++
	return nil
}

// Entries is the number of entries added so far.
func (w *Writer) Entries() int {
	return w.entries
}

// Close writes the central directory. It does not close the sink.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.sink.err != nil {
		return &types.DeliveryError{Err: w.sink.err}
	}
	if err := w.zw.Close(); err != nil {
		return w.fail(err)
	}
	return nil
}

func (w *Writer) check(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("archive: add after close")
	}
	if w.sink.err != nil {
		return &types.DeliveryError{Err: w.sink.err}
	}
	if err := ctx.Err(); err != nil {
		return &types.DeliveryError{Err: err}
	}
	return nil
}

// fail attributes err to the sink when the sink is what broke.
func (w *Writer) fail(err error) error {
	if w.sink.err != nil {
		return &types.DeliveryError{Err: w.sink.err}
	}
	return fmt.Errorf("archive: %w", err)
}

// Stream writes records to sink as a complete archive.
func Stream(ctx context.Context, sink io.Writer, records []types.AssetRecord) error {
	w := NewWriter(sink)
	for _, rec := range records {
		if err := w.Add(ctx, rec); err != nil {
			return err
		}
	}
	return w.Close()
}

// sinkWriter remembers the first write failure so it is never retried.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}
