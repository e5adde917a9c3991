package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mahirjain10/go-resizer/internal/archive"
	"github.com/mahirjain10/go-resizer/internal/cachekey"
	"github.com/mahirjain10/go-resizer/internal/types"
)

const deviceHeader = "X-Device-ID"

type itemView struct {
	Index      int    `json:"index"`
	FileName   string `json:"fileName"`
	Status     string `json:"status"`
	Provenance string `json:"provenance,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	DataURI    string `json:"dataUri,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleResize(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		s.badRequest(c, &types.ParameterError{Name: "image", Reason: "expected a multipart upload within the size limit"})
		return
	}
	headers := form.File["image"]
	if len(headers) == 0 {
		s.badRequest(c, &types.ParameterError{Name: "image", Reason: "at least one file is required"})
		return
	}
	if len(headers) > s.cfg.MaxFiles {
		s.badRequest(c, &types.ParameterError{Name: "image", Reason: fmt.Sprintf("at most %d files per request", s.cfg.MaxFiles)})
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	opts.ClientID = s.clientID(c)

	files, err := readFiles(headers)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	switch {
	case c.PostForm("download") != "on":
		s.respondInline(c, files, opts)
	case len(files) == 1:
		s.respondSingle(c, files, opts)
	default:
		s.respondArchive(c, files, opts)
	}
}

func (s *Server) respondInline(c *gin.Context, files []types.SourceFile, opts types.TransformOptions) {
	result, err := s.batches.ResolveAll(c.Request.Context(), files, opts)
	if err != nil && !errors.Is(err, types.ErrBatchFailed) {
		s.resolveFailed(c, err)
		return
	}

	views := make([]itemView, len(result))
	var added []GalleryEntry
	for i, item := range result {
		views[i] = viewOf(files[item.Index].Name, item)
		if item.OK() {
			views[i].DataURI = "data:" + item.Record.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(item.Record.Data)
			added = append(added, GalleryEntry{FileName: item.Record.FileName, Options: item.Record.Options})
		}
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": types.ErrBatchFailed.Error(), "items": views})
		return
	}

	gallery := galleryOf(c)
	gallery.Append(added...)
	c.JSON(http.StatusOK, gin.H{"items": views, "gallery": gallery.Entries()})
}

func (s *Server) respondSingle(c *gin.Context, files []types.SourceFile, opts types.TransformOptions) {
	result, err := s.batches.ResolveAll(c.Request.Context(), files, opts)
	if err != nil {
		if errors.Is(err, types.ErrBatchFailed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": types.ErrBatchFailed.Error(), "items": []itemView{viewOf(files[0].Name, result[0])}})
			return
		}
		s.resolveFailed(c, err)
		return
	}
	rec := result[0].Record
	c.Header("Content-Disposition", attachment("resized-"+rec.FileName))
	c.Data(http.StatusOK, rec.ContentType(), rec.Data)
	s.observer.Delivery(nil)
}

// respondArchive streams entries as their items resolve. Headers are only
// committed with the first successful entry, so a batch where everything
// failed can still be answered with an error status.
func (s *Server) respondArchive(c *gin.Context, files []types.SourceFile, opts types.TransformOptions) {
	ctx := c.Request.Context()
	zw := archive.NewWriter(c.Writer)
	var failed []itemView

	err := s.batches.Stream(ctx, files, opts, func(item types.BatchItem) error {
		if !item.OK() {
			failed = append(failed, viewOf(files[item.Index].Name, item))
			return nil
		}
		if zw.Entries() == 0 {
			c.Header("Content-Type", "application/zip")
			c.Header("Content-Disposition", attachment(archive.FileName))
			c.Status(http.StatusOK)
		}
		return zw.Add(ctx, item.Record)
	})
	if err == nil && zw.Entries() > 0 {
		err = zw.Close()
	}

	switch {
	case err == nil && zw.Entries() == 0:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": types.ErrBatchFailed.Error(), "items": failed})
	case err == nil:
		s.observer.Delivery(nil)
		if len(failed) > 0 {
			s.logger.Info("archive delivered without failed items", "entries", zw.Entries(), "failed", len(failed))
		}
	case zw.Entries() == 0 && errors.Is(err, types.ErrInvalidParameter):
		s.badRequest(c, err)
	default:
		// headers may already be out, so all that is left is to stop writing
		s.observer.Delivery(err)
		s.logger.Warn("archive delivery aborted", "entries", zw.Entries(), "err", err)
		c.Abort()
	}
}

func (s *Server) handleDownload(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.badRequest(c, &types.ParameterError{Name: "index", Reason: "must be an integer"})
		return
	}
	entry, ok := galleryOf(c).At(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such image in this session"})
		return
	}
	key, err := cachekey.ForFile(entry.FileName, entry.Options)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	rec, err := s.assets.Fetch(c.Request.Context(), key, entry.Options)
	switch {
	case errors.Is(err, types.ErrAssetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "image has expired, resize it again"})
		return
	case err != nil:
		s.logger.Error("download lookup failed", "key", key, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage is unavailable"})
		return
	}
	c.Header("Content-Disposition", attachment("resized-image-"+entry.FileName))
	c.Data(http.StatusOK, rec.ContentType(), rec.Data)
	s.observer.Delivery(nil)
}

func (s *Server) handleGallery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"gallery": galleryOf(c).Entries()})
}

func (s *Server) clientID(c *gin.Context) string {
	if id := c.GetHeader(deviceHeader); id != "" {
		return id
	}
	return s.cfg.DeviceID
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) resolveFailed(c *gin.Context, err error) {
	if errors.Is(err, types.ErrInvalidParameter) {
		s.badRequest(c, err)
		return
	}
	s.logger.Error("resize request failed", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "resize failed"})
}

// parseOptions reads the shared transform template from the form.
func parseOptions(c *gin.Context) (types.TransformOptions, error) {
	var opts types.TransformOptions
	var err error

	if opts.Width, err = formInt(c, "width", true); err != nil {
		return opts, err
	}
	if opts.Height, err = formInt(c, "height", false); err != nil {
		return opts, err
	}
	if opts.Quality, err = formInt(c, "imageQuality", false); err != nil {
		return opts, err
	}
	if opts.Format, err = types.ParseFormat(c.PostForm("imageType")); err != nil {
		return opts, err
	}
	opts.Aspect = types.Stretch
	if c.PostForm("maintainAspectRatio") == "on" {
		opts.Aspect = types.Preserve
	}
	return opts, nil
}

func formInt(c *gin.Context, name string, required bool) (int, error) {
	raw := c.PostForm(name)
	if raw == "" {
		if required {
			return 0, &types.ParameterError{Name: name, Reason: "is required"}
		}
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &types.ParameterError{Name: name, Reason: "must be an integer"}
	}
	return n, nil
}

func readFiles(headers []*multipart.FileHeader) ([]types.SourceFile, error) {
	files := make([]types.SourceFile, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		files[i] = types.SourceFile{Name: fh.Filename, Data: data}
	}
	return files, nil
}

func viewOf(name string, item types.BatchItem) itemView {
	v := itemView{Index: item.Index, FileName: name}
	if !item.OK() {
		v.Status = "failed"
		v.Error = userMessage(item.Err)
		return v
	}
	v.Status = "ok"
	v.Provenance = string(item.Record.Provenance)
	v.Bytes = item.Record.Size()
	if item.Record.PersistErr != nil {
		v.Warning = "not saved to durable storage, later requests will recompute it"
	}
	return v
}

// userMessage keeps store endpoints and credentials out of responses.
func userMessage(err error) string {
	var pe *types.ParameterError
	var te *types.TransformError
	switch {
	case errors.As(err, &pe):
		return pe.Error()
	case errors.As(err, &te):
		return te.Error()
	default:
		return "internal error"
	}
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
