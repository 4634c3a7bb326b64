package image

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imager/internal/api/respond"
	"github.com/aliskhannn/imager/internal/model"
	"github.com/aliskhannn/imager/internal/storage"
)

// service defines the interface for image-related operations.
type service interface {
	ProcessUpload(ctx context.Context, fh *multipart.FileHeader) (model.Artifact, error)
	ProcessUploads(ctx context.Context, fhs []*multipart.FileHeader) (model.BatchResult, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]string, error)
	Discard(ctx context.Context, art model.Artifact)
}

var listingTemplate = template.Must(template.New("files").Parse(
	`<h1>Files and Folders</h1><ul>{{range .}}<li><a href="/files/{{.}}">{{.}}</a></li>{{end}}</ul>`,
))

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service   service
	maxFiles  int
	maxMemory int64
}

// NewHandler creates a new Handler with the given service.
// maxFiles caps a batch upload; maxMemory is passed to ParseMultipartForm.
func NewHandler(s service, maxFiles int, maxMemory int64) *Handler {
	return &Handler{service: s, maxFiles: maxFiles, maxMemory: maxMemory}
}

// Upload processes the single file in the "image" field and streams the
// JPEG back as a download. The server-side copy is deleted afterwards.
func (h *Handler) Upload(c *ginext.Context) {
	if err := c.Request.ParseMultipartForm(h.maxMemory); err != nil {
		zlog.Logger.Err(err).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("no image in upload")
		respond.Fail(c, http.StatusBadRequest, "No image uploaded")
		return
	}

	zlog.Logger.Info().
		Str("filename", fh.Filename).
		Int64("size", fh.Size).
		Msg("uploaded file")

	ctx := c.Request.Context()

	art, err := h.service.ProcessUpload(ctx, fh)
	if err != nil {
		zlog.Logger.Err(err).Str("filename", fh.Filename).Msg("error processing image")
		respond.Fail(c, http.StatusInternalServerError, "Error processing image")
		return
	}
	defer h.service.Discard(context.WithoutCancel(ctx), art)

	reader, err := h.service.Open(ctx, art.Name)
	if err != nil {
		zlog.Logger.Err(err).Str("file", art.Location).Msg("failed to open processed image")
		respond.Fail(c, http.StatusInternalServerError, "Error processing image")
		return
	}
	defer reader.Close()

	respond.JPEG(c, art.Name, art.Size, reader)
}

// UploadMultiple processes up to maxFiles files from the "images" field and
// returns a JSON manifest of the processed outputs in submission order.
func (h *Handler) UploadMultiple(c *ginext.Context) {
	if err := c.Request.ParseMultipartForm(h.maxMemory); err != nil {
		zlog.Logger.Err(err).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	fhs := c.Request.MultipartForm.File["images"]
	switch {
	case len(fhs) == 0:
		respond.Fail(c, http.StatusBadRequest, "No images uploaded")
		return
	case len(fhs) > h.maxFiles:
		respond.Fail(c, http.StatusBadRequest, "Too many files: at most "+strconv.Itoa(h.maxFiles)+" allowed")
		return
	}

	zlog.Logger.Info().Int("count", len(fhs)).Msg("uploaded files")

	res, err := h.service.ProcessUploads(c.Request.Context(), fhs)
	if err != nil {
		zlog.Logger.Err(err).Int("count", len(fhs)).Msg("error processing images")
		respond.Fail(c, http.StatusInternalServerError, "Error processing images")
		return
	}

	manifest := respond.Manifest{Message: "Images processed", Files: []string{}}
	for _, art := range res.Artifacts() {
		manifest.Files = append(manifest.Files, art.Location)
	}
	for _, it := range res.Failed() {
		manifest.Failed = append(manifest.Failed, respond.FailedFile{
			File:  it.Source.OriginalName,
			Error: it.Err.Error(),
		})
	}

	respond.OK(c, manifest)
}

// ListFiles renders an HTML listing of the processed outputs.
func (h *Handler) ListFiles(c *ginext.Context) {
	names, err := h.service.List(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list files")
		respond.Fail(c, http.StatusInternalServerError, "Unable to scan directory")
		return
	}

	buf := new(bytes.Buffer)
	if err := listingTemplate.Execute(buf, names); err != nil {
		zlog.Logger.Err(err).Msg("failed to render listing")
		respond.Fail(c, http.StatusInternalServerError, "Unable to scan directory")
		return
	}

	respond.HTML(c, http.StatusOK, buf.Bytes())
}

// GetFile serves a processed output by name.
func (h *Handler) GetFile(c *ginext.Context) {
	name := c.Param("name")
	if err := storage.ValidateName(name); err != nil {
		zlog.Logger.Warn().Str("name", name).Msg("invalid file name")
		respond.Fail(c, http.StatusBadRequest, "Invalid file name")
		return
	}

	reader, err := h.service.Open(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respond.Fail(c, http.StatusNotFound, "File not found")
		case errors.Is(err, storage.ErrInvalidName):
			respond.Fail(c, http.StatusBadRequest, "Invalid file name")
		default:
			zlog.Logger.Err(err).Str("name", name).Msg("failed to open file")
			respond.Fail(c, http.StatusInternalServerError, "Unable to read file")
		}
		return
	}
	defer reader.Close()

	respond.File(c, contentType(name), reader)
}

// Health reports that the server is accepting requests.
func (h *Handler) Health(c *ginext.Context) {
	respond.Text(c, http.StatusOK, "ok")
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
