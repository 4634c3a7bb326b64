// Package staging keeps raw uploads on disk until the pipeline is done with them.
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/imager/internal/model"
)

// Area is the staging directory for raw uploads.
type Area struct {
	dir string
}

// New creates the staging directory if absent.
func New(dir string) (*Area, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
	}

	return &Area{dir: dir}, nil
}

// Dir returns the staging directory.
func (a *Area) Dir() string {
	return a.dir
}

// Stage copies a multipart file into the staging area.
func (a *Area) Stage(fh *multipart.FileHeader) (*Lease, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file %s: %w", fh.Filename, err)
	}
	defer src.Close()

	return a.StageReader(fh.Filename, fh.Header.Get("Content-Type"), src)
}

// StageReader copies src into a uniquely named file in the staging area.
// The returned lease owns the file.
func (a *Area) StageReader(originalName, mimeHint string, src io.Reader) (*Lease, error) {
	name := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString() + extension(originalName)
	path := filepath.Join(a.dir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file %s: %w", path, err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to stage %s: %w", originalName, err)
	}

	return &Lease{upload: model.StagedUpload{
		Path:         path,
		OriginalName: originalName,
		MimeHint:     mimeHint,
		Size:         n,
	}}, nil
}

// extension keeps a short alphanumeric extension of the client's file name.
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}

	return ext
}

// Lease owns a staged upload. Release deletes the file exactly once no
// matter how many times it is called.
type Lease struct {
	upload model.StagedUpload

	once sync.Once
	err  error
}

// Upload returns the staged upload.
func (l *Lease) Upload() model.StagedUpload {
	return l.upload
}

// Release removes the staged file. A file that is already gone is not an error.
func (l *Lease) Release() error {
	l.once.Do(func() {
		if err := os.Remove(l.upload.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.err = fmt.Errorf("failed to remove staged file %s: %w", l.upload.Path, err)
		}
	})

	return l.err
}

// Uploads returns the staged uploads of leases, in order.
func Uploads(leases []*Lease) []model.StagedUpload {
	out := make([]model.StagedUpload, len(leases))
	for i, l := range leases {
		out[i] = l.Upload()
	}

	return out
}

// ReleaseAll releases every lease and joins the failures.
func ReleaseAll(leases []*Lease) error {
	var errs []error
	for _, l := range leases {
		if err := l.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
