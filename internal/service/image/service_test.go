package image

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imager/internal/model"
	"github.com/aliskhannn/imager/internal/processor"
	"github.com/aliskhannn/imager/internal/storage/file"
	"github.com/aliskhannn/imager/internal/storage/staging"
	"github.com/aliskhannn/imager/internal/watermark"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.ProcessedEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev model.ProcessedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type env struct {
	svc       *Service
	uploadDir string
	outputDir string
	pub       *fakePublisher
}

func newEnv(t *testing.T, isolate bool) env {
	t.Helper()

	root := t.TempDir()
	e := env{
		uploadDir: filepath.Join(root, "uploads"),
		outputDir: filepath.Join(root, "processed"),
		pub:       &fakePublisher{},
	}

	area, err := staging.New(e.uploadDir)
	require.NoError(t, err)
	store, err := file.NewStorage(e.outputDir)
	require.NoError(t, err)
	overlay, err := watermark.Render(watermark.DefaultSpec("Imager.com"))
	require.NoError(t, err)

	p := processor.New(store, overlay, processor.DefaultOptions())
	e.svc = NewService(area, p, store, Options{Publisher: e.pub, IsolateFailures: isolate})

	return e
}

type upload struct {
	name string
	data []byte
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, imaging.New(w, h, color.NRGBA{G: 200, A: 255}), imaging.PNG))

	return buf.Bytes()
}

// fileHeaders builds the multipart file headers a request with uploads would carry.
func fileHeaders(t *testing.T, field string, uploads ...upload) []*multipart.FileHeader {
	t.Helper()

	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	for _, u := range uploads {
		part, err := w.CreateFormFile(field, u.name)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))

	return req.MultipartForm.File[field]
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessUpload(t *testing.T) {
	e := newEnv(t, false)
	fhs := fileHeaders(t, "image", upload{"photo.png", pngBytes(t, 1920, 1080)})

	art, err := e.svc.ProcessUpload(context.Background(), fhs[0])
	require.NoError(t, err)

	assert.Equal(t, "photo.png", art.Source.OriginalName)
	assert.Equal(t, filepath.Join(e.outputDir, art.Name), art.Location)
	assert.Empty(t, dirEntries(t, e.uploadDir), "staged upload must be released")
	assert.Equal(t, []string{art.Name}, dirEntries(t, e.outputDir))

	require.Len(t, e.pub.events, 1)
	assert.Equal(t, art.ID, e.pub.events[0].ID)

	e.svc.Discard(context.Background(), art)
	assert.Empty(t, dirEntries(t, e.outputDir))

	// discarding twice is harmless
	e.svc.Discard(context.Background(), art)
}

func TestProcessUpload_DecodeError(t *testing.T) {
	e := newEnv(t, false)
	fhs := fileHeaders(t, "image", upload{"broken.png", []byte("not an image")})

	_, err := e.svc.ProcessUpload(context.Background(), fhs[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrDecode)

	assert.Empty(t, dirEntries(t, e.uploadDir))
	assert.Empty(t, dirEntries(t, e.outputDir))
	assert.Empty(t, e.pub.events)
}

func TestProcessUpload_ClientGone(t *testing.T) {
	e := newEnv(t, false)
	fhs := fileHeaders(t, "image", upload{"photo.png", pngBytes(t, 64, 64)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.svc.ProcessUpload(ctx, fhs[0])
	require.NoError(t, err)
	assert.Empty(t, dirEntries(t, e.uploadDir))
}

func TestProcessUploads(t *testing.T) {
	e := newEnv(t, false)
	fhs := fileHeaders(t, "images",
		upload{"one.png", pngBytes(t, 1024, 768)},
		upload{"two.png", pngBytes(t, 10, 10)},
		upload{"three.png", pngBytes(t, 300, 900)},
	)

	res, err := e.svc.ProcessUploads(context.Background(), fhs)
	require.NoError(t, err)

	arts := res.Artifacts()
	require.Len(t, arts, 3)
	for i, want := range []string{"one.png", "two.png", "three.png"} {
		assert.Equal(t, want, arts[i].Source.OriginalName)
	}

	assert.Empty(t, dirEntries(t, e.uploadDir))
	assert.Len(t, dirEntries(t, e.outputDir), 3)
	assert.Len(t, e.pub.events, 3)
}

func TestProcessUploads_AllOrNothing(t *testing.T) {
	e := newEnv(t, false)
	fhs := fileHeaders(t, "images",
		upload{"one.png", pngBytes(t, 64, 64)},
		upload{"bad.png", []byte("garbage")},
		upload{"three.png", pngBytes(t, 64, 64)},
	)

	res, err := e.svc.ProcessUploads(context.Background(), fhs)
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrDecode)
	assert.Empty(t, res.Items)
	assert.Empty(t, res.Artifacts())

	assert.Empty(t, dirEntries(t, e.uploadDir), "every staged upload must be released")
	assert.Empty(t, dirEntries(t, e.outputDir), "partial outputs must be discarded")
	assert.Empty(t, e.pub.events)
}

func TestProcessUploads_IsolateFailures(t *testing.T) {
	e := newEnv(t, true)
	fhs := fileHeaders(t, "images",
		upload{"one.png", pngBytes(t, 64, 64)},
		upload{"bad.png", []byte("garbage")},
		upload{"three.png", pngBytes(t, 64, 64)},
	)

	res, err := e.svc.ProcessUploads(context.Background(), fhs)
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.True(t, res.Items[0].OK())
	assert.ErrorIs(t, res.Items[1].Err, processor.ErrDecode)
	assert.True(t, res.Items[2].OK())

	assert.Empty(t, dirEntries(t, e.uploadDir))
	assert.Len(t, dirEntries(t, e.outputDir), 2)
	assert.Len(t, e.pub.events, 2)
}

func TestProcessUploads_NoFiles(t *testing.T) {
	e := newEnv(t, false)

	_, err := e.svc.ProcessUploads(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestOpenAndList(t *testing.T) {
	e := newEnv(t, false)
	fhs := fileHeaders(t, "images",
		upload{"one.png", pngBytes(t, 64, 64)},
		upload{"two.png", pngBytes(t, 64, 64)},
	)

	res, err := e.svc.ProcessUploads(context.Background(), fhs)
	require.NoError(t, err)

	names, err := e.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 2)

	rc, err := e.svc.Open(context.Background(), res.Artifacts()[0].Name)
	require.NoError(t, err)
	defer rc.Close()

	img, err := imaging.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
}

// countingRecorder remembers how many cleanups failed.
type countingRecorder struct {
	mu       sync.Mutex
	cleanups int
}

func (r *countingRecorder) ObserveImage(time.Duration, error) {}

func (r *countingRecorder) CountImage(error) {}

func (r *countingRecorder) ObserveBatch(int, error) {}

func (r *countingRecorder) CleanupFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups++
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanups
}

var errDiskFull = errors.New("disk full")

// undeletableStore serves and lists outputs but refuses to delete them.
type undeletableStore struct {
	*file.Storage
}

func (undeletableStore) Delete(context.Context, string) error {
	return errDiskFull
}

// pinnedInputs runs the real pipeline, then swaps every staged file for a
// non-empty directory so that releasing it fails.
type pinnedInputs struct {
	t *testing.T
	pipeline
}

func (p pinnedInputs) ProcessImage(ctx context.Context, in model.StagedUpload) (model.Artifact, error) {
	art, err := p.pipeline.ProcessImage(ctx, in)
	p.pin(in)
	return art, err
}

func (p pinnedInputs) ProcessBatch(ctx context.Context, inputs []model.StagedUpload) (model.BatchResult, error) {
	res, err := p.pipeline.ProcessBatch(ctx, inputs)
	for _, in := range inputs {
		p.pin(in)
	}
	return res, err
}

func (p pinnedInputs) pin(in model.StagedUpload) {
	require.NoError(p.t, os.Remove(in.Path))
	require.NoError(p.t, os.Mkdir(in.Path, 0o755))
	require.NoError(p.t, os.WriteFile(filepath.Join(in.Path, "keep"), []byte("x"), 0o644))
}

func newStuckService(t *testing.T) (*Service, *countingRecorder) {
	t.Helper()

	root := t.TempDir()
	area, err := staging.New(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	store, err := file.NewStorage(filepath.Join(root, "processed"))
	require.NoError(t, err)
	overlay, err := watermark.Render(watermark.DefaultSpec("Imager.com"))
	require.NoError(t, err)

	rec := &countingRecorder{}
	p := pinnedInputs{t: t, pipeline: processor.New(store, overlay, processor.DefaultOptions())}
	svc := NewService(area, p, undeletableStore{store}, Options{Recorder: rec})

	return svc, rec
}

func TestProcessUploads_CleanupFailuresAreNotReturned(t *testing.T) {
	svc, rec := newStuckService(t)
	fhs := fileHeaders(t, "images",
		upload{"one.png", pngBytes(t, 64, 64)},
		upload{"bad.png", []byte("garbage")},
		upload{"three.png", pngBytes(t, 64, 64)},
	)

	var (
		res model.BatchResult
		err error
	)
	require.NotPanics(t, func() {
		res, err = svc.ProcessUploads(context.Background(), fhs)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrDecode)
	assert.NotErrorIs(t, err, errDiskFull)
	assert.Empty(t, res.Items)

	// two outputs that could not be discarded, three staged files that could not be released
	assert.Equal(t, 5, rec.count())
}

func TestProcessUploads_CleanupFailuresAfterSuccess(t *testing.T) {
	svc, rec := newStuckService(t)
	fhs := fileHeaders(t, "images",
		upload{"one.png", pngBytes(t, 64, 64)},
		upload{"two.png", pngBytes(t, 64, 64)},
	)

	res, err := svc.ProcessUploads(context.Background(), fhs)
	require.NoError(t, err)
	assert.Len(t, res.Artifacts(), 2)
	assert.Equal(t, 2, rec.count())
}

func TestDiscard_DeleteFails(t *testing.T) {
	svc, rec := newStuckService(t)
	fhs := fileHeaders(t, "image", upload{"photo.png", pngBytes(t, 64, 64)})

	art, err := svc.ProcessUpload(context.Background(), fhs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(), "staged file could not be released")

	require.NotPanics(t, func() {
		svc.Discard(context.Background(), art)
	})
	assert.Equal(t, 2, rec.count())
}
