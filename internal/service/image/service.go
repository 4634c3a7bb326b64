package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/imager/internal/model"
	"github.com/aliskhannn/imager/internal/storage"
	"github.com/aliskhannn/imager/internal/storage/staging"
)

// ErrNoFiles is returned for a batch without files.
var ErrNoFiles = errors.New("no files uploaded")

// stager copies raw uploads into the staging area.
type stager interface {
	Stage(fh *multipart.FileHeader) (*staging.Lease, error)
}

// pipeline runs the image processing steps.
type pipeline interface {
	ProcessImage(ctx context.Context, in model.StagedUpload) (model.Artifact, error)
	ProcessBatch(ctx context.Context, inputs []model.StagedUpload) (model.BatchResult, error)
}

// fileStorage gives access to processed outputs.
type fileStorage interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// publisher announces processed artifacts (e.g. to Kafka).
type publisher interface {
	Publish(ctx context.Context, ev model.ProcessedEvent) error
}

// recorder collects pipeline metrics.
type recorder interface {
	ObserveImage(d time.Duration, err error)
	CountImage(err error)
	ObserveBatch(size int, err error)
	CleanupFailed()
}

// Options tune the Service. Zero values are valid.
type Options struct {
	Publisher publisher // nil disables events
	Recorder  recorder  // nil disables metrics
	// IsolateFailures reports failed batch items next to the successful ones
	// instead of failing the whole batch.
	IsolateFailures bool
}

// Service ties the staging area, the pipeline and the output store together.
// Every staged upload is released before a Service call returns.
type Service struct {
	stager      stager
	pipeline    pipeline
	fileStorage fileStorage
	publisher   publisher
	recorder    recorder
	isolate     bool
}

// NewService creates a new Service.
func NewService(st stager, p pipeline, fs fileStorage, opts Options) *Service {
	s := &Service{
		stager:      st,
		pipeline:    p,
		fileStorage: fs,
		publisher:   opts.Publisher,
		recorder:    opts.Recorder,
		isolate:     opts.IsolateFailures,
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}

	return s
}

// ProcessUpload stages a single upload, runs it through the pipeline and
// releases the staged copy. The caller owns the returned artifact and should
// Discard it once delivered.
func (s *Service) ProcessUpload(ctx context.Context, fh *multipart.FileHeader) (model.Artifact, error) {
	lease, err := s.stager.Stage(fh)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("stage upload: %w", err)
	}
	defer s.release(lease)

	// In-flight work is not cancelled when the client goes away.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	art, err := s.pipeline.ProcessImage(ctx, lease.Upload())
	s.recorder.ObserveImage(time.Since(start), err)
	if err != nil {
		return model.Artifact{}, err
	}

	s.publish(ctx, art)

	return art, nil
}

// ProcessUploads stages every upload and processes them concurrently.
//
// By default the batch is all-or-nothing: if any item fails, the artifacts
// produced for the other items are deleted and the first failure is returned.
// With IsolateFailures the result carries per-item failures and the error is nil.
// Staged uploads are released in both cases.
func (s *Service) ProcessUploads(ctx context.Context, fhs []*multipart.FileHeader) (model.BatchResult, error) {
	if len(fhs) == 0 {
		return model.BatchResult{}, ErrNoFiles
	}

	leases := make([]*staging.Lease, 0, len(fhs))
	defer func() {
		if err := staging.ReleaseAll(leases); err != nil {
			for range failures(err) {
				s.recorder.CleanupFailed()
			}
			zlog.Logger.Err(err).Int("files", len(leases)).Msg("failed to delete staged files")
		}
	}()

	for _, fh := range fhs {
		lease, err := s.stager.Stage(fh)
		if err != nil {
			return model.BatchResult{}, fmt.Errorf("stage upload %s: %w", fh.Filename, err)
		}
		leases = append(leases, lease)
	}

	ctx = context.WithoutCancel(ctx)

	res, err := s.pipeline.ProcessBatch(ctx, staging.Uploads(leases))
	for _, it := range res.Items {
		s.recorder.CountImage(it.Err)
	}

	if err != nil && !s.isolate {
		s.recorder.ObserveBatch(len(fhs), err)
		for _, art := range res.Artifacts() {
			s.Discard(ctx, art)
		}
		return model.BatchResult{}, err
	}

	if first := res.Err(); first != nil {
		zlog.Logger.Warn().Err(first).Int("failed", len(res.Failed())).Int("files", len(fhs)).
			Msg("batch completed with failures")
	}

	s.recorder.ObserveBatch(len(fhs), nil)
	for _, art := range res.Artifacts() {
		s.publish(ctx, art)
	}

	return res, nil
}

// Open returns a reader for a processed output.
func (s *Service) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.fileStorage.Open(ctx, name)
}

// List returns the names of the processed outputs.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.fileStorage.List(ctx)
}

// Discard deletes a processed output. Failures are logged, not returned:
// by the time an artifact is discarded the response is already committed.
func (s *Service) Discard(ctx context.Context, art model.Artifact) {
	if err := s.fileStorage.Delete(ctx, art.Name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.recorder.CleanupFailed()
		zlog.Logger.Err(err).Str("file", art.Location).Msg("failed to delete processed file")
	}
}

func (s *Service) release(l *staging.Lease) {
	if err := l.Release(); err != nil {
		s.recorder.CleanupFailed()
		zlog.Logger.Err(err).Str("file", l.Upload().Path).Msg("failed to delete staged file")
	}
}

func (s *Service) publish(ctx context.Context, art model.Artifact) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, model.NewProcessedEvent(art)); err != nil {
		zlog.Logger.Err(err).Str("file", art.Location).Msg("failed to publish processed event")
	}
}

// failures splits an errors.Join result into its parts.
func failures(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}

	return []error{err}
}

type nopRecorder struct{}

func (nopRecorder) ObserveImage(time.Duration, error) {}

func (nopRecorder) CountImage(error) {}

func (nopRecorder) ObserveBatch(int, error) {}

func (nopRecorder) CleanupFailed() {}
