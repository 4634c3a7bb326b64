package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/imager/internal/model"
	"github.com/aliskhannn/imager/internal/watermark"
)

// fileStorage defines where processed images are written.
// It may be a local directory or an S3-compatible bucket.
type fileStorage interface {
	Save(ctx context.Context, name string, src io.Reader) (string, error)
}

// Options fixes the shape of every artifact the Processor produces.
type Options struct {
	Width          int
	Height         int
	Quality        int                 // JPEG quality, 1-100
	Placement      watermark.Placement // corner the watermark is anchored to
	MaxConcurrency int                 // batch fan-out limit, 0 for none
}

// DefaultOptions returns 800x600 JPEG at quality 80 with a bottom-right watermark.
func DefaultOptions() Options {
	return Options{
		Width:     800,
		Height:    600,
		Quality:   80,
		Placement: watermark.SouthEast,
	}
}

// Processor resizes uploads, composites the watermark and stores the JPEG result.
type Processor struct {
	fileStorage fileStorage
	overlay     image.Image
	opts        Options
	now         func() time.Time
}

// New creates a Processor writing to fs. overlay is the pre-rendered
// watermark; nil disables compositing. Zero dimensions, quality and
// placement fall back to DefaultOptions.
func New(fs fileStorage, overlay image.Image, opts Options) *Processor {
	def := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.Quality <= 0 {
		opts.Quality = def.Quality
	}
	if opts.Placement == "" {
		opts.Placement = def.Placement
	}

	return &Processor{
		fileStorage: fs,
		overlay:     overlay,
		opts:        opts,
		now:         time.Now,
	}
}

// ProcessImage decodes the staged upload, resizes it to exactly
// Width x Height (aspect ratio is not kept), composites the watermark,
// encodes it as JPEG and saves it under a fresh unique name.
// It never deletes the input; the caller owns it.
func (p *Processor) ProcessImage(ctx context.Context, in model.StagedUpload) (model.Artifact, error) {
	src, err := imaging.Open(in.Path, imaging.AutoOrientation(true))
	if err != nil {
		return model.Artifact{}, &ProcessingError{Kind: ErrDecode, Path: in.Path, Err: err}
	}

	dst := imaging.Resize(src, p.opts.Width, p.opts.Height, imaging.Lanczos)

	if p.overlay != nil {
		pos := p.opts.Placement.Anchor(dst.Bounds(), p.overlay.Bounds().Size())
		dst = imaging.Overlay(dst, p.overlay, pos, 1.0)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, dst, imaging.JPEG, imaging.JPEGQuality(p.opts.Quality)); err != nil {
		return model.Artifact{}, &ProcessingError{Kind: ErrEncode, Path: in.Path, Err: err}
	}
	size := int64(buf.Len())

	createdAt := p.now()
	id := uuid.New()
	name := strconv.FormatInt(createdAt.UnixMilli(), 10) + "-" + id.String() + ".jpg"

	location, err := p.fileStorage.Save(ctx, name, buf)
	if err != nil {
		return model.Artifact{}, &ProcessingError{Kind: ErrWrite, Path: in.Path, Err: err}
	}

	zlog.Logger.Debug().
		Str("source", in.OriginalName).
		Str("output", location).
		Int64("bytes", size).
		Msg("image processed")

	return model.Artifact{
		ID:        id,
		Name:      name,
		Location:  location,
		Source:    in,
		Format:    "jpeg",
		Width:     dst.Bounds().Dx(),
		Height:    dst.Bounds().Dy(),
		Quality:   p.opts.Quality,
		Size:      size,
		CreatedAt: createdAt,
	}, nil
}

// ProcessBatch runs ProcessImage over every input concurrently.
// The result has one item per input in submission order, whatever the
// completion order. The returned error is the first failure observed, if any;
// every input has finished by the time ProcessBatch returns.
func (p *Processor) ProcessBatch(ctx context.Context, inputs []model.StagedUpload) (model.BatchResult, error) {
	items := make([]model.BatchItem, len(inputs))

	var g errgroup.Group
	if p.opts.MaxConcurrency > 0 {
		g.SetLimit(p.opts.MaxConcurrency)
	}

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			art, err := p.ProcessImage(ctx, in)
			items[i] = model.BatchItem{Source: in, Artifact: art, Err: err}
			if err != nil {
				return fmt.Errorf("item %d (%s): %w", i, in.OriginalName, err)
			}
			return nil
		})
	}

	err := g.Wait()

	return model.BatchResult{Items: items}, err
}
