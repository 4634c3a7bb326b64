// Package watermark renders text labels into transparent overlays.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/aliskhannn/imager/internal/config"
)

// Placement is the corner of the target image the overlay is anchored to.
type Placement string

const (
	SouthEast Placement = "southeast"
	SouthWest Placement = "southwest"
	NorthEast Placement = "northeast"
	NorthWest Placement = "northwest"
)

// Spec describes a rendered watermark.
type Spec struct {
	Text        string
	FontSize    float64 // points at 72 DPI, i.e. pixels
	StrokeWidth float64
	StrokeColor color.Color
	FillColor   color.Color
	Width       int
	Height      int
	Placement   Placement
}

// DefaultSpec returns a 400x50 bold label: white 2px outline, black fill, anchored bottom-right.
func DefaultSpec(text string) Spec {
	return Spec{
		Text:        text,
		FontSize:    25,
		StrokeWidth: 2,
		StrokeColor: color.White,
		FillColor:   color.Black,
		Width:       400,
		Height:      50,
		Placement:   SouthEast,
	}
}

var (
	boldOnce sync.Once
	boldFont *truetype.Font
	boldErr  error
)

// boldFace returns a new face for the embedded Go Bold font.
// Faces are not safe for concurrent use, so every render gets its own.
func boldFace(size float64) (font.Face, error) {
	boldOnce.Do(func() {
		boldFont, boldErr = truetype.Parse(gobold.TTF)
	})
	if boldErr != nil {
		return nil, fmt.Errorf("failed to parse bold font: %w", boldErr)
	}

	return truetype.NewFace(boldFont, &truetype.Options{Size: size}), nil
}

// Render draws spec.Text centred on a transparent canvas: an outline in
// StrokeColor first, then the glyphs in FillColor on top.
func Render(spec Spec) (image.Image, error) {
	dc, err := draw(spec)
	if err != nil {
		return nil, err
	}

	return dc.Image(), nil
}

// Generate renders spec and encodes the result as PNG.
func Generate(spec Spec) ([]byte, error) {
	dc, err := draw(spec)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := dc.EncodePNG(buf); err != nil {
		return nil, fmt.Errorf("failed to encode watermark: %w", err)
	}

	return buf.Bytes(), nil
}

func draw(spec Spec) (*gg.Context, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("invalid watermark size %dx%d", spec.Width, spec.Height)
	}

	face, err := boldFace(spec.FontSize)
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(spec.Width, spec.Height)
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()
	dc.SetFontFace(face)

	x := float64(spec.Width) / 2
	y := float64(spec.Height) / 2

	// gg has no text stroking; the outline is the text stamped at every
	// offset within half the stroke width.
	if spec.StrokeWidth > 0 && spec.StrokeColor != nil {
		r := spec.StrokeWidth / 2
		n := int(math.Ceil(r))

		dc.SetColor(spec.StrokeColor)
		for dy := -n; dy <= n; dy++ {
			for dx := -n; dx <= n; dx++ {
				if (dx == 0 && dy == 0) || float64(dx*dx+dy*dy) > r*r {
					continue
				}
				dc.DrawStringAnchored(spec.Text, x+float64(dx), y+float64(dy), 0.5, 0.5)
			}
		}
	}

	fill := spec.FillColor
	if fill == nil {
		fill = color.Black
	}
	dc.SetColor(fill)
	dc.DrawStringAnchored(spec.Text, x, y, 0.5, 0.5)

	return dc, nil
}

// ParseColor parses a hex colour such as "#000000".
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(strings.TrimSpace(hex))
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q: %w", hex, err)
	}

	r, g, b := c.RGB255()

	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// ParsePlacement validates a placement name; an empty name means SouthEast.
func ParsePlacement(s string) (Placement, error) {
	switch p := Placement(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SouthEast, nil
	case SouthEast, SouthWest, NorthEast, NorthWest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown placement %q", s)
	}
}

// Anchor returns the top-left point at which an overlay of the given size
// must be drawn onto dst to sit flush in the placement's corner.
func (p Placement) Anchor(dst image.Rectangle, overlay image.Point) image.Point {
	switch p {
	case NorthWest:
		return dst.Min
	case NorthEast:
		return image.Pt(dst.Max.X-overlay.X, dst.Min.Y)
	case SouthWest:
		return image.Pt(dst.Min.X, dst.Max.Y-overlay.Y)
	default:
		return image.Pt(dst.Max.X-overlay.X, dst.Max.Y-overlay.Y)
	}
}

// NewSpec builds a Spec from configuration.
func NewSpec(cfg config.Watermark) (Spec, error) {
	spec := DefaultSpec(cfg.Text)

	if cfg.FontSize > 0 {
		spec.FontSize = cfg.FontSize
	}
	if cfg.StrokeWidth >= 0 {
		spec.StrokeWidth = cfg.StrokeWidth
	}
	if cfg.Width > 0 {
		spec.Width = cfg.Width
	}
	if cfg.Height > 0 {
		spec.Height = cfg.Height
	}

	var err error
	if cfg.StrokeColor != "" {
		if spec.StrokeColor, err = ParseColor(cfg.StrokeColor); err != nil {
			return Spec{}, fmt.Errorf("stroke colour: %w", err)
		}
	}
	if cfg.FillColor != "" {
		if spec.FillColor, err = ParseColor(cfg.FillColor); err != nil {
			return Spec{}, fmt.Errorf("fill colour: %w", err)
		}
	}
	if spec.Placement, err = ParsePlacement(cfg.Placement); err != nil {
		return Spec{}, err
	}

	return spec, nil
}
