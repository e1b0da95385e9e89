// Package assemble composes captured tiles into one raster and encodes it.
// It knows nothing about tabs or scrolling.
package assemble

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// Raster limits, matching Chrome's canvas ceiling.
const (
	DefaultMaxSide = 32767
	DefaultMaxArea = 268435456
)

// Assembler holds the raster limits and JPEG quality.
type Assembler struct {
	JPEGQuality int
	MaxSide     int
	MaxArea     int
}

// New returns an Assembler with the default limits.
func New() *Assembler {
	return &Assembler{
		JPEGQuality: shot.JPEGQuality,
		MaxSide:     DefaultMaxSide,
		MaxArea:     DefaultMaxArea,
	}
}

func (a *Assembler) check(width, height int) error {
	if width <= 0 || height <= 0 {
		return shot.Wrap(shot.KindEncode, "Invalid image size",
			fmt.Errorf("assemble: size %dx%d", width, height))
	}
	maxSide, maxArea := a.MaxSide, a.MaxArea
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if maxArea <= 0 {
		maxArea = DefaultMaxArea
	}
	if width > maxSide || height > maxSide || width*height > maxArea {
		return shot.Wrap(shot.KindEncode, "Page is too large to capture",
			fmt.Errorf("assemble: size %dx%d exceeds limits", width, height))
	}
	return nil
}

// Compose allocates a width x height surface and draws each tile at
// (0, InsertY) in order. Later tiles overwrite earlier ones where they
// overlap; anything beyond the surface is clipped.
func (a *Assembler) Compose(tiles []shot.Tile, width, height int) (*image.RGBA, error) {
	if err := a.check(width, height); err != nil {
		return nil, err
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for _, t := range tiles {
		if t.Raster == nil {
			continue
		}
		b := t.Raster.Bounds()
		xdraw.Copy(canvas, image.Pt(0, t.InsertY), t.Raster, b, xdraw.Src, nil)
	}
	return canvas, nil
}

// Encode serialises img as png (lossless) or jpg at the configured quality.
func (a *Assembler) Encode(img image.Image, format shot.Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case shot.FormatJPG:
		q := a.JPEGQuality
		if q <= 0 {
			q = shot.JPEGQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	case shot.FormatPNG, "":
		err = png.Encode(&buf, img)
	default:
		err = fmt.Errorf("assemble: unknown format %q", format)
	}
	if err != nil {
		return nil, shot.Wrap(shot.KindEncode, "Failed to encode the image", err)
	}
	return buf.Bytes(), nil
}

// Assemble composes tiles and encodes the result.
func (a *Assembler) Assemble(tiles []shot.Tile, width, height int, format shot.Format) ([]byte, error) {
	canvas, err := a.Compose(tiles, width, height)
	if err != nil {
		return nil, err
	}
	return a.Encode(canvas, format)
}

// TrimTop drops the first rows of img. It returns nil when nothing is left.
func TrimTop(img image.Image, rows int) image.Image {
	if rows <= 0 {
		return img
	}
	b := img.Bounds()
	if rows >= b.Dy() {
		return nil
	}
	r := image.Rect(b.Min.X, b.Min.Y+rows, b.Max.X, b.Max.Y)
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Copy(dst, image.Point{}, img, r, xdraw.Src, nil)
	return dst
}

// Crop copies r out of src into a new image whose origin is (0,0). The part
// of r outside src stays transparent.
func (a *Assembler) Crop(src image.Image, r shot.Rect) (*image.RGBA, error) {
	if err := a.check(r.Width, r.Height); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	sb := src.Bounds()
	sr := r.Image().Add(sb.Min)
	xdraw.Copy(dst, image.Point{}, src, sr, xdraw.Src, nil)
	return dst, nil
}
