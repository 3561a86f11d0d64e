// Package imaging turns catalog images into payloads that fit the
// platform's custom emoji limits.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image too large after processing")
)

type Options struct {
	CellWidth  int
	CellHeight int
	MaxCells   int
	// MaxBytes is the largest payload accepted for a single emoji.
	MaxBytes int
}

func DefaultOptions() Options {
	return Options{CellWidth: 48, CellHeight: 48, MaxCells: 3, MaxBytes: 256 * 1024}
}

// Prepared holds one payload per cell, left to right.
type Prepared struct {
	Cells       [][]byte
	Animated    bool
	ContentType string
}

// Prepare decodes data and returns upload-ready cells. Animated GIFs are
// passed through untouched unless they exceed MaxBytes, in which case the
// first frame is processed as a static image.
func Prepare(data []byte, opts Options) (*Prepared, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	var img image.Image
	if format == "gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		if len(g.Image) > 1 && len(data) <= opts.MaxBytes {
			return &Prepared{Cells: [][]byte{data}, Animated: true, ContentType: "image/gif"}, nil
		}
		img = firstFrame(g)
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
	}

	cells, err := slice(img, opts)
	if err != nil {
		return nil, err
	}
	return &Prepared{Cells: cells, ContentType: "image/png"}, nil
}

// CellCount is the number of cells an image of the given width occupies.
func CellCount(width int, opts Options) int {
	n := int(math.Round(float64(width) / float64(opts.CellWidth)))
	if n < 1 {
		n = 1
	}
	if n > opts.MaxCells {
		n = opts.MaxCells
	}
	return n
}

func slice(img image.Image, opts Options) ([][]byte, error) {
	thumb := resize.Thumbnail(uint(opts.CellWidth*opts.MaxCells), uint(opts.CellHeight), img, resize.Lanczos3)
	n := CellCount(thumb.Bounds().Dx(), opts)

	if n == 1 {
		cell, err := encodePNG(thumb, opts.MaxBytes)
		if err != nil {
			return nil, err
		}
		return [][]byte{cell}, nil
	}

	canvas := image.NewRGBA(image.Rect(0, 0, opts.CellWidth*n, opts.CellHeight))
	draw.Draw(canvas, thumb.Bounds().Sub(thumb.Bounds().Min), thumb, thumb.Bounds().Min, draw.Src)

	cells := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		rect := image.Rect(i*opts.CellWidth, 0, (i+1)*opts.CellWidth, opts.CellHeight)
		cell, err := encodePNG(canvas.SubImage(rect), opts.MaxBytes)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func firstFrame(g *gif.GIF) image.Image {
	frame := g.Image[0]
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		return frame
	}
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	return canvas
}

func encodePNG(img image.Image, maxBytes int) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	if maxBytes > 0 && buf.Len() > maxBytes {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// ContentType sniffs the image format of data for attachments.
func ContentType(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "application/octet-stream"
	}
	return "image/" + format
}
