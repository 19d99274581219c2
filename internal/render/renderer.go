// Package render draws the square announcement image posted for an earthquake.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
)

const (
	// Size is the width and height of the rendered image in pixels.
	Size = 1080

	jpegQuality = 90
	sideMargin  = 60

	iconTop      = 200
	iconSize     = 100
	locationTop  = 350
	magnitudeTop = 450
	detailsLeft  = 150
	depthTop     = 650
	dateTop      = 750
	footerTop    = 980

	magnitudePt   = 90
	locationPt    = 60
	minLocationPt = 32
	detailPt      = 60
	footerPt      = 30

	footerText = "Kaynak: Kandilli Rasathanesi"
	dateLayout = "02.01.2006 15:04:05"
)

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
	red   = color.RGBA{200, 0, 0, 255}
	gray  = color.RGBA{100, 100, 100, 255}
	amber = color.RGBA{245, 180, 0, 255}
)

// Renderer writes earthquake images as JPEG files into a directory.
type Renderer struct {
	dir     string
	regular *opentype.Font
	bold    *opentype.Font
	logger  *slog.Logger
}

// NewRenderer prepares fonts and creates dir if needed.
func NewRenderer(dir string, logger *slog.Logger) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Renderer{dir: dir, regular: regular, bold: bold, logger: logger}, nil
}

// Render draws the image for q and returns the file path. Rendering the same
// earthquake again overwrites the previous file.
func (r *Renderer) Render(q domain.Earthquake) (string, error) {
	img, err := r.Draw(q)
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, q.ID+".jpg")
	tmp, err := os.CreateTemp(r.dir, ".render-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move image into place: %w", err)
	}

	r.logger.Debug("image rendered", "quake_id", q.ID, "path", path)
	return path, nil
}

// Draw lays out the image for q in memory.
func (r *Renderer) Draw(q domain.Earthquake) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)

	drawWarningIcon(img, (Size-iconSize)/2, iconTop, iconSize)

	location := strings.ToUpperSpecial(unicode.TurkishCase, q.Location)
	if err := r.drawFitted(img, r.bold, location, locationPt, locationTop, black); err != nil {
		return nil, err
	}
	if err := r.drawCentered(img, r.bold, "M "+domain.FormatMagnitude(q.Magnitude), magnitudePt, magnitudeTop, red); err != nil {
		return nil, err
	}
	if err := r.drawAt(img, r.regular, "Derinlik: "+domain.FormatDecimal(q.Depth)+" km", detailPt, detailsLeft, depthTop, black); err != nil {
		return nil, err
	}
	if err := r.drawAt(img, r.regular, "Tarih: "+q.Time.Format(dateLayout), detailPt, detailsLeft, dateTop, black); err != nil {
		return nil, err
	}
	if err := r.drawCentered(img, r.regular, footerText, footerPt, footerTop, gray); err != nil {
		return nil, err
	}
	return img, nil
}

// drawFitted centers text, shrinking the size until it fits between margins.
func (r *Renderer) drawFitted(img *image.RGBA, f *opentype.Font, text string, size float64, top int, c color.Color) error {
	for ; size > minLocationPt; size -= 4 {
		face, err := newFace(f, size)
		if err != nil {
			return err
		}
		width := font.MeasureString(face, text).Ceil()
		face.Close()
		if width <= Size-2*sideMargin {
			break
		}
	}
	return r.drawCentered(img, f, text, size, top, c)
}

func (r *Renderer) drawCentered(img *image.RGBA, f *opentype.Font, text string, size float64, top int, c color.Color) error {
	face, err := newFace(f, size)
	if err != nil {
		return err
	}
	defer face.Close()

	width := font.MeasureString(face, text).Ceil()
	left := max((Size-width)/2, 0)
	drawText(img, face, text, left, top, c)
	return nil
}

func (r *Renderer) drawAt(img *image.RGBA, f *opentype.Font, text string, size float64, left, top int, c color.Color) error {
	face, err := newFace(f, size)
	if err != nil {
		return err
	}
	defer face.Close()

	drawText(img, face, text, left, top, c)
	return nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create %.0fpt face: %w", size, err)
	}
	return face, nil
}

// drawText draws text with its top edge at top; font.Drawer positions by baseline.
func drawText(img *image.RGBA, face font.Face, text string, left, top int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(left, top+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

// drawWarningIcon fills an upward triangle with an exclamation mark inside
// the size x size square at (left, top).
func drawWarningIcon(img *image.RGBA, left, top, size int) {
	for y := 0; y < size; y++ {
		half := y / 2
		for x := size/2 - half; x <= size/2+half; x++ {
			img.Set(left+x, top+y, amber)
		}
	}
	// Exclamation mark: a bar and a dot.
	bar := image.Rect(left+size/2-5, top+size*3/10, left+size/2+5, top+size*7/10)
	dot := image.Rect(left+size/2-5, top+size*3/4+2, left+size/2+5, top+size*3/4+12)
	draw.Draw(img, bar, image.NewUniform(black), image.Point{}, draw.Src)
	draw.Draw(img, dot, image.NewUniform(black), image.Point{}, draw.Src)
}
