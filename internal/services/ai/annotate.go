package ai

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"inspector/internal/models"
)

const jpegQuality = 90

var (
	boxColor   = color.RGBA{R: 255, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator draws detection boxes with "class confidence" labels onto a frame
// and encodes the result.
type Annotator struct {
	format string
	face   font.Face
}

func NewAnnotator(format string) (*Annotator, error) {
	switch format {
	case "jpg", "png":
	case "jpeg":
		format = "jpg"
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	return &Annotator{format: format, face: basicfont.Face7x13}, nil
}

// Ext is the file extension of encoded images, without the dot.
func (a *Annotator) Ext() string {
	return a.format
}

func (a *Annotator) Annotate(f *models.Frame, boxes []models.BoundingBox) ([]byte, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height*3 {
		return nil, fmt.Errorf("cannot annotate malformed frame")
	}

	img := f.ToRGBA()
	for _, b := range boxes {
		a.drawBox(img, b)
	}

	var buf bytes.Buffer
	var err error
	if a.format == "png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Annotator) drawBox(img *image.RGBA, b models.BoundingBox) {
	const thickness = 2
	src := image.NewUniform(boxColor)
	r := image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)

	// draw.Draw clips every edge to the image bounds
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)

	label := fmt.Sprintf("%s %.2f", b.Class, b.Confidence)
	metrics := a.face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	width := font.MeasureString(a.face, label).Ceil() + 4

	top := r.Min.Y - height
	if top < 0 {
		top = r.Min.Y
	}
	draw.Draw(img, image.Rect(r.Min.X, top, r.Min.X+width, top+height), src, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: a.face,
		Dot:  fixed.P(r.Min.X+2, top+metrics.Ascent.Ceil()),
	}
	d.DrawString(label)
}
