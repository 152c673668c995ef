package models

import (
	"image"
	"time"
)

// Frame is one captured image. Data holds packed 8-bit BGR pixels, row-major.
type Frame struct {
	Seq        uint64    `json:"seq"`
	SourceID   string    `json:"source_id"`
	CapturedAt time.Time `json:"captured_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Channels   int       `json:"channels"`
	Data       []byte    `json:"-"`
}

// Shape describes tensor or image dimensions.
type Shape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// Shape returns the frame dimensions.
func (f *Frame) Shape() Shape {
	return Shape{Height: f.Height, Width: f.Width, Channels: f.Channels}
}

// FrameFromImage packs any decoded image into a BGR frame. Sequence, source
// and timestamp are left for the caller.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, w*h*3)

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data[i] = byte(bl >> 8)
			data[i+1] = byte(g >> 8)
			data[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return &Frame{Width: w, Height: h, Channels: 3, Data: data}
}

// ToRGBA unpacks the BGR buffer into an RGBA image.
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, i := 0, 0; i+2 < len(f.Data) && p+3 < len(img.Pix); p, i = p+4, i+3 {
		img.Pix[p] = f.Data[i+2]
		img.Pix[p+1] = f.Data[i+1]
		img.Pix[p+2] = f.Data[i]
		img.Pix[p+3] = 0xff
	}
	return img
}
