package ai

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspector/internal/models"
)

func grayFrame(w, h int) *models.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = 128
	}
	return &models.Frame{Width: w, Height: h, Channels: 3, Data: data}
}

func TestAnnotator_PNGDrawsBox(t *testing.T) {
	a, err := NewAnnotator("png")
	require.NoError(t, err)
	assert.Equal(t, "png", a.Ext())

	out, err := a.Annotate(grayFrame(64, 48), []models.BoundingBox{{X: 10, Y: 20, W: 30, H: 20, Class: "dent", Confidence: 0.87}})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	// bottom edge of the box
	assert.Equal(t, color.RGBA{R: 255, A: 255}, color.RGBAModel.Convert(img.At(20, 39)))
	// inside the box stays untouched
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, color.RGBAModel.Convert(img.At(25, 32)))
}

func TestAnnotator_JPEGDecodes(t *testing.T) {
	a, err := NewAnnotator("jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpg", a.Ext())

	// a box running off the frame is clipped
	out, err := a.Annotate(grayFrame(32, 32), []models.BoundingBox{{X: 20, Y: 0, W: 50, H: 50, Class: "scratch", Confidence: 0.5}})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestAnnotator_NoBoxes(t *testing.T) {
	a, _ := NewAnnotator("png")
	out, err := a.Annotate(grayFrame(8, 8), nil)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, color.RGBAModel.Convert(img.At(4, 4)))
}

func TestAnnotator_Errors(t *testing.T) {
	_, err := NewAnnotator("gif")
	assert.Error(t, err)

	a, _ := NewAnnotator("png")
	_, err = a.Annotate(&models.Frame{Width: 2, Height: 2, Channels: 3, Data: []byte{1}}, nil)
	assert.Error(t, err)
}
