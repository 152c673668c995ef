//go:build gocv
// +build gocv

package capture

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"inspector/internal/models"
)

// DeviceBackend reads from a camera index or stream URI through OpenCV.
type DeviceBackend struct {
	index   int
	uri     string
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

func newDeviceBackend(index int, uri string) (Backend, error) {
	return &DeviceBackend{index: index, uri: uri}, nil
}

func (b *DeviceBackend) Open(ctx context.Context) error {
	var device interface{} = b.uri
	if b.uri == "" {
		device = b.index
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("failed to open video capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("video capture is not opened")
	}

	b.capture = capture
	b.mat = gocv.NewMat()
	return nil
}

// Read blocks inside OpenCV; ctx is only checked before the call.
func (b *DeviceBackend) Read(ctx context.Context) (*models.Frame, error) {
	if b.capture == nil {
		return nil, fmt.Errorf("video capture is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ok := b.capture.Read(&b.mat); !ok || b.mat.Empty() {
		return nil, fmt.Errorf("failed to read frame from %s", b)
	}

	mat := b.mat
	if mat.Channels() != 3 {
		converted := gocv.NewMat()
		defer converted.Close()
		gocv.CvtColor(b.mat, &converted, gocv.ColorGrayToBGR)
		mat = converted
	}

	return &models.Frame{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: 3,
		Data:     mat.ToBytes(),
	}, nil
}

func (b *DeviceBackend) Close() error {
	if b.capture == nil {
		return nil
	}
	b.mat.Close()
	err := b.capture.Close()
	b.capture = nil
	return err
}

func (b *DeviceBackend) String() string {
	if b.uri != "" {
		return b.uri
	}
	return fmt.Sprintf("device %d", b.index)
}
