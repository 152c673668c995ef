//go:build !gocv
// +build !gocv

package capture

import "errors"

// newDeviceBackend needs OpenCV; without the gocv build tag only the
// synthetic and directory sources are available.
func newDeviceBackend(index int, uri string) (Backend, error) {
	_ = index
	_ = uri
	return nil, errors.New("camera and stream sources need the gocv build tag")
}
