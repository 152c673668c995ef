//go:build gocv
// +build gocv

package ai

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"gocv.io/x/gocv"

	"inspector/internal/logger"
	"inspector/internal/models"
)

// DNNDetector runs an SSD-style network through the OpenCV DNN module. The
// network output has shape [1,1,N,7]: image id, class id, confidence and the
// normalized left, top, right, bottom corners.
type DNNDetector struct {
	settings Settings
	net      gocv.Net
	mu       sync.Mutex
	logger   *logger.Logger
}

func newDNNDetector(modelPath, configPath string, settings Settings, logger *logger.Logger) (Detector, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: model file not found: %s", models.ErrModelLoad, modelPath)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file not found: %s", models.ErrModelLoad, configPath)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load network %s", models.ErrModelLoad, modelPath)
	}

	backend, target := netDevice(settings.Device)
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("%w: failed to set preferable backend or target for %s", models.ErrModelLoad, settings.Device)
	}

	logger.Info("🤖 Detection network %s v%s initialized on %s", settings.ModelName, settings.ModelVersion, settings.Device)
	return &DNNDetector{settings: settings, net: net, logger: logger}, nil
}

func netDevice(device string) (gocv.NetBackendType, gocv.NetTargetType) {
	switch device {
	case "cuda":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case "opencl":
		return gocv.NetBackendOpenCV, gocv.NetTargetFP32
	case "vulkan":
		return gocv.NetBackendVKCOM, gocv.NetTargetVulkan
	default:
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
}

func (d *DNNDetector) Detect(ctx context.Context, t *models.PreprocessedTensor) (*models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInference, err)
	}
	start := time.Now()

	chw := toCHW(t)
	s := t.TargetShape
	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, 3, s.Height, s.Width}, gocv.MatTypeCV32F,
		unsafe.Slice((*byte)(unsafe.Pointer(&chw[0])), len(chw)*4))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build input blob: %v", models.ErrInference, err)
	}
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	if output.Empty() || output.Total()%7 != 0 {
		return nil, fmt.Errorf("%w: unexpected network output of %d values", models.ErrInference, output.Total())
	}

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	w := float32(t.OriginalShape.Width)
	h := float32(t.OriginalShape.Height)

	var boxes []models.BoundingBox
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if float64(confidence) < d.settings.ConfidenceThreshold {
			continue
		}
		// class 0 is the background in SSD outputs
		classID := int(rows.GetFloatAt(i, 1)) - 1

		x := clip(rows.GetFloatAt(i, 3)*w, 0, w)
		y := clip(rows.GetFloatAt(i, 4)*h, 0, h)
		right := clip(rows.GetFloatAt(i, 5)*w, 0, w)
		bottom := clip(rows.GetFloatAt(i, 6)*h, 0, h)
		if right <= x || bottom <= y {
			continue
		}

		boxes = append(boxes, models.BoundingBox{
			X:          x,
			Y:          y,
			W:          right - x,
			H:          bottom - y,
			Class:      className(d.settings.Classes, classID),
			Confidence: float64(confidence),
		})
	}

	boxes = NMS(boxes, d.settings.NMSThreshold)
	d.logger.Debug("🤖 Frame %d: %d box(es) after NMS", t.FrameSeq, len(boxes))

	return models.NewDetection(boxes, d.settings.ModelName, d.settings.ModelVersion, time.Since(start)), nil
}

func clip(val, min, max float32) int {
	if val <= min {
		return int(min)
	}
	if val >= max {
		return int(max)
	}
	return int(val)
}

// toCHW returns the tensor data in planar order.
func toCHW(t *models.PreprocessedTensor) []float32 {
	if t.Layout == models.LayoutCHW {
		return t.Data
	}
	s := t.TargetShape
	out := make([]float32, len(t.Data))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			for c := 0; c < s.Channels; c++ {
				out[c*s.Height*s.Width+y*s.Width+x] = t.At(y, x, c)
			}
		}
	}
	return out
}

func (d *DNNDetector) Name() string    { return d.settings.ModelName }
func (d *DNNDetector) Version() string { return d.settings.ModelVersion }

func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
