package models

import "time"

// Tensor memory layouts.
const (
	LayoutHWC = "HWC"
	LayoutCHW = "CHW"
)

// StageTiming records the wall-clock cost of one preprocessing stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// PreprocessedTensor is the model input derived from exactly one Frame.
type PreprocessedTensor struct {
	FrameSeq      uint64        `json:"frame_seq"`
	Data          []float32     `json:"-"`
	Layout        string        `json:"layout"`
	OriginalShape Shape         `json:"original_shape"`
	TargetShape   Shape         `json:"target_shape"`
	Timings       []StageTiming `json:"timings"`
	Total         time.Duration `json:"total"`
}

// At returns the value for row y, column x and channel c regardless of layout.
func (t *PreprocessedTensor) At(y, x, c int) float32 {
	s := t.TargetShape
	if t.Layout == LayoutCHW {
		return t.Data[c*s.Height*s.Width+y*s.Width+x]
	}
	return t.Data[(y*s.Width+x)*s.Channels+c]
}
