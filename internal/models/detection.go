package models

import (
	"fmt"
	"time"
)

// NoDefect is the defect type recorded for detections without boxes.
const NoDefect = "none"

// BoundingBox is one detected region in original-frame pixels.
type BoundingBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Detection is the in-memory result of one inference call.
type Detection struct {
	FrameSeq       uint64        `json:"frame_seq"`
	SourceID       string        `json:"source_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Boxes          []BoundingBox `json:"boxes"`
	DefectDetected bool          `json:"defect_detected"`
	ModelName      string        `json:"model_name"`
	ModelVersion   string        `json:"model_version"`
	Confidence     float64       `json:"confidence"`
	InferenceTime  time.Duration `json:"inference_time"`
}

// NewDetection builds a Detection whose defect flag and overall confidence
// are derived from the boxes, so a defect always carries at least one box.
func NewDetection(boxes []BoundingBox, modelName, modelVersion string, took time.Duration) *Detection {
	if boxes == nil {
		boxes = []BoundingBox{}
	}
	d := &Detection{
		Boxes:          boxes,
		DefectDetected: len(boxes) > 0,
		ModelName:      modelName,
		ModelVersion:   modelVersion,
		InferenceTime:  took,
	}
	for _, b := range boxes {
		if b.Confidence > d.Confidence {
			d.Confidence = b.Confidence
		}
	}
	return d
}

// DefectType returns the class of the most confident box, or NoDefect.
func (d *Detection) DefectType() string {
	best := -1
	for i, b := range d.Boxes {
		if best < 0 || b.Confidence > d.Boxes[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return NoDefect
	}
	return d.Boxes[best].Class
}

// DetectionRecord is the durable, queryable form of a Detection.
type DetectionRecord struct {
	ID              int64         `json:"id"`
	ImageID         string        `json:"image_id"`
	ImagePath       string        `json:"image_path"`
	Timestamp       time.Time     `json:"timestamp"`
	ModelName       string        `json:"model_name"`
	ModelVersion    string        `json:"model_version"`
	DefectDetected  bool          `json:"defect_detected"`
	DefectType      string        `json:"defect_type"`
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	ConfidenceScore float64       `json:"confidence_score"`
	InferenceTimeMS float64       `json:"inference_time_ms"`
	Notes           string        `json:"notes"`
}

// NewRecord converts a Detection into the record stored at imagePath.
func NewRecord(d *Detection, imageID, imagePath string) *DetectionRecord {
	boxes := make([]BoundingBox, len(d.Boxes))
	copy(boxes, d.Boxes)
	return &DetectionRecord{
		ImageID:         imageID,
		ImagePath:       imagePath,
		Timestamp:       d.Timestamp.UTC().Round(0),
		ModelName:       d.ModelName,
		ModelVersion:    d.ModelVersion,
		DefectDetected:  len(boxes) > 0,
		DefectType:      d.DefectType(),
		BoundingBoxes:   boxes,
		ConfidenceScore: d.Confidence,
		InferenceTimeMS: float64(d.InferenceTime) / float64(time.Millisecond),
		Notes:           fmt.Sprintf("source=%s seq=%d", d.SourceID, d.FrameSeq),
	}
}

// DefectTypeCount is one row of the defect-type aggregate.
type DefectTypeCount struct {
	DefectType string `json:"defect_type"`
	Count      int    `json:"count"`
}
