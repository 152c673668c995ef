package ai

import (
	"math"
	"sort"

	"inspector/internal/models"
)

// NMS implements a Non-Maximum Suppression (NMS) algorithm. Boxes are
// compared within their class; a box overlapping a more confident one by
// more than threshold IoU is removed. The result is ordered by descending
// confidence.
func NMS(boxes []models.BoundingBox, threshold float64) []models.BoundingBox {
	if len(boxes) == 0 {
		return []models.BoundingBox{}
	}

	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return boxes[order[a]].Confidence > boxes[order[b]].Confidence
	})

	suppressed := make([]bool, len(boxes))
	kept := make([]models.BoundingBox, 0, len(boxes))
	for i, n := range order {
		if suppressed[n] {
			continue
		}
		kept = append(kept, boxes[n])

		for _, m := range order[i+1:] {
			if suppressed[m] || boxes[m].Class != boxes[n].Class {
				continue
			}
			if IoU(boxes[n], boxes[m]) > threshold {
				suppressed[m] = true
			}
		}
	}
	return kept
}

// IoU works out the Intersection over Union of two boxes. X+W and Y+H are
// exclusive edges, so boxes that only touch do not overlap.
func IoU(a, b models.BoundingBox) float64 {
	xmin0, ymin0 := float64(a.X), float64(a.Y)
	xmax0, ymax0 := xmin0+float64(a.W), ymin0+float64(a.H)
	xmin1, ymin1 := float64(b.X), float64(b.Y)
	xmax1, ymax1 := xmin1+float64(b.W), ymin1+float64(b.H)

	w := math.Max(0.0, math.Min(xmax0, xmax1)-math.Max(xmin0, xmin1))
	h := math.Max(0.0, math.Min(ymax0, ymax1)-math.Max(ymin0, ymin1))
	intersection := w * h

	area0 := (xmax0 - xmin0) * (ymax0 - ymin0)
	area1 := (xmax1 - xmin1) * (ymax1 - ymin1)
	union := area0 + area1 - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
