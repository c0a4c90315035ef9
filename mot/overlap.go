package mot

import (
	"sort"
)

// IoU calculates Intersection over Union between two rectangles
func IoU(r1, r2 Rectangle) float64 {
	xA := max(r1.X, r2.X)
	yA := max(r1.Y, r2.Y)
	xB := min(r1.X+r1.Width, r2.X+r2.Width)
	yB := min(r1.Y+r1.Height, r2.Y+r2.Height)

	interArea := max(0, xB-xA) * max(0, yB-yA)
	if interArea == 0 {
		return 0.0
	}
	union := r1.Width*r1.Height + r2.Width*r2.Height - interArea
	if union <= 0 {
		return 0.0
	}
	return interArea / union
}

// SuppressOverlaps drops detections overlapping a more confident one by at least threshold IoU.
// Survivors keep their input order. Non-positive threshold returns detections untouched.
func SuppressOverlaps(detections []Detection, threshold float64) []Detection {
	if threshold <= 0 || len(detections) < 2 {
		return detections
	}
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	// Stable, so equal confidences prefer the earlier detection
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})
	suppressed := make([]bool, len(detections))
	for a, i := range order {
		if suppressed[i] {
			continue
		}
		for _, j := range order[a+1:] {
			if !suppressed[j] && IoU(detections[i].BBox, detections[j].BBox) >= threshold {
				suppressed[j] = true
			}
		}
	}
	out := make([]Detection, 0, len(detections))
	for i, detection := range detections {
		if !suppressed[i] {
			out = append(out, detection)
		}
	}
	return out
}
