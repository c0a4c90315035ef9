package mot

// Detection is a single detector output for one frame. Never mutated after creation.
type Detection struct {
	BBox       Rectangle
	Confidence float64
}

// NewDetection creates detection from corner form (x1, y1, x2, y2)
func NewDetection(x1, y1, x2, y2, confidence float64) Detection {
	return Detection{
		BBox:       NewRectXYXY(x1, y1, x2, y2),
		Confidence: confidence,
	}
}

// Center returns detection's centroid
func (d Detection) Center() Point {
	return d.BBox.Center()
}
