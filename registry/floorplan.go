package registry

import (
	"math"

	"github.com/LdDl/carewatch/mot"
)

// CameraZone maps a camera frame onto a region of the floor plan
type CameraZone struct {
	CameraID   string
	CameraName string
	// Region on floor plan
	Map mot.Rectangle
	// Camera frame size in pixels
	FrameWidth  float64
	FrameHeight float64
}

// ToMap converts camera pixel coordinates to floor plan coordinates (truncated to whole units)
func (z CameraZone) ToMap(p mot.Point) mot.Point {
	if z.FrameWidth <= 0 || z.FrameHeight <= 0 {
		return mot.Point{X: z.Map.X, Y: z.Map.Y}
	}
	scaleX := z.Map.Width / z.FrameWidth
	scaleY := z.Map.Height / z.FrameHeight
	return mot.Point{
		X: z.Map.X + math.Trunc(p.X*scaleX),
		Y: z.Map.Y + math.Trunc(p.Y*scaleY),
	}
}

// FloorPlan is a set of camera zones. Immutable after construction
type FloorPlan struct {
	zones map[string]CameraZone
}

// NewFloorPlan creates floor plan. Later zones override earlier ones with the same camera
func NewFloorPlan(zones ...CameraZone) *FloorPlan {
	fp := &FloorPlan{zones: make(map[string]CameraZone, len(zones))}
	for _, zone := range zones {
		fp.zones[zone.CameraID] = zone
	}
	return fp
}

// Zone returns zone of camera
func (fp *FloorPlan) Zone(cameraID string) (CameraZone, bool) {
	if fp == nil {
		return CameraZone{}, false
	}
	zone, ok := fp.zones[cameraID]
	return zone, ok
}

// ToMap converts point seen by camera. Unknown camera maps to (0, 0)
func (fp *FloorPlan) ToMap(cameraID string, p mot.Point) mot.Point {
	zone, ok := fp.Zone(cameraID)
	if !ok {
		return mot.Point{}
	}
	return zone.ToMap(p)
}
