package pipeline

import (
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
	"github.com/LdDl/carewatch/reid"
)

// HSVRange is an inclusive color range on 8-bit HSV scales (hue 0..180)
type HSVRange struct {
	HMin float64 `yaml:"h_min"`
	HMax float64 `yaml:"h_max"`
	SMin float64 `yaml:"s_min"`
	SMax float64 `yaml:"s_max"`
	VMin float64 `yaml:"v_min"`
	VMax float64 `yaml:"v_max"`
}

// Contains reports whether color falls into range
func (r HSVRange) Contains(h, s, v float64) bool {
	return h >= r.HMin && h <= r.HMax &&
		s >= r.SMin && s <= r.SMax &&
		v >= r.VMin && v <= r.VMax
}

// UniformClassifier tells staff from patients by uniform color of the torso
type UniformClassifier struct {
	Staff   HSVRange
	Patient HSVRange
	// Share of sampled torso pixels a color must cover to decide. Default 0.3
	MinFraction float64
	// Sample every Step-th pixel in both directions. Default 2
	Step int
}

// DefaultUniformClassifier detects green scrubs as staff and white or gray gowns as patients
func DefaultUniformClassifier() *UniformClassifier {
	return &UniformClassifier{
		Staff:       HSVRange{HMin: 35, HMax: 85, SMin: 50, SMax: 255, VMin: 50, VMax: 255},
		Patient:     HSVRange{HMin: 0, HMax: 180, SMin: 0, SMax: 50, VMin: 150, VMax: 255},
		MinFraction: 0.3,
		Step:        2,
	}
}

// Classify returns role whose color dominates the torso band, RoleUnknown if neither reaches MinFraction
func (c *UniformClassifier) Classify(frame Frame, box mot.Rectangle) registry.Role {
	if frame.Image == nil {
		return registry.RoleUnknown
	}
	band := reid.TorsoBand(box).Intersect(frame.Image.Bounds())
	if band.Empty() {
		return registry.RoleUnknown
	}
	step := c.Step
	if step <= 0 {
		step = 2
	}
	var total, staff, patient int
	for y := band.Min.Y; y < band.Max.Y; y += step {
		for x := band.Min.X; x < band.Max.X; x += step {
			h, s, v := reid.ToHSV(frame.Image.At(x, y))
			total++
			if c.Staff.Contains(h, s, v) {
				staff++
			}
			if c.Patient.Contains(h, s, v) {
				patient++
			}
		}
	}
	if total == 0 {
		return registry.RoleUnknown
	}
	minFraction := c.MinFraction
	if minFraction <= 0 {
		minFraction = 0.3
	}
	staffShare := float64(staff) / float64(total)
	patientShare := float64(patient) / float64(total)
	switch {
	case staffShare >= minFraction && staffShare >= patientShare:
		return registry.RoleStaff
	case patientShare >= minFraction:
		return registry.RolePatient
	default:
		return registry.RoleUnknown
	}
}
