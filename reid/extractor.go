package reid

import (
	"image"
	"image/color"
	"math"

	"github.com/LdDl/carewatch/mot"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// Extractor reduces an appearance crop to a Signature.
type Extractor interface {
	Extract(frame image.Image, box mot.Rectangle) Signature
}

const (
	defaultBins       = 32
	defaultCropWidth  = 32
	defaultCropHeight = 48
	// Torso band relative to box height: skip the head, keep clothing
	torsoTop    = 0.15
	torsoBottom = 0.6
)

// HistogramExtractor builds per-channel HSV histograms over the torso band of a box.
type HistogramExtractor struct {
	bins       int
	cropWidth  int
	cropHeight int
}

// NewHistogramExtractor creates extractor with given number of bins per channel. Non-positive bins fall back to 32.
func NewHistogramExtractor(bins int) *HistogramExtractor {
	if bins <= 0 {
		bins = defaultBins
	}
	return &HistogramExtractor{
		bins:       bins,
		cropWidth:  defaultCropWidth,
		cropHeight: defaultCropHeight,
	}
}

// Len returns signature length
func (e *HistogramExtractor) Len() int {
	return e.bins * 3
}

// Extract returns unit-length histogram signature. Empty crop gives a zero signature.
func (e *HistogramExtractor) Extract(frame image.Image, box mot.Rectangle) Signature {
	sig := make(Signature, e.Len())
	if frame == nil {
		return sig
	}
	band := TorsoBand(box).Intersect(frame.Bounds())
	if band.Empty() {
		return sig
	}

	// Rescaling keeps the cost per box constant regardless of its size in the frame
	crop := image.NewRGBA(image.Rect(0, 0, e.cropWidth, e.cropHeight))
	draw.ApproxBiLinear.Scale(crop, crop.Bounds(), frame, band, draw.Src, nil)

	hue := sig[0:e.bins]
	sat := sig[e.bins : 2*e.bins]
	val := sig[2*e.bins:]
	for y := 0; y < e.cropHeight; y++ {
		for x := 0; x < e.cropWidth; x++ {
			h, s, v := ToHSV(crop.RGBAAt(x, y))
			hue[binOf(h, 180, e.bins)]++
			sat[binOf(s, 256, e.bins)]++
			val[binOf(v, 256, e.bins)]++
		}
	}
	normalizeInPlace(hue)
	normalizeInPlace(sat)
	normalizeInPlace(val)
	return sig.Normalized()
}

// TorsoBand returns integer rectangle covering 15%..60% of box height
func TorsoBand(box mot.Rectangle) image.Rectangle {
	band := mot.NewRect(box.X, box.Y+box.Height*torsoTop, box.Width, box.Height*(torsoBottom-torsoTop))
	return band.Image()
}

// ToHSV converts color to HSV on 8-bit scales: hue in [0, 180), saturation and value in [0, 255].
func ToHSV(c color.Color) (h, s, v float64) {
	r32, g32, b32, _ := c.RGBA()
	r := float64(r32 >> 8)
	g := float64(g32 >> 8)
	b := float64(b32 >> 8)

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC > 0 {
		s = delta / maxC * 255
	}
	if delta == 0 {
		return 0, s, v
	}
	var deg float64
	switch maxC {
	case r:
		deg = 60 * (g - b) / delta
	case g:
		deg = 120 + 60*(b-r)/delta
	default:
		deg = 240 + 60*(r-g)/delta
	}
	if deg < 0 {
		deg += 360
	}
	h = deg / 2
	if h >= 180 {
		h -= 180
	}
	return h, s, v
}

func binOf(value, upper float64, bins int) int {
	idx := int(value / upper * float64(bins))
	if idx < 0 {
		return 0
	}
	if idx >= bins {
		return bins - 1
	}
	return idx
}

func normalizeInPlace(s []float64) {
	norm := floats.Norm(s, 2)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, s)
}
