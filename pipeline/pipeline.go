// Package pipeline runs the producer path (frame, detect, track, classify, resolve, interact)
// and delivers its output to the registry through a bounded mailbox.
package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
	"github.com/LdDl/carewatch/reid"
)

// ErrEndOfStream is returned by Source.Read when there are no more frames
var ErrEndOfStream = errors.New("end of stream")

// Frame is a single captured picture
type Frame struct {
	Seq      uint64
	CameraID string
	Captured time.Time
	// Image may be nil for sources which carry detections only
	Image image.Image
}

// Source produces frames. Open must be paired with Close
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Detector finds people on a frame. Empty result is not an error
type Detector interface {
	Detect(frame Frame) ([]mot.Detection, error)
}

// Classifier assigns role from appearance on the current frame only
type Classifier interface {
	Classify(frame Frame, box mot.Rectangle) registry.Role
}

// Extractor computes appearance signature of a box on a frame
type Extractor interface {
	Extract(frame Frame, box mot.Rectangle) reid.Signature
}

// ImageExtractor adapts reid.Extractor to frames
type ImageExtractor struct {
	Extractor reid.Extractor
}

func (e ImageExtractor) Extract(frame Frame, box mot.Rectangle) reid.Signature {
	return e.Extractor.Extract(frame.Image, box)
}

// EventSink consumes confirmed interactions, e.g. persists them
type EventSink interface {
	RecordInteraction(ctx context.Context, event interaction.Event) error
}

// Update is everything derived from a single producer cycle
type Update struct {
	Seq      uint64
	CameraID string
	At       time.Time
	// Tracks seen on this cycle
	Tracks []registry.TrackUpdate
	// Tracks evicted by the tracker since the previous update
	Lost         []string
	Interactions []interaction.Event
}
