package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
	"github.com/LdDl/carewatch/reid"
)

var (
	// ErrScriptedCapture is returned by Read for a line scripted as capture failure
	ErrScriptedCapture = errors.New("scripted capture failure")
	// ErrScriptedDetect is returned by Detect for a line scripted as detection failure
	ErrScriptedDetect = errors.New("scripted detection failure")
)

// ReplayBox is one scripted detection
type ReplayBox struct {
	X1         float64       `json:"x1"`
	Y1         float64       `json:"y1"`
	X2         float64       `json:"x2"`
	Y2         float64       `json:"y2"`
	Confidence float64       `json:"conf"`
	Role       registry.Role `json:"role"`
	Signature  []float64     `json:"signature,omitempty"`
}

// ReplayLine is one frame of a script. Error is "", "capture" or "detect"
type ReplayLine struct {
	Camera string      `json:"camera"`
	Boxes  []ReplayBox `json:"boxes"`
	Error  string      `json:"error,omitempty"`
}

// ReplaySource plays a JSON-lines detection script. It stands in for camera, detector,
// classifier and signature extractor at once.
type ReplaySource struct {
	path          string
	reader        io.Reader
	defaultCamera string
	interval      time.Duration
	clock         timeutil.Clock
	onFrame       func(Frame)

	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	seq     uint64
	line    int
	current ReplayLine
	opened  bool
}

// ReplayOption configures ReplaySource
type ReplayOption func(*ReplaySource)

// WithInterval paces frames, zero replays as fast as the consumer allows
func WithInterval(interval time.Duration) ReplayOption {
	return func(s *ReplaySource) {
		s.interval = interval
	}
}

// WithReplayClock sets clock used for capture timestamps
func WithReplayClock(clock timeutil.Clock) ReplayOption {
	return func(s *ReplaySource) {
		s.clock = clock
	}
}

// WithOnFrame registers hook called for every frame before it is returned
func WithOnFrame(fn func(Frame)) ReplayOption {
	return func(s *ReplaySource) {
		s.onFrame = fn
	}
}

// WithDefaultCamera sets camera of lines which do not name one
func WithDefaultCamera(cameraID string) ReplayOption {
	return func(s *ReplaySource) {
		s.defaultCamera = cameraID
	}
}

// NewReplayFile creates source reading script from file at Open
func NewReplayFile(path string, options ...ReplayOption) *ReplaySource {
	s := newReplay(options...)
	s.path = path
	return s
}

// NewReplayReader creates source reading script from r
func NewReplayReader(r io.Reader, options ...ReplayOption) *ReplaySource {
	s := newReplay(options...)
	s.reader = r
	return s
}

func newReplay(options ...ReplayOption) *ReplaySource {
	s := &ReplaySource{
		defaultCamera: "cam-0",
		clock:         timeutil.RealClock{},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *ReplaySource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return errors.New("replay already opened")
	}
	reader := s.reader
	if s.path != "" {
		f, err := os.Open(s.path)
		if err != nil {
			return errors.Wrapf(err, "open replay %s", s.path)
		}
		s.file = f
		reader = f
	}
	if reader == nil {
		return errors.New("replay has no input")
	}
	s.scanner = bufio.NewScanner(reader)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	s.opened = true
	return nil
}

// Opened reports whether source is currently open
func (s *ReplaySource) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return errors.Wrap(err, "close replay")
}

func (s *ReplaySource) Read(ctx context.Context) (Frame, error) {
	if s.interval > 0 {
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return Frame{}, errors.New("replay is not opened")
	}
	line, err := s.nextLocked()
	if err != nil {
		s.mu.Unlock()
		return Frame{}, err
	}
	s.seq++
	s.current = line
	lineNum := s.line
	frame := Frame{
		Seq:      s.seq,
		CameraID: line.Camera,
		Captured: s.clock.Now(),
	}
	s.mu.Unlock()

	if s.onFrame != nil {
		s.onFrame(frame)
	}
	if line.Error == "capture" {
		return Frame{}, errors.Wrapf(ErrScriptedCapture, "line %d", lineNum)
	}
	return frame, nil
}

func (s *ReplaySource) nextLocked() (ReplayLine, error) {
	for s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var line ReplayLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return ReplayLine{}, errors.Wrapf(err, "parse replay line %d", s.line)
		}
		if line.Camera == "" {
			line.Camera = s.defaultCamera
		}
		return line, nil
	}
	if err := s.scanner.Err(); err != nil {
		return ReplayLine{}, errors.Wrap(err, "scan replay")
	}
	return ReplayLine{}, ErrEndOfStream
}

// Detect returns scripted boxes of the frame last read
func (s *ReplaySource) Detect(frame Frame) ([]mot.Detection, error) {
	line, err := s.lineFor(frame)
	if err != nil {
		return nil, err
	}
	if line.Error == "detect" {
		return nil, errors.Wrapf(ErrScriptedDetect, "frame %d", frame.Seq)
	}
	detections := make([]mot.Detection, len(line.Boxes))
	for i, box := range line.Boxes {
		detections[i] = mot.NewDetection(box.X1, box.Y1, box.X2, box.Y2, box.Confidence)
	}
	return detections, nil
}

// Classify returns scripted role of the box, RoleUnknown for a box not on the frame
func (s *ReplaySource) Classify(frame Frame, box mot.Rectangle) registry.Role {
	scripted, ok := s.boxFor(frame, box)
	if !ok {
		return registry.RoleUnknown
	}
	return scripted.Role
}

// Extract returns scripted signature of the box, zero signature when there is none
func (s *ReplaySource) Extract(frame Frame, box mot.Rectangle) reid.Signature {
	scripted, ok := s.boxFor(frame, box)
	if !ok || len(scripted.Signature) == 0 {
		return reid.Signature{}
	}
	return reid.Signature(scripted.Signature).Clone()
}

func (s *ReplaySource) lineFor(frame Frame) (ReplayLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame.Seq != s.seq {
		return ReplayLine{}, errors.Errorf("frame %d is not current (current %d)", frame.Seq, s.seq)
	}
	return s.current, nil
}

func (s *ReplaySource) boxFor(frame Frame, box mot.Rectangle) (ReplayBox, bool) {
	line, err := s.lineFor(frame)
	if err != nil {
		return ReplayBox{}, false
	}
	for _, scripted := range line.Boxes {
		rect := mot.NewRectXYXY(scripted.X1, scripted.Y1, scripted.X2, scripted.Y2)
		if sameRect(rect, box) {
			return scripted, true
		}
	}
	return ReplayBox{}, false
}

func sameRect(a, b mot.Rectangle) bool {
	const eps = 1e-6
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps &&
		math.Abs(a.Width-b.Width) < eps && math.Abs(a.Height-b.Height) < eps
}
