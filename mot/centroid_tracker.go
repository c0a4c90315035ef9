package mot

import (
	"fmt"
	"time"

	"github.com/LdDl/carewatch/internal/timeutil"
)

// MatchingAlgorithm is for algorithm type for matching detections to tracks
type MatchingAlgorithm uint16

const (
	// MatchingGreedy binds closest pairs first. Fast, but not globally optimal
	MatchingGreedy MatchingAlgorithm = iota
	// MatchingHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment
	MatchingHungarian
)

func (m MatchingAlgorithm) String() string {
	switch m {
	case MatchingGreedy:
		return "greedy"
	case MatchingHungarian:
		return "hungarian"
	default:
		return fmt.Sprintf("MatchingAlgorithm(%d)", uint16(m))
	}
}

// ParseMatchingAlgorithm maps "greedy" and "hungarian" to algorithm
func ParseMatchingAlgorithm(s string) (MatchingAlgorithm, error) {
	switch s {
	case "", "greedy":
		return MatchingGreedy, nil
	case "hungarian":
		return MatchingHungarian, nil
	default:
		return MatchingGreedy, fmt.Errorf("unknown matching algorithm %q", s)
	}
}

// CentroidTracker is nearest-neighbour Multi-object tracker (MOT) over detection centroids.
//
// Default matching is greedy: candidate pairs below maxDistance are bound in ascending
// order of distance, so the result is not a globally optimal assignment. MatchingHungarian
// solves the same problem optimally behind the same Update contract.
//
// Tracker is not safe for concurrent use: the track table belongs to a single producer.
type CentroidTracker struct {
	// Tracks in creation order. Index in this slice is the tie-breaker for equal distances
	tracks []*trackState
	byID   map[string]*trackState
	// Threshold distance in pixels. Default 80.0
	maxDistance float64
	// Max number of consecutive cycles a track may go unmatched. Default 15
	maxMissed     int
	matching      MatchingAlgorithm
	usePrediction bool
	dt            float64
	// IoU above which the less confident of two detections is dropped. Zero disables
	suppressIoU float64
	nextID      uint64
	clock       timeutil.Clock
}

// Option configures CentroidTracker
type Option func(*CentroidTracker)

// WithMaxDistance sets gating distance (pixels)
func WithMaxDistance(maxDistance float64) Option {
	return func(tracker *CentroidTracker) {
		tracker.maxDistance = maxDistance
	}
}

// WithMaxMissed sets number of unmatched cycles after which track is evicted
func WithMaxMissed(maxMissed int) Option {
	return func(tracker *CentroidTracker) {
		tracker.maxMissed = maxMissed
	}
}

// WithMatching sets matching algorithm
func WithMatching(algorithm MatchingAlgorithm) Option {
	return func(tracker *CentroidTracker) {
		tracker.matching = algorithm
	}
}

// WithPrediction enables gating against Kalman-predicted centroid as well as the last one
func WithPrediction(enabled bool) Option {
	return func(tracker *CentroidTracker) {
		tracker.usePrediction = enabled
	}
}

// WithTimeStep sets Kalman filter time step between cycles. Default 1.0
func WithTimeStep(dt float64) Option {
	return func(tracker *CentroidTracker) {
		tracker.dt = dt
	}
}

// WithOverlapSuppression drops duplicate detections of one person before matching
func WithOverlapSuppression(threshold float64) Option {
	return func(tracker *CentroidTracker) {
		tracker.suppressIoU = threshold
	}
}

// WithClock sets clock used for FirstSeen/LastSeen stamps
func WithClock(clock timeutil.Clock) Option {
	return func(tracker *CentroidTracker) {
		tracker.clock = clock
	}
}

// NewCentroidTracker creates new instance of CentroidTracker
func NewCentroidTracker(options ...Option) *CentroidTracker {
	tracker := &CentroidTracker{
		tracks:      make([]*trackState, 0),
		byID:        make(map[string]*trackState),
		maxDistance: 80.0,
		maxMissed:   15,
		matching:    MatchingGreedy,
		dt:          1.0,
		nextID:      1,
		clock:       timeutil.RealClock{},
	}
	for _, option := range options {
		option(tracker)
	}
	return tracker
}

// Update associates detections of a single cycle with existing tracks and returns
// all live tracks afterwards.
func (tracker *CentroidTracker) Update(detections []Detection) map[string]Track {
	now := tracker.clock.Now()
	detections = SuppressOverlaps(detections, tracker.suppressIoU)
	for _, state := range tracker.tracks {
		state.predict()
	}

	// Nothing detected: every track misses
	if len(detections) == 0 {
		for _, state := range tracker.tracks {
			state.MissedCycles++
		}
		tracker.evict()
		return tracker.snapshot()
	}

	// Nothing tracked: every detection is new
	if len(tracker.tracks) == 0 {
		for i := range detections {
			tracker.register(detections[i], now)
		}
		return tracker.snapshot()
	}

	distances := tracker.distanceMatrix(detections)
	var matches [][2]int
	switch tracker.matching {
	case MatchingHungarian:
		matches = tracker.matchHungarian(distances)
	default:
		matches = tracker.matchGreedy(distances)
	}

	matchedTracks := make(map[int]struct{}, len(matches))
	matchedDetections := make(map[int]struct{}, len(matches))
	for _, match := range matches {
		tracker.tracks[match[0]].update(detections[match[1]], now)
		matchedTracks[match[0]] = struct{}{}
		matchedDetections[match[1]] = struct{}{}
	}

	for trackIdx, state := range tracker.tracks {
		if _, ok := matchedTracks[trackIdx]; !ok {
			state.MissedCycles++
		}
	}

	// Register after the miss pass so new tracks start with zero misses
	for detIdx := range detections {
		if _, ok := matchedDetections[detIdx]; !ok {
			tracker.register(detections[detIdx], now)
		}
	}

	tracker.evict()
	return tracker.snapshot()
}

// Track returns a single live track
func (tracker *CentroidTracker) Track(id string) (Track, bool) {
	state, ok := tracker.byID[id]
	if !ok {
		return Track{}, false
	}
	return state.snapshot(), true
}

// Len returns number of live tracks
func (tracker *CentroidTracker) Len() int {
	return len(tracker.tracks)
}

// Reset drops every track. Identifier counter is kept, so identifiers are never reused
func (tracker *CentroidTracker) Reset() {
	tracker.tracks = tracker.tracks[:0]
	tracker.byID = make(map[string]*trackState)
}

// distanceMatrix computes full pairwise matrix: rows = tracks, columns = detections
func (tracker *CentroidTracker) distanceMatrix(detections []Detection) [][]float64 {
	centers := make([]Point, len(detections))
	for j := range detections {
		centers[j] = detections[j].Center()
	}
	matrix := make([][]float64, len(tracker.tracks))
	for i, state := range tracker.tracks {
		row := make([]float64, len(centers))
		for j, center := range centers {
			row[j] = state.gatingDistance(center, tracker.usePrediction)
		}
		matrix[i] = row
	}
	return matrix
}

// matchGreedy processes candidate pairs in ascending order of distance and binds
// a pair when neither side has been consumed in this cycle.
func (tracker *CentroidTracker) matchGreedy(distances [][]float64) [][2]int {
	priorityQueue := make(distanceHeap, 0)
	for i, row := range distances {
		for j, dist := range row {
			if dist < tracker.maxDistance {
				priorityQueue.Push(candidatePair{trackIdx: i, detectionIdx: j, distance: dist})
			}
		}
	}

	// We need to prevent double update of objects
	usedTracks := make(map[int]struct{})
	usedDetections := make(map[int]struct{})
	matches := make([][2]int, 0)
	for priorityQueue.Len() > 0 {
		pair := priorityQueue.Pop()
		if _, ok := usedTracks[pair.trackIdx]; ok {
			continue
		}
		if _, ok := usedDetections[pair.detectionIdx]; ok {
			continue
		}
		usedTracks[pair.trackIdx] = struct{}{}
		usedDetections[pair.detectionIdx] = struct{}{}
		matches = append(matches, [2]int{pair.trackIdx, pair.detectionIdx})
	}
	return matches
}

func (tracker *CentroidTracker) register(detection Detection, now time.Time) {
	id := fmt.Sprintf("T-%04d", tracker.nextID)
	tracker.nextID++
	state := newTrackState(id, detection, now, tracker.dt)
	tracker.tracks = append(tracker.tracks, state)
	tracker.byID[id] = state
}

// evict removes tracks which were not found for a long time
func (tracker *CentroidTracker) evict() {
	kept := tracker.tracks[:0]
	for _, state := range tracker.tracks {
		if state.MissedCycles > tracker.maxMissed {
			delete(tracker.byID, state.ID)
			continue
		}
		kept = append(kept, state)
	}
	// Do not keep dangling pointers in the spare capacity
	for i := len(kept); i < len(tracker.tracks); i++ {
		tracker.tracks[i] = nil
	}
	tracker.tracks = kept
}

func (tracker *CentroidTracker) snapshot() map[string]Track {
	result := make(map[string]Track, len(tracker.tracks))
	for _, state := range tracker.tracks {
		result[state.ID] = state.snapshot()
	}
	return result
}
