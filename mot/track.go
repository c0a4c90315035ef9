package mot

import (
	"time"

	kalman_filter "github.com/LdDl/kalman-filter"
)

const defaultMaxHistoryLen = 150

// Track is a snapshot of a short-lived positional identity owned by CentroidTracker.
type Track struct {
	ID           string
	Centroid     Point
	BBox         Rectangle
	Confidence   float64
	MissedCycles int
	FirstSeen    time.Time
	LastSeen     time.Time
	// Predicted is the Kalman estimate for the current cycle, made before the cycle's measurement was applied
	Predicted Point
	// History holds recent matched centroids, oldest first
	History []Point
}

// trackState is the mutable, tracker-owned side of a Track.
type trackState struct {
	Track
	maxHistoryLen int
	dt            float64
	kf            *kalman_filter.Kalman2D
}

func newKalman(center Point, dt float64) *kalman_filter.Kalman2D {
	/* Kalman filter props */
	ux := 1.0
	uy := 1.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	return kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(center.X, center.Y))
}

func newTrackState(id string, detection Detection, now time.Time, dt float64) *trackState {
	center := detection.Center()
	state := trackState{
		Track: Track{
			ID:         id,
			Centroid:   center,
			BBox:       detection.BBox,
			Confidence: detection.Confidence,
			FirstSeen:  now,
			LastSeen:   now,
			Predicted:  center,
			History:    make([]Point, 0, 16),
		},
		maxHistoryLen: defaultMaxHistoryLen,
		dt:            dt,
		kf:            newKalman(center, dt),
	}
	state.History = append(state.History, center)
	return &state
}

// predict executes Kalman filter's first step and stores the estimate
func (state *trackState) predict() {
	state.kf.Predict()
	x, y := state.kf.GetState()
	state.Predicted = Point{X: x, Y: y}
}

// gatingDistance returns distance used to decide whether detection may belong to track
func (state *trackState) gatingDistance(center Point, usePrediction bool) float64 {
	dist := EuclideanDistance(state.Centroid, center)
	if !usePrediction {
		return dist
	}
	distPredicted := EuclideanDistance(state.Predicted, center)
	if distPredicted < dist {
		return distPredicted
	}
	return dist
}

// update applies matched detection. Centroid and box are taken verbatim from detection,
// Kalman filter only drives the prediction.
func (state *trackState) update(detection Detection, now time.Time) {
	state.Centroid = detection.Center()
	state.BBox = detection.BBox
	state.Confidence = detection.Confidence
	state.MissedCycles = 0
	state.LastSeen = now

	if err := state.kf.Update(state.Centroid.X, state.Centroid.Y); err != nil {
		// Singular innovation covariance: start the filter over at the measurement
		state.kf = newKalman(state.Centroid, state.dt)
	}

	state.History = append(state.History, state.Centroid)
	if len(state.History) > state.maxHistoryLen {
		state.History = state.History[1:]
	}
}

// snapshot returns copy safe to hand out of the tracker
func (state *trackState) snapshot() Track {
	track := state.Track
	track.History = make([]Point, len(state.History))
	copy(track.History, state.History)
	return track
}
