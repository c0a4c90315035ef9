package mot

import (
	"sort"

	hungarian "github.com/arthurkushman/go-hungarian"
)

// matchHungarian finds assignment minimizing total distance among pairs below maxDistance.
//
// Distances are turned into scores (maxDistance - d) so the solver maximizes. Gated pairs score zero
// and rectangular matrices are padded with zero rows/columns, any zero-score assignment is dropped afterwards.
func (tracker *CentroidTracker) matchHungarian(distances [][]float64) [][2]int {
	numTracks := len(distances)
	if numTracks == 0 {
		return [][2]int{}
	}
	numDetections := len(distances[0])
	if numDetections == 0 {
		return [][2]int{}
	}

	paddedSize := max(numTracks, numDetections)
	scores := make([][]float64, paddedSize)
	for i := range scores {
		scores[i] = make([]float64, paddedSize)
	}
	anyCandidate := false
	for i := 0; i < numTracks; i++ {
		for j := 0; j < numDetections; j++ {
			if distances[i][j] < tracker.maxDistance {
				scores[i][j] = tracker.maxDistance - distances[i][j]
				anyCandidate = true
			}
		}
	}
	if !anyCandidate {
		return [][2]int{}
	}

	assignmentsMap := hungarian.SolveMax(scores)
	matches := make([][2]int, 0, numTracks)
	for trackIdx, rowMap := range assignmentsMap {
		if trackIdx >= numTracks {
			continue
		}
		for detIdx := range rowMap {
			if detIdx >= numDetections {
				continue
			}
			if distances[trackIdx][detIdx] >= tracker.maxDistance {
				continue
			}
			matches = append(matches, [2]int{trackIdx, detIdx})
		}
	}
	// Map iteration order is random
	sort.Slice(matches, func(i, j int) bool {
		return matches[i][0] < matches[j][0]
	})
	return matches
}
