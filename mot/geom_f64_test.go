package mot

import (
	"image"
	"math"
	"testing"
)

const (
	eps = 0.00001
)

func TestEuclideanDistance(t *testing.T) {
	p1 := Point{X: 341, Y: 264}
	p2 := Point{X: 421, Y: 427}
	correnctAnswer := 181.57367
	answer := EuclideanDistance(p1, p2)
	if math.Abs(answer-correnctAnswer) > eps {
		t.Errorf("Wrong answer: %v, correct answer: %v", answer, correnctAnswer)
	}
}

func TestRectXYXY(t *testing.T) {
	rect := NewRectXYXY(120, 140, 80, 60)
	correctAnswer := NewRect(80, 60, 40, 80)
	if rect != correctAnswer {
		t.Errorf("Wrong rectangle: %+v, correct: %+v", rect, correctAnswer)
	}
	center := rect.Center()
	if math.Abs(center.X-100) > eps || math.Abs(center.Y-100) > eps {
		t.Errorf("Wrong center: %+v", center)
	}
}

func TestRectImage(t *testing.T) {
	rect := NewRect(10.4, 20.6, 30.2, 10.1)
	answer := rect.Image()
	correctAnswer := image.Rect(10, 20, 41, 31)
	if answer != correctAnswer {
		t.Errorf("Wrong image rectangle: %v, correct: %v", answer, correctAnswer)
	}
}

func TestPointDistance(t *testing.T) {
	p := NewPoint(3, 4)
	if p != (Point{X: 3, Y: 4}) {
		t.Errorf("Incorrect point: %+v", p)
	}
	if d := EuclideanDistance(p, NewPoint(0, 0)); d != 5 {
		t.Errorf("Incorrect distance: %v, expected: 5", d)
	}
}
