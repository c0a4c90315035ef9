// Package reid resolves short-lived tracks to long-lived identities by appearance.
package reid

import (
	"gonum.org/v1/gonum/floats"
)

// Signature is a fixed-length appearance descriptor. Stored signatures are unit length.
type Signature []float64

// IsZero reports whether signature carries no information (empty crop, missing frame).
func (s Signature) IsZero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (s Signature) Clone() Signature {
	if s == nil {
		return nil
	}
	out := make(Signature, len(s))
	copy(out, s)
	return out
}

// Normalized returns unit-length copy. Zero vector stays zero.
func (s Signature) Normalized() Signature {
	out := s.Clone()
	norm := floats.Norm(out, 2)
	if norm == 0 {
		return out
	}
	floats.Scale(1/norm, out)
	return out
}

// CosineSimilarity between two signatures. Mismatched lengths and zero vectors give 0.
func CosineSimilarity(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// blend returns normalize(alpha*old + (1-alpha)*current)
func blend(old, current Signature, alpha float64) Signature {
	if len(old) != len(current) {
		return current.Normalized()
	}
	out := make(Signature, len(old))
	floats.ScaleTo(out, alpha, old)
	floats.AddScaled(out, 1-alpha, current)
	return out.Normalized()
}
