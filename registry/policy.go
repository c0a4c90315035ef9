package registry

import (
	"time"
)

// Policy turns time since last interaction into a risk level and a priority score.
type Policy struct {
	// Below SafeThreshold a patient is safe
	SafeThreshold time.Duration
	// Below AtRiskThreshold a patient is at risk, critical otherwise
	AtRiskThreshold time.Duration
	SafeWeight      float64
	AtRiskWeight    float64
	CriticalWeight  float64
}

// DefaultPolicy returns 5m / 15m thresholds with 0 / 50 / 100 weights
func DefaultPolicy() Policy {
	return Policy{
		SafeThreshold:   300 * time.Second,
		AtRiskThreshold: 900 * time.Second,
		SafeWeight:      0,
		AtRiskWeight:    50,
		CriticalWeight:  100,
	}
}

// Level returns risk level after elapsed time without interaction
func (p Policy) Level(elapsed time.Duration) RiskLevel {
	switch {
	case elapsed < p.SafeThreshold:
		return RiskSafe
	case elapsed < p.AtRiskThreshold:
		return RiskAtRisk
	default:
		return RiskCritical
	}
}

// Weight of a risk level
func (p Policy) Weight(level RiskLevel) float64 {
	switch level {
	case RiskSafe:
		return p.SafeWeight
	case RiskAtRisk:
		return p.AtRiskWeight
	case RiskCritical:
		return p.CriticalWeight
	default:
		return 0
	}
}

// Score returns level and priority = seconds since last interaction + level weight
func (p Policy) Score(elapsed time.Duration) (RiskLevel, float64) {
	if elapsed < 0 {
		elapsed = 0
	}
	level := p.Level(elapsed)
	return level, elapsed.Seconds() + p.Weight(level)
}
