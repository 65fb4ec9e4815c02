package retrieval

import (
	"math"
	"time"

	"github.com/jacklau/codereviewer/internal/issues"
)

// staleAge is assumed for issues whose update time is unknown.
const staleAge = 365 * 24 * time.Hour

// Weights blends vector similarity, recency and priority into one score.
type Weights struct {
	Vector   float64
	Recency  float64
	Priority float64
	// Window is the age at which the recency score reaches zero.
	Window time.Duration
}

// DefaultWeights returns 0.6/0.25/0.15 with a 30 day recency window.
func DefaultWeights() Weights {
	return Weights{Vector: 0.6, Recency: 0.25, Priority: 0.15, Window: 30 * 24 * time.Hour}
}

var priorityScores = map[issues.Priority]float64{
	issues.PriorityUrgent: 1.0,
	issues.PriorityHigh:   0.8,
	issues.PriorityMedium: 0.5,
	issues.PriorityLow:    0.2,
	issues.PriorityNone:   0.1,
}

// PriorityScore maps a canonical priority onto [0.1, 1]. Unknown values score 0.1.
func PriorityScore(p issues.Priority) float64 {
	if s, ok := priorityScores[p]; ok {
		return s
	}
	return 0.1
}

// RecencyScore decays linearly from 1 at age zero to 0 at window. A zero
// updated time counts as a year old.
func RecencyScore(updated, now time.Time, window time.Duration) float64 {
	if window <= 0 {
		window = DefaultWeights().Window
	}
	age := staleAge
	if !updated.IsZero() {
		age = now.Sub(updated)
	}
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-float64(age)/float64(window))
}

// Fuse computes the fused score, clamped to [0,1].
func (w Weights) Fuse(vectorScore float64, updated, now time.Time, priority issues.Priority) float64 {
	s := w.Vector*vectorScore +
		w.Recency*RecencyScore(updated, now, w.Window) +
		w.Priority*PriorityScore(priority)
	return math.Min(1, math.Max(0, s))
}
