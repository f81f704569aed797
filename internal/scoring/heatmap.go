package scoring

import (
	"math"
	"time"

	"github.com/PaulBabatuyi/wayfare/internal/data"
)

// Score weights. The three components are each normalised to [0,1].
const (
	activityWeight = 0.4
	ratingWeight   = 0.3
	recencyWeight  = 0.3

	// decayHours is the e-folding time of the recency component.
	decayHours = 24.0

	// activitySaturation is the activity count at which the log-damped
	// activity component reaches 1.
	activitySaturation = 100.0

	// propagationShare is the fraction of a business interaction credited to
	// its location.
	propagationShare = 0.5
)

// DecayFactor is exp(-hours since last/24) clamped to [0,1]. A nil last
// interaction yields 0.
func DecayFactor(last *time.Time, now time.Time) float64 {
	if last == nil {
		return 0
	}
	hours := now.Sub(*last).Hours()
	return clamp01(math.Exp(-hours / decayHours))
}

// HeatmapScore combines activity, rating and recency into an integer in [0,100].
func HeatmapScore(activityCount, avgRating, decay float64) int {
	activity := 0.0
	if activityCount > 0 {
		activity = clamp01(math.Log10(activityCount) / math.Log10(activitySaturation))
	}
	rating := clamp01((avgRating - 1) / 4)
	recency := clamp01(decay)

	score := math.Round((activity*activityWeight + rating*ratingWeight + recency*recencyWeight) * 100)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// Score recomputes the cached heatmap score of e from its stored fields as of now.
func Score(e *data.Entity, now time.Time) int {
	return HeatmapScore(e.ActivityCount, e.AvgRating, DecayFactor(e.LastInteraction, now))
}

// clamp01 also maps NaN to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
