package typing

import (
	"math"
	"time"
)

// WPM uses the five-characters-per-word convention over every typed
// character, correct or not.
func WPM(typedLength int, elapsed time.Duration) float64 {
	minutes := float64(elapsed) / float64(time.Minute)
	if minutes <= 0 || typedLength <= 0 {
		return 0
	}
	return math.Round(float64(typedLength) / 5 / minutes)
}

// Accuracy is the share of slots left of the cursor marked correct.
func Accuracy(slots []Slot, cursor, typedLength int) float64 {
	if typedLength <= 0 {
		return 100
	}
	correct := 0
	for i := 0; i < cursor && i < len(slots); i++ {
		if slots[i].Status == StatusCorrect {
			correct++
		}
	}
	acc := math.Round(float64(correct) / float64(typedLength) * 100)
	return math.Max(0, math.Min(100, acc))
}

// Consistency scores the spread of WPM samples: 100 minus the coefficient of
// variation in percent, floored at 0.
func Consistency(samples []float64) float64 {
	if len(samples) < 2 {
		return 100
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	if mean <= 0 {
		return 100
	}
	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(samples)))
	score := math.Round(100 - stddev/mean*100)
	return math.Max(0, math.Min(100, score))
}

func wordsTyped(typedLength int) int {
	return int(math.Round(float64(typedLength) / 5))
}
