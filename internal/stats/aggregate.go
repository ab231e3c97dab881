// Package stats folds finished test sessions into per-user aggregates.
package stats

import (
	"math"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
)

// Apply folds one session into agg using incremental running means.
func Apply(agg store.Aggregate, s store.TestSession) store.Aggregate {
	prev := float64(agg.TotalTests)
	agg.TotalTests++
	n := float64(agg.TotalTests)

	agg.BestWPM = math.Max(agg.BestWPM, s.WPM)
	agg.BestAccuracy = math.Max(agg.BestAccuracy, s.Accuracy)
	agg.AverageWPM = (agg.AverageWPM*prev + s.WPM) / n
	agg.AverageAccuracy = (agg.AverageAccuracy*prev + s.Accuracy) / n
	agg.TotalWords += s.WordsTyped
	agg.TotalTime += s.TimeSpent
	return agg
}
