// Package enhance holds the grant analyzers: confidence scoring,
// de-duplication, eligibility matching, status monitoring and application
// complexity. Every analyzer is built from an immutable config value and is
// safe for concurrent use.
package enhance

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrWeightSum is returned when a weight table does not sum to 1.
var ErrWeightSum = eris.New("enhance: weights must sum to 1.0")

const weightTolerance = 1e-9

// Weight is one named factor of a weighted sum.
type Weight struct {
	Factor string
	Value  float64
}

// Weights is an ordered weight table. Order fixes the breakdown order.
type Weights []Weight

func (w Weights) Sum() float64 {
	var sum float64
	for _, x := range w {
		sum += x.Value
	}
	return sum
}

// Get returns the weight of factor, or 0 if it is not in the table.
func (w Weights) Get(factor string) float64 {
	for _, x := range w {
		if x.Factor == factor {
			return x.Value
		}
	}
	return 0
}

// Validate fails when a weight is negative, a factor repeats, a required
// factor is missing, or the table does not sum to 1.
func (w Weights) Validate(component string, required ...string) error {
	var problems []string
	seen := make(map[string]bool, len(w))
	for _, x := range w {
		if x.Value < 0 || x.Value > 1 {
			problems = append(problems, x.Factor+" out of range")
		}
		if seen[x.Factor] {
			problems = append(problems, x.Factor+" repeated")
		}
		seen[x.Factor] = true
	}
	for _, r := range required {
		if !seen[r] {
			problems = append(problems, r+" missing")
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("%s: invalid weights: %s", component, strings.Join(problems, "; "))
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return eris.Wrapf(ErrWeightSum, "%s: got %.6f", component, w.Sum())
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
