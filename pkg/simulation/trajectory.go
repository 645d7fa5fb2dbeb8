package simulation

import (
	"math"
	"math/rand/v2"
	"sort"
)

// DefaultPaths is the number of simulated paths when none is requested.
const DefaultPaths = 1000

const (
	lowerPercentile  = 0.05
	medianPercentile = 0.50
	upperPercentile  = 0.95

	initialConfidence = 0.95
	confidenceDecay   = 0.03
	minConfidence     = 0.5

	minRisk = 1.0
	maxRisk = 95.0
)

// TrajectoryPoint summarizes all simulated paths at one future step.
type TrajectoryPoint struct {
	Step       int     `json:"step"`
	Mean       float64 `json:"mean"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Confidence float64 `json:"confidence"`
}

// Simulator runs Monte Carlo projections. Paths are drawn sequentially from
// one random source, so a seeded source gives reproducible output. A
// Simulator is not safe for concurrent use.
type Simulator struct {
	rng   *rand.Rand
	paths int
}

// NewSimulator creates a simulator drawing from src. A non-positive paths
// value selects DefaultPaths.
func NewSimulator(src rand.Source, paths int) *Simulator {
	if paths <= 0 {
		paths = DefaultPaths
	}
	return &Simulator{rng: rand.New(src), paths: paths}
}

// NewSeededSimulator is a convenience for a PCG source with a fixed seed.
func NewSeededSimulator(seed uint64, paths int) *Simulator {
	return NewSimulator(rand.NewPCG(seed, seed), paths)
}

// Paths returns the number of simulated paths per projection.
func (s *Simulator) Paths() int {
	return s.paths
}

// Project simulates the value over steps future periods. At step k of n each
// path moves by trend*value*(k/n) plus uniform noise in [-0.5, 0.5) scaled
// by volatility*value. Paths never drop below zero and saturate at the
// largest finite float64 instead of overflowing. Each returned point holds
// the 50th, 5th and 95th percentile of the paths at that step.
func (s *Simulator) Project(current, trend, volatility float64, steps int) []TrajectoryPoint {
	if steps <= 0 {
		return []TrajectoryPoint{}
	}

	// values[step][path]
	values := make([][]float64, steps)
	for i := range values {
		values[i] = make([]float64, s.paths)
	}

	for p := 0; p < s.paths; p++ {
		v := current
		for step := 1; step <= steps; step++ {
			u := s.rng.Float64() - 0.5
			v *= 1 + trend*(float64(step)/float64(steps)) + u*volatility
			switch {
			case v < 0 || math.IsNaN(v):
				v = 0
			case math.IsInf(v, 1):
				v = math.MaxFloat64
			}
			values[step-1][p] = v
		}
	}

	points := make([]TrajectoryPoint, steps)
	for i, column := range values {
		sort.Float64s(column)
		step := i + 1
		points[i] = TrajectoryPoint{
			Step:       step,
			Mean:       percentile(column, medianPercentile),
			Lower:      percentile(column, lowerPercentile),
			Upper:      percentile(column, upperPercentile),
			Confidence: StepConfidence(step),
		}
	}
	return points
}

// ProjectRisk projects a risk percentage and keeps every band inside the
// scorer's [1, 95] range.
func (s *Simulator) ProjectRisk(currentRisk, trend, volatility float64, steps int) []TrajectoryPoint {
	points := s.Project(currentRisk, trend, volatility, steps)
	for i := range points {
		points[i].Mean = clampRisk(points[i].Mean)
		points[i].Lower = clampRisk(points[i].Lower)
		points[i].Upper = clampRisk(points[i].Upper)
	}
	return points
}

// StepConfidence decays linearly with horizon and is floored at 0.5. It does
// not depend on the simulated spread.
func StepConfidence(step int) float64 {
	return math.Max(minConfidence, initialConfidence-float64(step)*confidenceDecay)
}

// percentile uses the nearest-rank index floor(p*n) on sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func clampRisk(v float64) float64 {
	return math.Min(maxRisk, math.Max(minRisk, v))
}
