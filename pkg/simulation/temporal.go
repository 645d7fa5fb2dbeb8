// Package simulation holds the longitudinal side of the risk engine: signal
// extraction from vital-sign history, Monte Carlo trajectory projection and
// intervention ranking. All functions are closed-form heuristics with no
// learned parameters.
package simulation

import "math"

const (
	minSeriesLength = 3
	recentWindow    = 5
)

// TemporalSignal summarizes a single vital-sign series.
type TemporalSignal struct {
	Trend       float64 `json:"trend"`
	Volatility  float64 `json:"volatility"`
	Seasonality float64 `json:"seasonality"`
	Samples     int     `json:"samples"`
}

// AnalyzeSeries extracts trend, volatility and seasonality from a series
// ordered most recent first. Series shorter than three points, or with a
// zero mean, yield a zero signal.
//
// Trend is the relative gap between the recent moving average and the
// overall mean. Volatility is the coefficient of variation using the
// population standard deviation. Seasonality measures how lopsided the
// direction of consecutive changes is: 0 for an even split, 1 when every
// step moves the same way.
func AnalyzeSeries(series []float64) TemporalSignal {
	signal := TemporalSignal{Samples: len(series)}
	if len(series) < minSeriesLength {
		return signal
	}

	avg := mean(series)
	if avg == 0 || math.IsNaN(avg) || math.IsInf(avg, 0) {
		return signal
	}

	recent := series
	if len(recent) > recentWindow {
		recent = recent[:recentWindow]
	}
	signal.Trend = (mean(recent) - avg) / avg
	signal.Volatility = stddev(series, avg) / avg

	positive := 0
	for i := 1; i < len(series); i++ {
		if series[i]-series[i-1] > 0 {
			positive++
		}
	}
	fraction := float64(positive) / float64(len(series)-1)
	signal.Seasonality = math.Abs(fraction-0.5) * 2

	return signal
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, avg float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
