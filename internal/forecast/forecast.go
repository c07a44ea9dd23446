package forecast

import (
	"math"

	"vmsched/internal/logging"
)

// Forecaster predicts the near-future peak of a usage series. Predict is
// deterministic given the same series and internal state. An empty series is
// degenerate input: implementations log a warning and return 0 instead of
// failing, and callers must not request allocation based on a zero forecast.
type Forecaster interface {
	Predict(series []float64) float64
}

// Max is the simplest forecaster: the next peak is the highest value seen.
type Max struct{}

func NewMax() *Max {
	return &Max{}
}

func (m *Max) Predict(series []float64) float64 {
	if len(series) == 0 {
		logging.GetArbiterLogger().Warn("Forecast requested with an empty series")
		return 0
	}
	peak := series[0]
	for _, v := range series[1:] {
		if v > peak {
			peak = v
		}
	}
	return peak
}

const (
	cautionStart = 5.0
	cautionMin   = 3.0
	cautionMax   = 6.0
	cautionStep  = 1.0
)

// Cautious forecasts mean + caution*stddev of the series. The caution
// multiplier adapts: it steps down while the series looks stable and up
// while it does not, clamped to [cautionMin, cautionMax].
type Cautious struct {
	caution float64
	last    float64
	cached  bool
}

func NewCautious() *Cautious {
	return &Cautious{caution: cautionStart}
}

func (c *Cautious) Predict(series []float64) float64 {
	if len(series) == 0 {
		logging.GetArbiterLogger().Warn("Forecast requested with an empty series")
		return 0
	}

	c.updateCaution(series)

	m := mean(series)
	c.last = m + c.caution*stddev(series, m)
	c.cached = true
	return c.last
}

// Last returns the most recent forecast without recomputing.
func (c *Cautious) Last() (float64, bool) {
	return c.last, c.cached
}

// Caution exposes the current multiplier, mainly for tests and logging.
func (c *Cautious) Caution() float64 {
	return c.caution
}

func (c *Cautious) updateCaution(series []float64) {
	updated := c.caution
	if quiescent(series) {
		updated -= cautionStep
	} else {
		updated += cautionStep
	}
	if updated < cautionMin {
		updated = cautionMin
	}
	if updated > cautionMax {
		updated = cautionMax
	}
	c.caution = updated
}

// quiescent reports whether the newest third of the series is no more
// dispersed, relative to its level, than the series as a whole.
func quiescent(series []float64) bool {
	if len(series) < 3 {
		return false
	}
	recent := series[len(series)-len(series)/3:]
	return variation(recent) <= variation(series)
}

func variation(series []float64) float64 {
	m := mean(series)
	if m == 0 {
		return 0
	}
	return stddev(series, m) / math.Abs(m)
}

func mean(series []float64) float64 {
	total := 0.0
	for _, v := range series {
		total += v
	}
	return total / float64(len(series))
}

func stddev(series []float64, mean float64) float64 {
	if len(series) < 2 {
		return 0
	}
	total := 0.0
	for _, v := range series {
		d := v - mean
		total += d * d
	}
	return math.Sqrt(total / float64(len(series)-1))
}
