package policy

import (
	"math"

	"vmsched/internal/forecast"
	"vmsched/internal/logging"

	"github.com/sirupsen/logrus"
)

// Dynamic sizes a pool's virtual capacity from a demand forecast instead of
// a fixed ratio. While the market reports arbitration inactive it degrades
// to plain physical-minus-allocation accounting.
type Dynamic struct {
	pool       Pool
	margin     float64 // safety margin on top of the forecast, percent
	forecaster forecast.Forecaster
	series     SeriesSource
	gate       ArbitrationGate
	logger     *logrus.Logger
}

func NewDynamic(pool Pool, margin float64, forecaster forecast.Forecaster, series SeriesSource) *Dynamic {
	return &Dynamic{
		pool:       pool,
		margin:     margin,
		forecaster: forecaster,
		series:     series,
		logger:     logging.GetArbiterLogger(),
	}
}

// RegisterMarket injects the arbitration gate after construction; pools,
// policies and the market cannot reference each other at build time.
func (d *Dynamic) RegisterMarket(gate ArbitrationGate) {
	d.gate = gate
}

func (d *Dynamic) ID() string {
	return "dynamic"
}

func (d *Dynamic) active() bool {
	return d.gate != nil && d.gate.IsArbitrationActive(false)
}

// forecastPeak returns the projected demand peak, or 0 when the series is
// degenerate. A zero forecast must never drive an allocation request.
func (d *Dynamic) forecastPeak() float64 {
	if d.series == nil {
		return 0
	}
	return d.forecaster.Predict(d.series.Series())
}

func (d *Dynamic) MarketRequest() float64 {
	if !d.active() {
		return 0
	}

	peak := d.forecastPeak()
	if peak <= 0 {
		return 0
	}

	projected := peak * (1 + d.margin/100)
	capacity := float64(d.pool.Capacity())
	if projected < capacity {
		release := projected - capacity
		d.logger.WithFields(logrus.Fields{
			"pool":      d.pool.Name(),
			"peak":      peak,
			"projected": projected,
			"release":   release,
		}).Debug("Pool could release cores")
		return release
	}
	return 0
}

func (d *Dynamic) AvailableVirtual(_ float64) float64 {
	capacity := float64(d.pool.Capacity())
	if !d.active() {
		return capacity - d.pool.Allocation()
	}

	peak := d.forecastPeak()
	if peak <= 0 {
		return capacity - d.pool.Allocation()
	}
	return capacity - (1+d.margin/100)*peak
}

func (d *Dynamic) UnusedCores() int {
	available := d.AvailableVirtual(0)
	unused := int(math.Floor(available))

	capacity := d.pool.Capacity()
	used := capacity - unused

	maxAlloc := d.pool.MaxConsumerAllocation("", 0)
	if float64(used) < maxAlloc {
		unused = int(math.Floor(float64(capacity) - maxAlloc))
	}

	if unused < 0 {
		return 0
	}
	return unused
}

func (d *Dynamic) AdditionalCoresFor(candidate string, quantity float64) int {
	missing := quantity - d.AvailableVirtual(quantity)

	missingPhysical := 0
	if missing > 0 {
		missingPhysical = int(math.Ceil(missing))
	}

	newCapacity := float64(d.pool.Capacity() + missingPhysical)
	minimalCapacity := d.pool.MaxConsumerAllocation(candidate, quantity)
	if newCapacity < minimalCapacity {
		missingPhysical += int(math.Ceil(minimalCapacity - newCapacity))
	}

	return missingPhysical
}

func (d *Dynamic) CoresDeficit() int {
	available := d.AvailableVirtual(0)
	if available >= 0 {
		return 0
	}
	return int(math.Ceil(-available))
}

func (d *Dynamic) CriticalSizeReached(withNew bool) bool {
	count := d.pool.ConsumerCount()
	if withNew {
		count++
	}
	return count >= DefaultCriticalSize
}
