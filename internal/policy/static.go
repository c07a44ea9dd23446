package policy

import (
	"fmt"
	"math"
)

// DefaultCriticalSize is the consumer count at which oversubscription
// starts to apply when the configuration does not override it.
const DefaultCriticalSize = 1

// Static oversubscribes a pool by a fixed ratio.
type Static struct {
	pool         Pool
	ratio        float64
	criticalSize int
}

func NewStatic(pool Pool, ratio float64, criticalSize int) *Static {
	if criticalSize <= 0 {
		criticalSize = DefaultCriticalSize
	}
	return &Static{
		pool:         pool,
		ratio:        ratio,
		criticalSize: criticalSize,
	}
}

func (s *Static) ID() string {
	return fmt.Sprintf("static:%g", s.ratio)
}

func (s *Static) AvailableVirtual(withPending float64) float64 {
	return s.oversubscribed(float64(s.pool.Capacity()), withPending > 0) - s.pool.Allocation()
}

// oversubscribed returns the virtual equivalent of a physical quantity.
// The critical-size projection is tracked for admission decisions; the
// ratio itself is constant once configured.
func (s *Static) oversubscribed(quantity float64, withNew bool) float64 {
	return quantity * s.effectiveRatio(withNew)
}

func (s *Static) effectiveRatio(_ bool) float64 {
	return s.ratio
}

func (s *Static) UnusedCores() int {
	available := s.AvailableVirtual(0)
	unused := int(math.Floor(available / s.effectiveRatio(false)))

	capacity := s.pool.Capacity()
	used := capacity - unused

	// Our floor must not shrink the pool below its largest consumer:
	// a VM must never be oversubscribed against itself.
	maxAlloc := s.pool.MaxConsumerAllocation("", 0)
	if float64(used) < maxAlloc {
		unused = int(math.Floor(float64(capacity) - maxAlloc))
	}

	if unused < 0 {
		return 0
	}
	return unused
}

func (s *Static) AdditionalCoresFor(candidate string, quantity float64) int {
	missingVirtual := quantity - s.AvailableVirtual(quantity)

	missingPhysical := 0
	if missingVirtual > 0 {
		missingPhysical = int(math.Ceil(missingVirtual / s.effectiveRatio(true)))
	}

	// The new capacity must cover the candidate without oversubscribing it
	// against itself: a 32 vCPU request needs 32 physical cores no matter
	// what else shares the pool.
	newCapacity := float64(s.pool.Capacity() + missingPhysical)
	minimalCapacity := s.pool.MaxConsumerAllocation(candidate, quantity)
	if newCapacity < minimalCapacity {
		missingPhysical += int(math.Ceil(minimalCapacity - newCapacity))
	}

	return missingPhysical
}

func (s *Static) CoresDeficit() int {
	available := s.AvailableVirtual(0)
	if available >= 0 {
		return 0
	}
	return int(math.Ceil(-available / s.effectiveRatio(false)))
}

func (s *Static) MarketRequest() float64 {
	return 0
}

func (s *Static) CriticalSizeReached(withNew bool) bool {
	count := s.pool.ConsumerCount()
	if withNew {
		count++
	}
	return count >= s.criticalSize
}
