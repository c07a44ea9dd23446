package policy

// Pool is the slice of the subset contract the oversubscription policies
// need: physical capacity, promised virtual allocation and consumer shape.
type Pool interface {
	Name() string
	Capacity() int
	Allocation() float64
	ConsumerCount() int
	// MaxConsumerAllocation returns the largest single-consumer promise,
	// optionally projected with an additional candidate consumer of the
	// given quantity.
	MaxConsumerAllocation(candidate string, quantity float64) float64
}

// ArbitrationGate is the slice of the market contract the dynamic policy
// queries. It is injected after construction (RegisterMarket) because pools,
// policies and the market reference each other.
type ArbitrationGate interface {
	IsArbitrationActive(recompute bool) bool
}

// SeriesSource provides the historical usage series a forecaster consumes.
type SeriesSource interface {
	Series() []float64
}

// Oversubscription converts a pool's physical capacity into promised
// virtual capacity. One policy is attached per pool at creation time.
type Oversubscription interface {
	// ID identifies the policy variant and its parameters.
	ID() string

	// AvailableVirtual returns the virtual capacity still unpromised.
	// withPending projects an admission that has not been registered yet.
	// The dynamic variant may return a negative value: an active deficit.
	AvailableVirtual(withPending float64) float64

	// UnusedCores returns how many owned physical cores are not needed to
	// honor current promises. Never reports cores whose removal would drop
	// capacity below the largest single-consumer promise: a VM must not be
	// oversubscribed against itself.
	UnusedCores() int

	// AdditionalCoresFor returns the physical cores missing to admit the
	// candidate consumer at the given quantity, honoring the same
	// self-oversubscription floor.
	AdditionalCoresFor(candidate string, quantity float64) int

	// CoresDeficit returns the physical cores the pool is currently short
	// of; the per-cycle order placed with the market.
	CoresDeficit() int

	// MarketRequest returns the policy's spontaneous market signal: 0, or
	// a negative amount of cores the pool could give back.
	MarketRequest() float64

	// CriticalSizeReached reports whether enough distinct consumers share
	// the pool for oversubscription to apply. withNew projects one more.
	CriticalSizeReached(withNew bool) bool
}
