package market

import (
	"errors"
	"fmt"
	"math"

	"vmsched/internal/logging"
	"vmsched/internal/topology"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDuplicateOrder is returned when an actor places a second order
	// before the pending one has been executed.
	ErrDuplicateOrder = errors.New("order already pending for actor")
	// ErrUnknownActor is returned for operations on unregistered actors.
	ErrUnknownActor = errors.New("actor not registered")
	// ErrNegativeOrder is returned for shed requests; capacity shrink is
	// driven elsewhere.
	ErrNegativeOrder = errors.New("negative order quantity")
)

// Actor is the pool contract the market consumes. Membership mutation goes
// through AddCore/RemoveCore and is always followed by a pinning sync.
type Actor interface {
	Name() string
	Capacity() int
	Allocation() float64
	OwnedCores() []int
	AddCore(core int) error
	RemoveCore(core int) error
	MaxConsumerAllocation(candidate string, quantity float64) float64
	UnusedCores() int
	SyncPinning() error
}

// Hysteresis band of the arbitration gate: once active, the market stays
// active until total demand drops below activeMargin of physical capacity.
const (
	inactiveMargin = 1.0
	activeMargin   = 0.8
)

// Market arbitrates physical cores between registered pools. It is not
// internally locked: the scheduler serializes cycles and admissions with a
// single coarse lock, since partial transfers leave pools in a
// consistent-but-intermediate state.
type Market struct {
	topo            *topology.Topology
	distanceCeiling int

	actors     []Actor // descending priority, ties keep insertion order
	priorities map[string]int
	fallback   Actor

	orders map[string]float64 // one-shot, cleared every cycle

	effective      bool
	effectiveValid bool

	logger *logrus.Logger
}

func New(topo *topology.Topology, distanceCeiling int) *Market {
	return &Market{
		topo:            topo,
		distanceCeiling: distanceCeiling,
		priorities:      make(map[string]int),
		orders:          make(map[string]float64),
		logger:          logging.GetArbiterLogger(),
	}
}

// Register inserts the actor into the descending priority order. The higher
// the priority value, the earlier the actor is served and the later it is
// drained. Re-registering a present actor is a no-op. The fallback actor is
// the lowest-priority entry, recomputed on every membership change.
func (m *Market) Register(actor Actor, priority int) {
	if _, ok := m.priorities[actor.Name()]; ok {
		return
	}

	index := -1
	for i, existing := range m.actors {
		if m.priorities[existing.Name()] < priority {
			index = i
			break
		}
	}

	m.priorities[actor.Name()] = priority
	if index < 0 {
		m.actors = append(m.actors, actor)
	} else {
		m.actors = append(m.actors[:index], append([]Actor{actor}, m.actors[index:]...)...)
	}
	m.fallback = m.actors[len(m.actors)-1]

	m.logger.WithFields(logrus.Fields{
		"actor":    actor.Name(),
		"priority": priority,
		"actors":   len(m.actors),
		"fallback": m.fallback.Name(),
	}).Info("Registered market actor")
}

func (m *Market) Remove(actor Actor) error {
	if _, ok := m.priorities[actor.Name()]; !ok {
		return fmt.Errorf("cannot remove %s: %w", actor.Name(), ErrUnknownActor)
	}

	delete(m.priorities, actor.Name())
	delete(m.orders, actor.Name())
	for i, existing := range m.actors {
		if existing.Name() == actor.Name() {
			m.actors = append(m.actors[:i], m.actors[i+1:]...)
			break
		}
	}

	if len(m.actors) == 0 {
		m.fallback = nil
	} else {
		m.fallback = m.actors[len(m.actors)-1]
	}
	return nil
}

// Actors returns the registered actors in descending priority order.
func (m *Market) Actors() []Actor {
	return append([]Actor(nil), m.actors...)
}

func (m *Market) Priority(name string) (int, bool) {
	priority, ok := m.priorities[name]
	return priority, ok
}

func (m *Market) Fallback() Actor {
	return m.fallback
}

func (m *Market) CoreCount() int {
	return m.topo.CoreCount()
}

// IsArbitrationActive reports whether total promised allocation exceeds
// physical capacity enough to require reallocation. The comparison margin
// is 1.0 while inactive and 0.8 once active, so borderline load does not
// flap the gate on and off. The result is cached between recomputations.
func (m *Market) IsArbitrationActive(recompute bool) bool {
	if m.effectiveValid && !recompute {
		return m.effective
	}

	total := 0.0
	for _, actor := range m.actors {
		total += actor.Allocation()
	}

	margin := inactiveMargin
	if m.effectiveValid && m.effective {
		margin = activeMargin
	}

	was := m.effective
	m.effective = total > float64(m.topo.CoreCount())*margin
	m.effectiveValid = true

	if m.effective != was {
		m.logger.WithFields(logrus.Fields{
			"active":     m.effective,
			"allocation": total,
			"cores":      m.topo.CoreCount(),
		}).Info("Arbitration gate flipped")
	}
	return m.effective
}

// PlaceOrder registers a core request for the next execution pass. At most
// one order per actor may be pending; a second one is a protocol error.
func (m *Market) PlaceOrder(actor Actor, quantity float64) error {
	if _, ok := m.priorities[actor.Name()]; !ok {
		return fmt.Errorf("order from %s: %w", actor.Name(), ErrUnknownActor)
	}
	if quantity < 0 {
		return fmt.Errorf("order from %s for %g: %w", actor.Name(), quantity, ErrNegativeOrder)
	}
	if _, ok := m.orders[actor.Name()]; ok {
		return fmt.Errorf("order from %s: %w", actor.Name(), ErrDuplicateOrder)
	}
	m.orders[actor.Name()] = quantity
	return nil
}

func (m *Market) PendingOrders() int {
	return len(m.orders)
}

// ExecuteOrders resolves all pending positive orders in one pass, highest
// priority first. A served requester is excluded as donor for the rest of
// the pass: it must not be drained right after receiving. Orders are
// cleared unconditionally at the end; partial fulfillment is accepted and
// callers re-check availability.
func (m *Market) ExecuteOrders() error {
	defer func() {
		m.orders = make(map[string]float64)
	}()

	drained := make(map[string]bool)
	for _, actor := range append([]Actor(nil), m.actors...) {
		quantity, ok := m.orders[actor.Name()]
		if !ok || quantity <= 0 {
			continue
		}

		need := int(math.Ceil(quantity))
		affected, err := m.reclaim(actor, need, false, drained)
		drained[actor.Name()] = true
		if err != nil {
			return fmt.Errorf("failed to resolve order of %s: %w", actor.Name(), err)
		}

		m.logger.WithFields(logrus.Fields{
			"actor":     actor.Name(),
			"requested": need,
			"received":  len(affected),
			"cores":     topology.FormatCPUList(affected),
		}).Info("Resolved market order")
	}
	return nil
}

// Reclaim runs the three-tier resolution standalone. With simulate set it
// computes the outcome over a snapshot without touching any pool, which
// makes it usable as an admission dry run.
func (m *Market) Reclaim(requester Actor, quantity int, simulate bool) ([]int, error) {
	return m.reclaim(requester, quantity, simulate, nil)
}
