package subset

import (
	"context"
	"fmt"
	"math"

	"vmsched/internal/policy"
	"vmsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// PinningApplier pushes a pool's core membership to the host for one
// consumer. Failures are propagated unmodified; retry policy, if any,
// belongs to the applier.
type PinningApplier interface {
	ApplyCpuset(ctx context.Context, consumer string, cpus string) error
}

// Subset is the pool contract the market and the oversubscription policies
// consume. Membership is mutated only through AddCore/RemoveCore, always
// followed by a SyncPinning call so the host reflects the new membership
// before the next cycle reads it.
type Subset interface {
	Name() string
	Capacity() int
	Allocation() float64
	OwnedCores() []int
	AddCore(core int) error
	RemoveCore(core int) error
	ConsumerCount() int
	MaxConsumerAllocation(candidate string, quantity float64) float64
	SyncPinning() error
	AvailableVirtual(withPending float64) float64
	UnusedCores() int
	CoresDeficit() int
}

// CorePool is a named pool of physical cores backing one or more VM
// consumers. It is not internally locked: all mutation happens under the
// scheduler's cycle lock.
type CorePool struct {
	name      string
	owned     []int // in add order; generic transfers take from the tail
	ownedSet  map[int]bool
	consumers map[string]float64 // vm name -> promised vCPUs
	policy    policy.Oversubscription
	applier   PinningApplier
	logger    *logrus.Logger
}

func NewCorePool(name string, applier PinningApplier, logger *logrus.Logger) *CorePool {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CorePool{
		name:      name,
		ownedSet:  make(map[int]bool),
		consumers: make(map[string]float64),
		applier:   applier,
		logger:    logger,
	}
}

// AttachPolicy binds the oversubscription policy. Set once at pool
// creation, before the pool is registered with the market.
func (p *CorePool) AttachPolicy(pol policy.Oversubscription) {
	p.policy = pol
}

func (p *CorePool) Policy() policy.Oversubscription {
	return p.policy
}

func (p *CorePool) Name() string {
	return p.name
}

func (p *CorePool) Capacity() int {
	return len(p.owned)
}

func (p *CorePool) Allocation() float64 {
	total := 0.0
	for _, vcpus := range p.consumers {
		total += vcpus
	}
	return total
}

func (p *CorePool) OwnedCores() []int {
	return append([]int(nil), p.owned...)
}

func (p *CorePool) OwnsCore(core int) bool {
	return p.ownedSet[core]
}

func (p *CorePool) AddCore(core int) error {
	if p.ownedSet[core] {
		return fmt.Errorf("core %d already owned by pool %s", core, p.name)
	}
	p.owned = append(p.owned, core)
	p.ownedSet[core] = true
	return nil
}

func (p *CorePool) RemoveCore(core int) error {
	if !p.ownedSet[core] {
		return fmt.Errorf("core %d not owned by pool %s", core, p.name)
	}
	for i, owned := range p.owned {
		if owned == core {
			p.owned = append(p.owned[:i], p.owned[i+1:]...)
			break
		}
	}
	delete(p.ownedSet, core)
	return nil
}

func (p *CorePool) ConsumerCount() int {
	return len(p.consumers)
}

// MaxConsumerAllocation returns the largest single-consumer promise. A
// non-empty candidate projects an additional consumer of the given quantity
// into the computation.
func (p *CorePool) MaxConsumerAllocation(candidate string, quantity float64) float64 {
	max := 0.0
	for _, vcpus := range p.consumers {
		if vcpus > max {
			max = vcpus
		}
	}
	if candidate != "" && quantity > max {
		max = quantity
	}
	return max
}

func (p *CorePool) AddConsumer(vm string, vcpus float64) error {
	if _, ok := p.consumers[vm]; ok {
		return fmt.Errorf("consumer %s already registered in pool %s", vm, p.name)
	}
	p.consumers[vm] = vcpus
	p.logger.WithFields(logrus.Fields{
		"pool":  p.name,
		"vm":    vm,
		"vcpus": vcpus,
	}).Info("Registered consumer")
	return nil
}

func (p *CorePool) RemoveConsumer(vm string) error {
	if _, ok := p.consumers[vm]; !ok {
		return fmt.Errorf("consumer %s not registered in pool %s", vm, p.name)
	}
	delete(p.consumers, vm)
	p.logger.WithFields(logrus.Fields{
		"pool": p.name,
		"vm":   vm,
	}).Info("Removed consumer")
	return nil
}

func (p *CorePool) ConsumerAllocation(vm string) (float64, bool) {
	vcpus, ok := p.consumers[vm]
	return vcpus, ok
}

func (p *CorePool) Consumers() []string {
	names := make([]string, 0, len(p.consumers))
	for vm := range p.consumers {
		names = append(names, vm)
	}
	return names
}

// SyncPinning pushes the current membership to every consumer through the
// pinning applier. The first failure aborts and is returned unmodified.
func (p *CorePool) SyncPinning() error {
	if p.applier == nil {
		return nil
	}

	ctx := context.Background()
	cpus := topology.FormatCPUList(p.owned)
	for vm := range p.consumers {
		if err := p.applier.ApplyCpuset(ctx, vm, cpus); err != nil {
			return fmt.Errorf("failed to pin consumer %s of pool %s: %w", vm, p.name, err)
		}
	}
	return nil
}

func (p *CorePool) AvailableVirtual(withPending float64) float64 {
	if p.policy == nil {
		return float64(len(p.owned)) - p.Allocation()
	}
	return p.policy.AvailableVirtual(withPending)
}

func (p *CorePool) UnusedCores() int {
	if p.policy == nil {
		unused := len(p.owned) - int(p.Allocation())
		if unused < 0 {
			return 0
		}
		return unused
	}
	return p.policy.UnusedCores()
}

func (p *CorePool) CoresDeficit() int {
	if p.policy == nil {
		deficit := int(math.Ceil(p.Allocation())) - len(p.owned)
		if deficit < 0 {
			return 0
		}
		return deficit
	}
	return p.policy.CoresDeficit()
}
