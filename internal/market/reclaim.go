package market

import (
	"fmt"
	"math"

	"vmsched/internal/topology"

	idset "github.com/intel/goresctrl/pkg/utils"
)

// view is the working state a reclamation pass mutates. Tier decisions are
// made against the view only; in real mode every view mutation is mirrored
// onto the pools as it happens. A simulated pass therefore sees the exact
// transfers a real one would perform, without side effects.
type view struct {
	owned       map[string][]int // per actor, preserving add order
	unallocated []int
}

func (m *Market) newView(requester Actor) *view {
	v := &view{owned: make(map[string][]int)}

	free := m.topo.CoreSet()
	for _, actor := range m.actors {
		cores := actor.OwnedCores()
		v.owned[actor.Name()] = append([]int(nil), cores...)
		for _, core := range cores {
			free.Del(idset.ID(core))
		}
	}
	if requester != nil {
		if _, ok := v.owned[requester.Name()]; !ok {
			v.owned[requester.Name()] = append([]int(nil), requester.OwnedCores()...)
		}
	}
	v.unallocated = free.SortedMembers()
	return v
}

func (v *view) removeOwned(name string, core int) {
	cores := v.owned[name]
	for i, c := range cores {
		if c == core {
			v.owned[name] = append(cores[:i], cores[i+1:]...)
			return
		}
	}
}

func (v *view) removeUnallocated(core int) {
	for i, c := range v.unallocated {
		if c == core {
			v.unallocated = append(v.unallocated[:i], v.unallocated[i+1:]...)
			return
		}
	}
}

// reclaim resolves quantity cores for the requester through three tiers:
// the unallocated pool, spare capacity of lower-priority peers, and finally
// a steal from the fallback actor down to its largest consumer's footprint.
// Actors in drained were served earlier in the same pass and are skipped as
// donors. With a nil requester the cores are released to the unallocated
// pool instead of being attached anywhere.
func (m *Market) reclaim(requester Actor, quantity int, simulate bool, drained map[string]bool) ([]int, error) {
	if quantity <= 0 {
		return nil, nil
	}
	if drained == nil {
		drained = make(map[string]bool)
	}

	v := m.newView(requester)
	affected := make([]int, 0, quantity)
	remaining := quantity

	// Tier 1: unallocated cores, closest to the requester's current set
	// first. The reference set grows as cores are picked, so a requester
	// starting from nothing still clusters around its first pick.
	picked := 0
	for remaining > 0 && len(v.unallocated) > 0 {
		reference := affected
		if requester != nil {
			reference = v.owned[requester.Name()]
		}
		ranked := topology.RankClosest(m.topo, m.distanceCeiling, v.unallocated, reference, true)
		if len(ranked) == 0 {
			break
		}

		core := ranked[0]
		v.removeUnallocated(core)
		if requester != nil {
			v.owned[requester.Name()] = append(v.owned[requester.Name()], core)
			if !simulate {
				if err := requester.AddCore(core); err != nil {
					return affected, fmt.Errorf("failed to attach core %d to %s: %w", core, requester.Name(), err)
				}
			}
		}
		affected = append(affected, core)
		remaining--
		picked++
	}
	if picked > 0 && !simulate && requester != nil {
		if err := requester.SyncPinning(); err != nil {
			return affected, err
		}
	}

	// Tier 2: spare physical capacity of peers, drained lowest priority
	// first. A donor gives at most its unused cores, which the policy
	// already floors at the largest single consumer's footprint.
	for i := len(m.actors) - 1; i >= 0 && remaining > 0; i-- {
		donor := m.actors[i]
		if requester != nil && donor.Name() == requester.Name() {
			continue
		}
		if drained[donor.Name()] {
			continue
		}

		spare := donor.UnusedCores()
		if avail := len(v.owned[donor.Name()]); spare > avail {
			spare = avail
		}
		if spare > remaining {
			spare = remaining
		}
		if spare <= 0 {
			continue
		}

		moved, err := m.transfer(requester, donor, spare, simulate, v)
		affected = append(affected, moved...)
		remaining -= len(moved)
		if err != nil {
			return affected, err
		}
	}

	// Tier 3: steal from the fallback actor, never below what its largest
	// consumer is promised. The fallback absorbs residual pressure when
	// neither free cores nor peer spares cover the request.
	if remaining > 0 && m.fallback != nil {
		fb := m.fallback
		eligible := !drained[fb.Name()]
		if requester != nil && fb.Name() == requester.Name() {
			eligible = false
		}
		if eligible {
			floor := int(math.Ceil(fb.MaxConsumerAllocation("", 0)))
			steal := len(v.owned[fb.Name()]) - floor
			if steal > remaining {
				steal = remaining
			}
			if steal > 0 {
				moved, err := m.transfer(requester, fb, steal, simulate, v)
				affected = append(affected, moved...)
				remaining -= len(moved)
				if err != nil {
					return affected, err
				}
			}
		}
	}

	return affected, nil
}

// transfer moves amount cores from sender to receiver. With a receiver the
// cores picked are the sender's closest to the receiver's current set; with
// a nil receiver the sender's most recently added cores are released to the
// unallocated pool. Each side is repinned once per call.
func (m *Market) transfer(receiver, sender Actor, amount int, simulate bool, v *view) ([]int, error) {
	senderCores := v.owned[sender.Name()]
	if amount > len(senderCores) {
		amount = len(senderCores)
	}
	if amount <= 0 {
		return nil, nil
	}

	var cores []int
	if receiver == nil {
		cores = append([]int(nil), senderCores[len(senderCores)-amount:]...)
	} else {
		ranked := topology.RankClosest(m.topo, m.distanceCeiling, senderCores, v.owned[receiver.Name()], false)
		cores = ranked[:amount]
	}

	for _, core := range cores {
		v.removeOwned(sender.Name(), core)
		if receiver == nil {
			v.unallocated = append(v.unallocated, core)
		} else {
			v.owned[receiver.Name()] = append(v.owned[receiver.Name()], core)
		}
		if !simulate {
			if err := sender.RemoveCore(core); err != nil {
				return nil, fmt.Errorf("failed to detach core %d from %s: %w", core, sender.Name(), err)
			}
			if receiver != nil {
				if err := receiver.AddCore(core); err != nil {
					return nil, fmt.Errorf("failed to attach core %d to %s: %w", core, receiver.Name(), err)
				}
			}
		}
	}

	if !simulate {
		if err := sender.SyncPinning(); err != nil {
			return cores, err
		}
		if receiver != nil {
			if err := receiver.SyncPinning(); err != nil {
				return cores, err
			}
		}
	}
	return cores, nil
}
