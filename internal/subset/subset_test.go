package subset

import (
	"context"
	"fmt"
	"testing"
)

type applied struct {
	consumer string
	cpus     string
}

type fakeApplier struct {
	updates []applied
	fail    bool
}

func (f *fakeApplier) ApplyCpuset(_ context.Context, consumer string, cpus string) error {
	if f.fail {
		return fmt.Errorf("boom")
	}
	f.updates = append(f.updates, applied{consumer: consumer, cpus: cpus})
	return nil
}

func TestAddRemoveCore(t *testing.T) {
	pool := NewCorePool("web", nil, nil)

	if err := pool.AddCore(3); err != nil {
		t.Fatalf("AddCore: %v", err)
	}
	if err := pool.AddCore(3); err == nil {
		t.Error("expected error on double add")
	}
	if pool.Capacity() != 1 || !pool.OwnsCore(3) {
		t.Errorf("capacity = %d, owns(3) = %v", pool.Capacity(), pool.OwnsCore(3))
	}

	if err := pool.RemoveCore(7); err == nil {
		t.Error("expected error removing foreign core")
	}
	if err := pool.RemoveCore(3); err != nil {
		t.Fatalf("RemoveCore: %v", err)
	}
	if pool.Capacity() != 0 {
		t.Errorf("capacity = %d, want 0", pool.Capacity())
	}
}

func TestOwnedCoresKeepsAddOrder(t *testing.T) {
	pool := NewCorePool("web", nil, nil)
	for _, core := range []int{5, 1, 3} {
		if err := pool.AddCore(core); err != nil {
			t.Fatalf("AddCore(%d): %v", core, err)
		}
	}

	cores := pool.OwnedCores()
	want := []int{5, 1, 3}
	for i := range want {
		if cores[i] != want[i] {
			t.Fatalf("OwnedCores = %v, want %v", cores, want)
		}
	}

	// Mutating the returned slice must not affect the pool.
	cores[0] = 99
	if pool.OwnedCores()[0] != 5 {
		t.Error("OwnedCores must return a copy")
	}
}

func TestConsumersAndAllocation(t *testing.T) {
	pool := NewCorePool("web", nil, nil)

	if err := pool.AddConsumer("vm-a", 2); err != nil {
		t.Fatalf("AddConsumer: %v", err)
	}
	if err := pool.AddConsumer("vm-a", 1); err == nil {
		t.Error("expected error on duplicate consumer")
	}
	if err := pool.AddConsumer("vm-b", 1.5); err != nil {
		t.Fatalf("AddConsumer: %v", err)
	}

	if got := pool.Allocation(); got != 3.5 {
		t.Errorf("Allocation = %v, want 3.5", got)
	}
	if got := pool.ConsumerCount(); got != 2 {
		t.Errorf("ConsumerCount = %v, want 2", got)
	}

	if err := pool.RemoveConsumer("vm-x"); err == nil {
		t.Error("expected error removing unknown consumer")
	}
	if err := pool.RemoveConsumer("vm-a"); err != nil {
		t.Fatalf("RemoveConsumer: %v", err)
	}
	if got := pool.Allocation(); got != 1.5 {
		t.Errorf("Allocation = %v, want 1.5", got)
	}
}

func TestMaxConsumerAllocation(t *testing.T) {
	pool := NewCorePool("web", nil, nil)
	pool.AddConsumer("vm-a", 2)
	pool.AddConsumer("vm-b", 4)

	if got := pool.MaxConsumerAllocation("", 0); got != 4 {
		t.Errorf("MaxConsumerAllocation = %v, want 4", got)
	}
	if got := pool.MaxConsumerAllocation("vm-c", 6); got != 6 {
		t.Errorf("projected MaxConsumerAllocation = %v, want 6", got)
	}
	if got := pool.MaxConsumerAllocation("vm-c", 1); got != 4 {
		t.Errorf("projected MaxConsumerAllocation = %v, want 4", got)
	}
}

func TestSyncPinningAppliesToEveryConsumer(t *testing.T) {
	applier := &fakeApplier{}
	pool := NewCorePool("web", applier, nil)
	for _, core := range []int{0, 1, 2, 4} {
		pool.AddCore(core)
	}
	pool.AddConsumer("vm-a", 2)
	pool.AddConsumer("vm-b", 2)

	if err := pool.SyncPinning(); err != nil {
		t.Fatalf("SyncPinning: %v", err)
	}
	if len(applier.updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(applier.updates))
	}
	for _, update := range applier.updates {
		if update.cpus != "0-2,4" {
			t.Errorf("cpus = %q, want %q", update.cpus, "0-2,4")
		}
	}
}

func TestSyncPinningPropagatesFailure(t *testing.T) {
	applier := &fakeApplier{fail: true}
	pool := NewCorePool("web", applier, nil)
	pool.AddCore(0)
	pool.AddConsumer("vm-a", 1)

	if err := pool.SyncPinning(); err == nil {
		t.Fatal("expected pinning failure to propagate")
	}
}

func TestPolicyFreeFallbacks(t *testing.T) {
	pool := NewCorePool("web", nil, nil)
	pool.AddCore(0)
	pool.AddCore(1)
	pool.AddConsumer("vm-a", 1)

	if got := pool.AvailableVirtual(0); got != 1 {
		t.Errorf("AvailableVirtual = %v, want 1", got)
	}
	if got := pool.UnusedCores(); got != 1 {
		t.Errorf("UnusedCores = %v, want 1", got)
	}
	if got := pool.CoresDeficit(); got != 0 {
		t.Errorf("CoresDeficit = %v, want 0", got)
	}
}
