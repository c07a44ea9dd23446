package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vmsched/internal/config"
	"vmsched/internal/forecast"
	"vmsched/internal/history"
	"vmsched/internal/logging"
	"vmsched/internal/market"
	"vmsched/internal/policy"
	"vmsched/internal/subset"
	"vmsched/internal/topology"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownPool is returned for operations on pools never added.
	ErrUnknownPool = errors.New("unknown pool")
	// ErrPoolNotEmpty is returned when removing a pool that still has
	// consumers.
	ErrPoolNotEmpty = errors.New("pool still has consumers")
	// ErrCannotAdmit is returned when the market cannot cover the cores a
	// new consumer would need.
	ErrCannotAdmit = errors.New("insufficient cores for admission")
)

// UsageSource provides per-pool CPU usage in core units.
type UsageSource interface {
	Sample() error
	PoolUsage(cores []int) float64
}

// Scheduler drives the arbitration cycle. One coarse lock serializes
// cycles, admissions and pool lifecycle: market passes leave pools in
// intermediate states that must never be observed concurrently.
type Scheduler struct {
	mu sync.Mutex

	name     string
	cycle    time.Duration
	topo     *topology.Topology
	market   *market.Market
	pools    map[string]*subset.CorePool
	applier  subset.PinningApplier
	source   UsageSource
	recorder *history.Recorder

	logger *logrus.Logger
}

func New(cfg *config.SchedulerFile, topo *topology.Topology, applier subset.PinningApplier, source UsageSource, sink *history.InfluxSink) *Scheduler {
	return &Scheduler{
		name:     cfg.Scheduler.Name,
		cycle:    cfg.GetCycleInterval(),
		topo:     topo,
		market:   market.New(topo, cfg.Scheduler.DistanceCeiling),
		pools:    make(map[string]*subset.CorePool),
		applier:  applier,
		source:   source,
		recorder: history.NewRecorder(cfg.Scheduler.Name, cfg.Scheduler.HistoryDepth, sink),
		logger:   logging.GetLogger(),
	}
}

func (s *Scheduler) Market() *market.Market {
	return s.market
}

func (s *Scheduler) Pool(name string) (*subset.CorePool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[name]
	return pool, ok
}

// AddPool builds the pool with its policy, registers it on the market and
// reserves its initial cores from the unallocated pool.
func (s *Scheduler) AddPool(cfg config.PoolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[cfg.KeyName]; ok {
		return fmt.Errorf("pool %s already exists", cfg.KeyName)
	}

	pool := subset.NewCorePool(cfg.KeyName, s.applier, s.logger)
	ring := s.recorder.Track(cfg.KeyName)

	switch cfg.Policy {
	case "dynamic":
		var forecaster forecast.Forecaster
		switch cfg.Forecaster {
		case "", "cautious":
			forecaster = forecast.NewCautious()
		case "max":
			forecaster = forecast.NewMax()
		default:
			return fmt.Errorf("pool %s: unknown forecaster: %s", cfg.KeyName, cfg.Forecaster)
		}
		dynamic := policy.NewDynamic(pool, cfg.Margin, forecaster, ring)
		dynamic.RegisterMarket(s.market)
		pool.AttachPolicy(dynamic)
	case "static":
		pool.AttachPolicy(policy.NewStatic(pool, cfg.Ratio, cfg.CriticalSize))
	default:
		return fmt.Errorf("pool %s: unknown policy: %s", cfg.KeyName, cfg.Policy)
	}

	s.market.Register(pool, cfg.Priority)
	s.pools[cfg.KeyName] = pool

	if cfg.Cores > 0 {
		cores, err := s.market.Reclaim(pool, cfg.Cores, false)
		if err != nil {
			return fmt.Errorf("failed to reserve cores for pool %s: %w", cfg.KeyName, err)
		}
		s.logger.WithFields(logrus.Fields{
			"pool":      cfg.KeyName,
			"requested": cfg.Cores,
			"cores":     topology.FormatCPUList(cores),
		}).Info("Reserved initial pool cores")
	}

	return nil
}

// RemovePool deregisters an empty pool. Its cores fall back to the
// unallocated pool and are handed out by later market passes.
func (s *Scheduler) RemovePool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[name]
	if !ok {
		return fmt.Errorf("cannot remove %s: %w", name, ErrUnknownPool)
	}
	if pool.ConsumerCount() > 0 {
		return fmt.Errorf("cannot remove %s: %w", name, ErrPoolNotEmpty)
	}

	if err := s.market.Remove(pool); err != nil {
		return err
	}
	for _, core := range pool.OwnedCores() {
		if err := pool.RemoveCore(core); err != nil {
			return err
		}
	}
	delete(s.pools, name)
	s.recorder.Forget(name)
	return nil
}

// RunCycle performs one arbitration pass: sample usage, extend histories,
// recompute the gate, place deficit orders and resolve them.
func (s *Scheduler) RunCycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.source.Sample(); err != nil {
		return fmt.Errorf("usage sampling failed: %w", err)
	}

	for name, pool := range s.pools {
		used := s.source.PoolUsage(pool.OwnedCores())
		s.recorder.Record(name, used, pool.Capacity(), pool.Allocation())
	}

	s.market.IsArbitrationActive(true)

	for _, pool := range s.pools {
		deficit := pool.CoresDeficit()
		if deficit <= 0 {
			continue
		}
		if err := s.market.PlaceOrder(pool, float64(deficit)); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"pool":    pool.Name(),
			"deficit": deficit,
		}).Debug("Placed deficit order")
	}

	return s.market.ExecuteOrders()
}

// Run drives cycles at the configured interval until the context ends.
// Cycle errors are logged and the loop keeps going: a failed pinning call
// is retried implicitly by the next pass.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cycle)
	defer ticker.Stop()

	s.logger.WithField("cycle", s.cycle).Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunCycle(); err != nil {
				s.logger.WithError(err).Error("Arbitration cycle failed")
			}
		}
	}
}

// AdmitVM admits a consumer into a pool when the policy's capacity
// arithmetic works out, reclaiming missing cores through the market first.
// A dry run guards the real reclamation so a doomed admission never moves
// cores.
func (s *Scheduler) AdmitVM(poolName, vm string, vcpus float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolName]
	if !ok {
		return fmt.Errorf("cannot admit %s: %w", poolName, ErrUnknownPool)
	}

	missing := pool.Policy().AdditionalCoresFor(vm, vcpus)
	if missing > 0 {
		granted, err := s.market.Reclaim(pool, missing, true)
		if err != nil {
			return err
		}
		if len(granted) < missing {
			return fmt.Errorf("admitting %s to %s needs %d cores, market offers %d: %w",
				vm, poolName, missing, len(granted), ErrCannotAdmit)
		}
		if _, err := s.market.Reclaim(pool, missing, false); err != nil {
			return err
		}
	}

	if err := pool.AddConsumer(vm, vcpus); err != nil {
		return err
	}
	return pool.SyncPinning()
}

// RemoveVM drops the consumer's promise. Freed capacity surfaces as unused
// cores, which the next market passes redistribute.
func (s *Scheduler) RemoveVM(poolName, vm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[poolName]
	if !ok {
		return fmt.Errorf("cannot remove %s: %w", vm, ErrUnknownPool)
	}
	return pool.RemoveConsumer(vm)
}
