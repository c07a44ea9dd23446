package usage

import (
	"fmt"

	"vmsched/internal/logging"

	"github.com/c9s/goprocinfo/linux"
)

const procStat = "/proc/stat"

type cpuTimes struct {
	busy  uint64
	total uint64
}

// Sampler turns /proc/stat counters into per-core busy fractions. Fractions
// are deltas between consecutive samples, so the very first Sample returns
// zeros for every core.
type Sampler struct {
	statPath string
	previous map[int]cpuTimes
	busy     map[int]float64
}

func NewSampler() *Sampler {
	return newSampler(procStat)
}

func newSampler(statPath string) *Sampler {
	return &Sampler{
		statPath: statPath,
		previous: make(map[int]cpuTimes),
		busy:     make(map[int]float64),
	}
}

// Sample reads the counters and updates the per-core busy fractions.
func (s *Sampler) Sample() error {
	stat, err := linux.ReadStat(s.statPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.statPath, err)
	}

	for _, cpu := range stat.CPUStats {
		core, err := coreID(cpu.Id)
		if err != nil {
			logging.GetLogger().WithField("cpu", cpu.Id).WithError(err).Warn("Skipping unparsable cpu entry")
			continue
		}

		busy := cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
		total := busy + cpu.Idle + cpu.IOWait

		current := cpuTimes{busy: busy, total: total}
		prev, seen := s.previous[core]
		s.previous[core] = current

		if !seen || current.total <= prev.total {
			s.busy[core] = 0
			continue
		}

		deltaTotal := current.total - prev.total
		deltaBusy := current.busy - prev.busy
		if deltaBusy > deltaTotal {
			deltaBusy = deltaTotal
		}
		s.busy[core] = float64(deltaBusy) / float64(deltaTotal)
	}

	return nil
}

// Busy returns the last busy fraction of a core in [0, 1].
func (s *Sampler) Busy(core int) float64 {
	return s.busy[core]
}

// PoolUsage sums the busy fractions over a pool's cores, yielding usage in
// core units.
func (s *Sampler) PoolUsage(cores []int) float64 {
	total := 0.0
	for _, core := range cores {
		total += s.busy[core]
	}
	return total
}

// coreID parses the "cpuN" label of a per-core stat line. The aggregate
// "cpu" line is reported by ReadStat separately and never reaches here.
func coreID(label string) (int, error) {
	var core int
	if _, err := fmt.Sscanf(label, "cpu%d", &core); err != nil {
		return 0, err
	}
	return core, nil
}
