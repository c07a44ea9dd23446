package config

import (
	"time"
)

type SchedulerFile struct {
	Scheduler SchedulerInfo         `yaml:"scheduler"`
	Topology  TopologyConfig        `yaml:"topology"`
	Pools     map[string]PoolConfig `yaml:"pools"`
}

type SchedulerInfo struct {
	Name            string          `yaml:"name"`
	CycleMS         int             `yaml:"cycle_ms"`
	LogLevel        string          `yaml:"log_level"`
	DistanceCeiling int             `yaml:"distance_ceiling"`
	HistoryDepth    int             `yaml:"history_depth"`
	Pinning         PinningConfig   `yaml:"pinning"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

type PinningConfig struct {
	Driver     string `yaml:"driver"`
	CgroupRoot string `yaml:"cgroup_root"`
}

type TelemetryConfig struct {
	DB DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

func (db DatabaseConfig) Enabled() bool {
	return db.Host != ""
}

type TopologyConfig struct {
	Source string       `yaml:"source"`
	Nodes  []NodeConfig `yaml:"nodes"`
}

type NodeConfig struct {
	ID        int    `yaml:"id"`
	Cores     string `yaml:"cores"`
	Distances []int  `yaml:"distances"`

	// CPUCores is parsed from Cores during loading.
	CPUCores []int `yaml:"-"`
}

type PoolConfig struct {
	Priority     int     `yaml:"priority"`
	Policy       string  `yaml:"policy"`
	Ratio        float64 `yaml:"ratio"`
	Margin       float64 `yaml:"margin"`
	Forecaster   string  `yaml:"forecaster"`
	CriticalSize int     `yaml:"critical_size"`
	Cores        int     `yaml:"cores"`

	// KeyName is set from the YAML map key during loading.
	KeyName string `yaml:"-"`
}

func (s *SchedulerFile) GetCycleInterval() time.Duration {
	return time.Duration(s.Scheduler.CycleMS) * time.Millisecond
}

func (s *SchedulerFile) GetPoolsSorted() []PoolConfig {
	var pools []PoolConfig
	for _, pool := range s.Pools {
		pools = append(pools, pool)
	}

	// Sort by descending priority, name breaking ties
	for i := 0; i < len(pools)-1; i++ {
		for j := i + 1; j < len(pools); j++ {
			if pools[i].Priority < pools[j].Priority ||
				(pools[i].Priority == pools[j].Priority && pools[i].KeyName > pools[j].KeyName) {
				pools[i], pools[j] = pools[j], pools[i]
			}
		}
	}

	return pools
}
