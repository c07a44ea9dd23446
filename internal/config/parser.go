package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"vmsched/internal/logging"
	"vmsched/internal/topology"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCycleMS         = 1000
	DefaultDistanceCeiling = 50
	DefaultHistoryDepth    = 120
)

func LoadConfig(filepath string) (*SchedulerFile, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var config SchedulerFile
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, err
	}

	applyDefaults(&config)

	// Set KeyName for each pool based on the YAML key
	for keyName, pool := range config.Pools {
		pool.KeyName = keyName
		config.Pools[keyName] = pool
	}

	// Parse core lists of static topology nodes
	for i, node := range config.Topology.Nodes {
		cpus, err := topology.ParseCPUList(node.Cores)
		if err != nil {
			logger.WithField("node", node.ID).WithField("core_spec", node.Cores).WithError(err).Error("Failed to parse CPU specification")
			return nil, fmt.Errorf("node %d: invalid CPU specification '%s': %w", node.ID, node.Cores, err)
		}
		config.Topology.Nodes[i].CPUCores = cpus
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *SchedulerFile) {
	if config.Scheduler.CycleMS == 0 {
		config.Scheduler.CycleMS = DefaultCycleMS
	}
	if config.Scheduler.DistanceCeiling == 0 {
		config.Scheduler.DistanceCeiling = DefaultDistanceCeiling
	}
	if config.Scheduler.HistoryDepth == 0 {
		config.Scheduler.HistoryDepth = DefaultHistoryDepth
	}
	if config.Scheduler.Pinning.Driver == "" {
		config.Scheduler.Pinning.Driver = "none"
	}
	if config.Topology.Source == "" {
		config.Topology.Source = "auto"
	}
}

func validateConfig(config *SchedulerFile) error {
	if config.Scheduler.Name == "" {
		return fmt.Errorf("scheduler name is required")
	}

	if config.Scheduler.CycleMS <= 0 {
		return fmt.Errorf("cycle_ms must be greater than 0")
	}

	switch config.Scheduler.Pinning.Driver {
	case "docker", "none":
	case "cgroup":
		if config.Scheduler.Pinning.CgroupRoot == "" {
			return fmt.Errorf("pinning driver cgroup requires cgroup_root")
		}
	default:
		return fmt.Errorf("unknown pinning driver: %s", config.Scheduler.Pinning.Driver)
	}

	// Validate telemetry config when a host is given
	db := config.Scheduler.Telemetry.DB
	if db.Enabled() && (db.Name == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete telemetry database configuration")
	}

	switch config.Topology.Source {
	case "auto":
	case "static":
		if len(config.Topology.Nodes) == 0 {
			return fmt.Errorf("static topology requires at least one node")
		}
		for _, node := range config.Topology.Nodes {
			if len(node.Distances) != len(config.Topology.Nodes) {
				return fmt.Errorf("node %d: distance row must have %d entries", node.ID, len(config.Topology.Nodes))
			}
		}
	default:
		return fmt.Errorf("unknown topology source: %s", config.Topology.Source)
	}

	if len(config.Pools) == 0 {
		return fmt.Errorf("at least one pool must be defined")
	}

	for name, pool := range config.Pools {
		switch pool.Policy {
		case "static":
			if pool.Ratio < 1 {
				return fmt.Errorf("pool %s: static ratio must be >= 1", name)
			}
		case "dynamic":
			if pool.Margin < 0 {
				return fmt.Errorf("pool %s: margin must be >= 0", name)
			}
			switch pool.Forecaster {
			case "", "max", "cautious":
			default:
				return fmt.Errorf("pool %s: unknown forecaster: %s", name, pool.Forecaster)
			}
		default:
			return fmt.Errorf("pool %s: unknown policy: %s", name, pool.Policy)
		}

		if pool.Cores < 0 {
			return fmt.Errorf("pool %s: cores must not be negative", name)
		}
	}

	return nil
}
