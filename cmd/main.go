package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"vmsched/internal/config"
	"vmsched/internal/history"
	"vmsched/internal/logging"
	"vmsched/internal/pinning"
	"vmsched/internal/scheduler"
	"vmsched/internal/subset"
	"vmsched/internal/topology"
	"vmsched/internal/usage"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var logLevel string
	var arbiterLogLevel string

	rootCmd := &cobra.Command{
		Use:   "vmsched",
		Short: "Node-local VM core scheduler",
		Long:  "Arbitrates physical CPU cores between oversubscribed VM pools on a single host",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			if arbiterLogLevel != "" {
				if err := logging.SetArbiterLogLevel(arbiterLogLevel); err != nil {
					return fmt.Errorf("invalid arbiter log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&arbiterLogLevel, "arbiter-log-level", "", "Set log level of arbitration decisions")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(configFile)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scheduler configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	topologyCmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the discovered CPU topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTopology()
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scheduler configuration file")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scheduler configuration file")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(topologyCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"scheduler": cfg.Scheduler.Name,
		"pools":     len(cfg.Pools),
	}).Info("Configuration is valid")
	return nil
}

func printTopology() error {
	topo, err := topology.Discover()
	if err != nil {
		return err
	}

	for _, node := range topo.Nodes() {
		fmt.Printf("node %d: cpus %s\n", node.ID, topology.FormatCPUList(node.Cores))
	}
	fmt.Printf("cores: %d\n", topo.CoreCount())
	return nil
}

func buildTopology(cfg *config.SchedulerFile) (*topology.Topology, error) {
	if cfg.Topology.Source == "static" {
		nodes := make([]topology.Node, 0, len(cfg.Topology.Nodes))
		distances := make([][]int, 0, len(cfg.Topology.Nodes))
		for _, node := range cfg.Topology.Nodes {
			nodes = append(nodes, topology.Node{ID: node.ID, Cores: node.CPUCores})
			distances = append(distances, node.Distances)
		}
		return topology.NewStatic(nodes, distances)
	}
	return topology.Discover()
}

func buildApplier(cfg *config.SchedulerFile) (subset.PinningApplier, error) {
	switch cfg.Scheduler.Pinning.Driver {
	case "docker":
		return pinning.NewDockerApplier()
	case "cgroup":
		return pinning.NewCgroupApplier(cfg.Scheduler.Pinning.CgroupRoot), nil
	default:
		return pinning.NullApplier{}, nil
	}
}

func runScheduler(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Scheduler.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Scheduler.LogLevel); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}

	topo, err := buildTopology(cfg)
	if err != nil {
		return fmt.Errorf("failed to build topology: %w", err)
	}

	applier, err := buildApplier(cfg)
	if err != nil {
		return err
	}

	var sink *history.InfluxSink
	if cfg.Scheduler.Telemetry.DB.Enabled() {
		sink, err = history.NewInfluxSink(cfg.Scheduler.Telemetry.DB)
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		defer sink.Close()
	}

	sched := scheduler.New(cfg, topo, applier, usage.NewSampler(), sink)
	for _, pool := range cfg.GetPoolsSorted() {
		if err := sched.AddPool(pool); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"scheduler": cfg.Scheduler.Name,
		"cores":     topo.CoreCount(),
		"pools":     len(cfg.Pools),
	}).Info("Scheduler initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Shutting down")
		cancel()
	}()

	sched.Run(ctx)
	return nil
}
