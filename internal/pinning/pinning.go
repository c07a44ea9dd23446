package pinning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vmsched/internal/logging"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// DockerApplier live-updates a running container's cpuset. The consumer id
// is the container id or name.
type DockerApplier struct {
	client *client.Client
}

func NewDockerApplier() (*DockerApplier, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerApplier{client: cli}, nil
}

func (d *DockerApplier) ApplyCpuset(ctx context.Context, consumer, cpus string) error {
	_, err := d.client.ContainerUpdate(ctx, consumer, container.UpdateConfig{
		Resources: container.Resources{
			CpusetCpus: cpus,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update cpuset of %s: %w", consumer, err)
	}
	return nil
}

func (d *DockerApplier) Close() error {
	return d.client.Close()
}

// CgroupApplier writes cpuset.cpus under a per-consumer cgroup directory.
// The directory must already exist; creating the consumer's cgroup is the
// hypervisor's job.
type CgroupApplier struct {
	root string
}

func NewCgroupApplier(root string) *CgroupApplier {
	return &CgroupApplier{root: root}
}

func (c *CgroupApplier) ApplyCpuset(_ context.Context, consumer, cpus string) error {
	path := filepath.Join(c.root, consumer, "cpuset.cpus")
	if err := os.WriteFile(path, []byte(cpus), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// NullApplier logs the would-be pinning at debug level and succeeds. Used
// for dry runs.
type NullApplier struct{}

func (NullApplier) ApplyCpuset(_ context.Context, consumer, cpus string) error {
	logging.GetLogger().WithFields(logrus.Fields{
		"consumer": consumer,
		"cpus":     cpus,
	}).Debug("Skipping cpuset update")
	return nil
}
