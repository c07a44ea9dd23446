package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"vmsched/internal/logging"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"
)

const sysNodePath = "/sys/devices/system/node"

// defaultLocalDistance is the conventional SLIT distance of a node to itself.
const defaultLocalDistance = 10

// Node describes one NUMA node: its id and the physical cores it holds.
type Node struct {
	ID    int
	Cores []int
}

// Topology is the read-only view of the host's physical cores and their
// NUMA distances. It is initialized once (discovered or built statically)
// and never mutated afterwards.
type Topology struct {
	cores     idset.IDSet
	nodeOf    map[int]int
	nodeIDs   []int
	distances map[int]map[int]int // node id -> node id -> distance
}

// NewStatic builds a topology from an explicit node list and a square
// distance matrix indexed in node-list order. Used for configuration-driven
// setups and tests.
func NewStatic(nodes []Node, distances [][]int) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes given")
	}
	if len(distances) != len(nodes) {
		return nil, fmt.Errorf("distance matrix has %d rows for %d nodes", len(distances), len(nodes))
	}

	t := &Topology{
		cores:     idset.NewIDSet(),
		nodeOf:    make(map[int]int),
		distances: make(map[int]map[int]int),
	}

	for i, node := range nodes {
		if len(distances[i]) != len(nodes) {
			return nil, fmt.Errorf("distance matrix row %d has %d entries for %d nodes", i, len(distances[i]), len(nodes))
		}
		t.nodeIDs = append(t.nodeIDs, node.ID)
		t.distances[node.ID] = make(map[int]int, len(nodes))
		for j, other := range nodes {
			t.distances[node.ID][other.ID] = distances[i][j]
		}
		for _, core := range node.Cores {
			if t.cores.Has(core) {
				return nil, fmt.Errorf("core %d listed in more than one node", core)
			}
			t.cores.Add(core)
			t.nodeOf[core] = node.ID
		}
	}

	return t, nil
}

// Discover reads the NUMA layout from sysfs. Hosts without a NUMA sysfs
// tree (or non-Linux development machines) fall back to a single node
// holding every logical CPU.
func Discover() (*Topology, error) {
	logger := logging.GetLogger()

	entries, err := os.ReadDir(sysNodePath)
	if err != nil {
		logger.WithError(err).Warn("NUMA sysfs tree not readable, assuming single-node topology")
		return singleNodeFallback(), nil
	}

	var nodes []Node
	var rows [][]int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}

		cores, err := readCPUList(filepath.Join(sysNodePath, name, "cpulist"))
		if err != nil {
			return nil, fmt.Errorf("failed to read cpulist of node %d: %w", id, err)
		}
		row, err := readDistances(filepath.Join(sysNodePath, name, "distance"))
		if err != nil {
			return nil, fmt.Errorf("failed to read distances of node %d: %w", id, err)
		}

		nodes = append(nodes, Node{ID: id, Cores: cores})
		rows = append(rows, row)
	}

	if len(nodes) == 0 {
		logger.Warn("No NUMA nodes found in sysfs, assuming single-node topology")
		return singleNodeFallback(), nil
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	t, err := NewStatic(nodes, rows)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"nodes": len(nodes),
		"cores": t.CoreCount(),
	}).Info("Discovered NUMA topology")

	return t, nil
}

func singleNodeFallback() *Topology {
	cores := make([]int, runtime.NumCPU())
	for i := range cores {
		cores[i] = i
	}
	t, _ := NewStatic(
		[]Node{{ID: 0, Cores: cores}},
		[][]int{{defaultLocalDistance}},
	)
	return t
}

// Nodes returns the NUMA nodes with their cores, sorted by node id.
func (t *Topology) Nodes() []Node {
	nodes := make([]Node, 0, len(t.nodeIDs))
	for _, id := range t.nodeIDs {
		var cores []int
		for _, core := range t.cores.SortedMembers() {
			if t.nodeOf[core] == id {
				cores = append(cores, core)
			}
		}
		nodes = append(nodes, Node{ID: id, Cores: cores})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// AllCores returns every physical core id, sorted.
func (t *Topology) AllCores() []int {
	return t.cores.SortedMembers()
}

// CoreSet returns a copy of the core id set.
func (t *Topology) CoreSet() idset.IDSet {
	return t.cores.Clone()
}

func (t *Topology) CoreCount() int {
	return t.cores.Size()
}

func (t *Topology) Contains(core int) bool {
	return t.cores.Has(core)
}

// NodeOf returns the NUMA node id owning the core, or -1 for unknown cores.
func (t *Topology) NodeOf(core int) int {
	if node, ok := t.nodeOf[core]; ok {
		return node
	}
	return -1
}

// Distance returns the topology distance between the nodes of two cores.
// Unknown cores are treated as maximally local (distance 0) so that
// constraint-free candidates sort first.
func (t *Topology) Distance(a, b int) int {
	na, ok := t.nodeOf[a]
	if !ok {
		return 0
	}
	nb, ok := t.nodeOf[b]
	if !ok {
		return 0
	}
	return t.distances[na][nb]
}

func readCPUList(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCPUList(strings.TrimSpace(string(data)))
}

func readDistances(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, field := range strings.Fields(string(data)) {
		d, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid distance value %q", field)
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseCPUList parses kernel cpulist strings like "0", "0,2,4" or "0-3,8".
func ParseCPUList(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid CPU range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}
			if start > end {
				return nil, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}
			for i := start; i <= end; i++ {
				if !seen[i] {
					cpus = append(cpus, i)
					seen[i] = true
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}
			if !seen[cpu] {
				cpus = append(cpus, cpu)
				seen[cpu] = true
			}
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}
	return cpus, nil
}

// FormatCPUList renders core ids as a canonical kernel cpulist string.
func FormatCPUList(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)

	var parts []string
	start := sorted[0]
	prev := sorted[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev {
			continue
		}
		if cpu != prev+1 {
			flush(prev)
			start = cpu
		}
		prev = cpu
	}
	flush(prev)

	return strings.Join(parts, ",")
}
