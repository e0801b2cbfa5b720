// Package cgroup creates the judge's cgroup v2 topology and pins the
// runtime's worker threads one-to-one to physical CPU cores.
package cgroup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Filenames within a cgroup directory.
const (
	fileControllers     = "cgroup.controllers"
	fileSubtreeControl  = "cgroup.subtree_control"
	fileProcs           = "cgroup.procs"
	fileThreads         = "cgroup.threads"
	fileType            = "cgroup.type"
	fileCpusetCpus      = "cpuset.cpus"
	fileCpusetEffective = "cpuset.cpus.effective"

	dirPerm = 0o755
)

// mandatoryControllers is enabled in container.slice's subtree_control so
// every per-submission container cgroup inherits cpu/cpuset/memory/io/pids
// accounting.
var mandatoryControllers = []string{"cpu", "cpuset", "memory", "io", "pids"}

// ErrNotUnified is returned when the host does not expose a cgroup v2
// unified hierarchy.
var ErrNotUnified = errors.New("only cgroup v2 (unified hierarchy) is supported")

// ErrInsufficientCPUs is returned when the effective CPU set is smaller
// than the number of runtime threads to pin.
var ErrInsufficientCPUs = errors.New("insufficient CPUs to pin one thread per core")

// Topology holds the three paths the rest of the judge process needs:
// the process's own cgroup root, the scope holding pinned runtime threads,
// and the slice that is the parent of every per-submission container cgroup.
type Topology struct {
	Root            string
	MainScopePath   string
	ContainerSlicePath string
}

// CheckUnified fails fast if the host's cgroup filesystem is not mounted as
// a unified (v2) hierarchy — detected by the presence of cgroup.controllers
// at the mount root, which only exists under the unified hierarchy.
func CheckUnified(mountpoint string) error {
	_, err := os.Stat(filepath.Join(mountpoint, fileControllers))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotUnified, err)
	}

	return nil
}

// Initialize creates main.scope and container.slice under root, moves the
// current process into main.scope, and enables controller delegation at
// each level. It is a one-shot startup procedure; any failure is fatal to
// the caller, matching the "no partial recovery" rule for cgroup setup.
func Initialize(root string) (*Topology, error) {
	topo := &Topology{
		Root:               root,
		MainScopePath:      filepath.Join(root, "main.scope"),
		ContainerSlicePath: filepath.Join(root, "container.slice"),
	}

	if err := os.MkdirAll(topo.MainScopePath, dirPerm); err != nil {
		return nil, fmt.Errorf("create main.scope: %w", err)
	}

	if err := os.MkdirAll(topo.ContainerSlicePath, dirPerm); err != nil {
		return nil, fmt.Errorf("create container.slice: %w", err)
	}

	if err := writeFile(filepath.Join(topo.MainScopePath, fileProcs), strconv.Itoa(os.Getpid())); err != nil {
		return nil, fmt.Errorf("move process into main.scope: %w", err)
	}

	if err := writeFile(filepath.Join(root, fileSubtreeControl), delegateString(mandatoryControllers)); err != nil {
		return nil, fmt.Errorf("enable root subtree_control: %w", err)
	}

	if err := writeFile(filepath.Join(topo.MainScopePath, fileSubtreeControl), delegateString([]string{"cpuset"})); err != nil {
		return nil, fmt.Errorf("enable main.scope subtree_control: %w", err)
	}

	if err := writeFile(filepath.Join(topo.ContainerSlicePath, fileSubtreeControl), delegateString(mandatoryControllers)); err != nil {
		return nil, fmt.Errorf("enable container.slice subtree_control: %w", err)
	}

	slog.Info("cgroup topology initialized", "root", root)

	return topo, nil
}

// delegateString renders "+a +b +c" the way cgroup.subtree_control expects.
func delegateString(controllers []string) string {
	parts := make([]string, len(controllers))
	for i, c := range controllers {
		parts[i] = "+" + c
	}

	return strings.Join(parts, " ")
}

// PinThreads performs the one-shot thread-pinning procedure: it reads the
// effective CPU set and the current thread ids in main.scope, and pins each
// thread to a distinct CPU by creating a threaded leaf cgroup for it.
//
// Callers must ensure all expected threads are already present in
// main.scope/cgroup.threads before calling this — see PinBarrier, which the
// worker pool's goroutines rendezvous on so that PinThreads runs once, after
// every thread has arrived.
func (t *Topology) PinThreads() error {
	cpus, err := t.effectiveCPUs()
	if err != nil {
		return err
	}

	tids, err := readThreadIDs(filepath.Join(t.MainScopePath, fileThreads))
	if err != nil {
		return fmt.Errorf("read cgroup.threads: %w", err)
	}

	if len(cpus) < len(tids) {
		return fmt.Errorf("%w: have %d cpus, %d threads", ErrInsufficientCPUs, len(cpus), len(tids))
	}

	for i, tid := range tids {
		cpu := cpus[i]

		leaf := filepath.Join(t.MainScopePath, fmt.Sprintf("thread-%d", tid))
		if err := os.MkdirAll(leaf, dirPerm); err != nil {
			return fmt.Errorf("create thread leaf for tid %d: %w", tid, err)
		}

		if err := writeFile(filepath.Join(leaf, fileType), "threaded"); err != nil {
			return fmt.Errorf("set cgroup.type threaded for tid %d: %w", tid, err)
		}

		if err := writeFile(filepath.Join(leaf, fileThreads), strconv.Itoa(tid)); err != nil {
			return fmt.Errorf("move tid %d into thread leaf: %w", tid, err)
		}

		if err := writeFile(filepath.Join(leaf, fileCpusetCpus), strconv.Itoa(cpu)); err != nil {
			return fmt.Errorf("pin tid %d to cpu %d: %w", tid, cpu, err)
		}

		slog.Debug("pinned thread to cpu", "tid", tid, "cpu", cpu)
	}

	return nil
}

func (t *Topology) effectiveCPUs() ([]int, error) {
	raw, err := os.ReadFile(filepath.Join(t.MainScopePath, fileCpusetEffective))
	if err != nil {
		return nil, fmt.Errorf("read cpuset.cpus.effective: %w", err)
	}

	return ParseCPUSet(strings.TrimSpace(string(raw)))
}

// ParseCPUSet parses the kernel's compact cpuset list form: comma-separated
// tokens, each either "X" or "X-Y", into a flat sorted slice of CPU ids.
func ParseCPUSet(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	var cpus []int

	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		lo, hi, found := strings.Cut(token, "-")
		if !found {
			n, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("parse cpu id %q: %w", token, err)
			}

			cpus = append(cpus, n)

			continue
		}

		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("parse range start %q: %w", token, err)
		}

		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("parse range end %q: %w", token, err)
		}

		for n := start; n <= end; n++ {
			cpus = append(cpus, n)
		}
	}

	sort.Ints(cpus)

	return cpus, nil
}

func readThreadIDs(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tids []int

	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		tid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("parse tid %q: %w", line, err)
		}

		tids = append(tids, tid)
	}

	return tids, nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
