// Package eviction implements the TTL+capacity artifact eviction manager:
// one instance tracks submission working directories, another tracks
// unpacked container images. Both share the same sweep algorithm.
package eviction

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/Candlest/seele/pkg/persist"
)

// Manager is a concurrent, persistable TTL+capacity cache manager. It
// tracks paths under a single logical value (the heap plus its two index
// maps) behind one mutex, and supports pinning a path against eviction via
// VisitEnter/VisitLeave.
type Manager struct {
	name     string
	interval time.Duration
	ttl      time.Duration
	capacity int

	stateDir   string
	evictedDir string
	codec      *persist.GobCodec

	mu    sync.Mutex
	state *state

	now func() time.Time
}

// Option configures optional Manager behavior at construction time.
type Option func(*Manager)

// WithClock overrides the manager's time source. Used only by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager named name, sweeping every interval,
// evicting entries older than ttl, and the oldest entries while the tracked
// count exceeds capacity.
// stateDir/basename is where state is persisted across restarts; if a
// state file already exists there it is loaded immediately. evictedDir is
// the staging directory do_evict moves paths into before deleting them.
func NewManager(name string, interval, ttl time.Duration, capacity int, stateDir, evictedDir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		name:       name,
		interval:   interval,
		ttl:        ttl,
		capacity:   capacity,
		stateDir:   stateDir,
		evictedDir: evictedDir,
		codec:      persist.NewGobCodec(),
		state:      newState(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(evictedDir, 0o755); err != nil {
		return nil, fmt.Errorf("create evicted dir for %s: %w", name, err)
	}

	if persist.StateExists(stateDir, m.name, m.codec) {
		if err := m.loadStates(); err != nil {
			return nil, fmt.Errorf("load persisted state for %s: %w", name, err)
		}
	}

	return m, nil
}

// VisitOnce records that path was touched at the current instant. Previous
// entries for path are left in items/time_to_data; they are garbage
// collected during the next sweep via the data_to_time freshness check.
func (m *Manager) VisitOnce(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visitOnceLocked(path)
}

func (m *Manager) visitOnceLocked(path string) {
	t := m.now().UnixNano()

	heap.Push(&m.state.items, t)

	set, ok := m.state.timeToData[t]
	if !ok {
		set = make(map[string]struct{}, 1)
		m.state.timeToData[t] = set
	}

	set[path] = struct{}{}

	m.state.dataToTime[path] = t
}

// VisitEnter pins path against eviction, then records a visit. Pinning is
// released only by a matching VisitLeave.
func (m *Manager) VisitEnter(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.preserve[path] = struct{}{}
	m.visitOnceLocked(path)
}

// VisitLeave releases the pin placed by VisitEnter. Timestamps are not
// mutated.
func (m *Manager) VisitLeave(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state.preserve, path)
}

// RunLoop sweeps every interval until ctx is canceled, logging but not
// aborting on sweep errors.
func (m *Manager) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Clean(); err != nil {
				slog.Warn("eviction sweep failed", "manager", m.name, "error", err)
			}
		}
	}
}

// Clean runs one sweep: it computes the eviction plan under the lock, then
// evicts the resulting paths concurrently after releasing it.
func (m *Manager) Clean() error {
	evicted := m.planLocked()

	if len(evicted) == 0 {
		return nil
	}

	return m.evictAll(evicted)
}

func (m *Manager) planLocked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixNano()

	var evicted []string

	var preservedTimes []int64

	for m.state.items.Len() > 0 {
		t := m.state.items[0]

		withinTTL := time.Duration(now-t) < m.ttl
		notOverflow := m.state.items.Len() <= m.capacity

		if withinTTL && notOverflow {
			break
		}

		heap.Pop(&m.state.items)

		entries, ok := m.state.timeToData[t]
		if !ok {
			// Already consumed by an earlier duplicate-timestamp entry.
			continue
		}

		delete(m.state.timeToData, t)

		var preserved []string

		for path := range entries {
			if _, pinned := m.state.preserve[path]; pinned {
				preserved = append(preserved, path)

				continue
			}

			latest, ok := m.state.dataToTime[path]
			if !ok || latest <= t {
				evicted = append(evicted, path)
				delete(m.state.dataToTime, path)
			}
		}

		if len(preserved) > 0 {
			set := make(map[string]struct{}, len(preserved))
			for _, path := range preserved {
				set[path] = struct{}{}
			}

			m.state.timeToData[t] = set
			preservedTimes = append(preservedTimes, t)
		}
	}

	for _, t := range preservedTimes {
		heap.Push(&m.state.items, t)
	}

	return evicted
}

func (m *Manager) evictAll(paths []string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)

	for _, path := range paths {
		wg.Add(1)

		go func(path string) {
			defer wg.Done()

			if err := m.doEvict(path); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("evict %s: %w", path, err))
				mu.Unlock()
			}
		}(path)
	}

	wg.Wait()

	return errs.ErrorOrNil()
}

// doEvict moves path into the evicted staging directory under a random
// prefix (atomic on the same filesystem), then removes it. This rename-then
// -delete sequence ensures a partially-deleted artifact is never observed
// at its original location.
func (m *Manager) doEvict(path string) error {
	staged := filepath.Join(m.evictedDir, uuid.NewString()+"-"+filepath.Base(path))

	if err := os.Rename(path, staged); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("stage for eviction: %w", err)
	}

	info, err := os.Stat(staged)
	if err != nil {
		return fmt.Errorf("stat staged path: %w", err)
	}

	if info.IsDir() {
		err = os.RemoveAll(staged)
	} else {
		err = os.Remove(staged)
	}

	if err != nil {
		return fmt.Errorf("remove staged path: %w", err)
	}

	return nil
}

// SaveStates persists items/time_to_data/data_to_time (preserve is
// excluded) under m's state directory.
func (m *Manager) SaveStates() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return persist.SaveState(m.stateDir, m.name, m.codec, m.state.toPersisted())
}

func (m *Manager) loadStates() error {
	var persisted persistedState

	if err := persist.LoadState(m.stateDir, m.name, m.codec, &persisted); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := fromPersisted(&persisted)
	loaded.preserve = make(map[string]struct{})
	m.state = loaded

	return nil
}

// Len returns the current number of entries tracked (for tests and
// introspection; includes duplicate heap entries not yet swept).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.items.Len()
}

// TrackedPaths returns the set of paths reachable via data_to_time, i.e.
// the "live" tracked paths after garbage-collecting superseded entries.
func (m *Manager) TrackedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.state.dataToTime))
	for path := range m.state.dataToTime {
		paths = append(paths, path)
	}

	return paths
}
