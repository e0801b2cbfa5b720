package cgroup

import "sync"

// PinBarrier rendezvous-es n runtime worker threads so that pinning happens
// exactly once, after every thread has registered itself in main.scope and
// before any thread resumes running submitted work. This mirrors the
// two-phase "all arrive -> one pins -> all depart" barrier the original
// implementation builds from a single reusable sync.Barrier.
type PinBarrier struct {
	arrive sync.WaitGroup
	depart sync.WaitGroup
	once   sync.Once
	pinFn  func() error
	pinErr error
}

// NewPinBarrier creates a barrier for n threads. pin is invoked exactly
// once, after all n threads have called Wait, by whichever caller is first
// to pass the arrival rendezvous.
func NewPinBarrier(n int, pin func() error) *PinBarrier {
	b := &PinBarrier{pinFn: pin}
	b.arrive.Add(n)
	b.depart.Add(n)

	return b
}

// Wait blocks the calling thread until all n threads have called Wait, runs
// the pin function exactly once across all callers, then releases every
// caller. It returns the pin function's error (the same value to every
// caller) so startup can treat a pinning failure as fatal everywhere.
func (b *PinBarrier) Wait() error {
	b.arrive.Done()
	b.arrive.Wait()

	b.once.Do(func() {
		b.pinErr = b.pinFn()
	})

	b.depart.Done()
	b.depart.Wait()

	return b.pinErr
}
