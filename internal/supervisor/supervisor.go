// Package supervisor wires the exchange, composer, and worker pool into
// one pipeline and coordinates their startup and shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Candlest/seele/internal/cgroup"
	"github.com/Candlest/seele/internal/composer"
	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/eviction"
	"github.com/Candlest/seele/internal/exchange"
	"github.com/Candlest/seele/internal/image"
	"github.com/Candlest/seele/internal/observability"
	"github.com/Candlest/seele/internal/runner"
	"github.com/Candlest/seele/internal/worker"
	"github.com/Candlest/seele/internal/worker/action"
)

// shutdownGrace bounds how long subsystems get to abandon in-flight work
// during a coordinated shutdown.
const shutdownGrace = 10 * time.Second

// Supervisor owns every long-lived subsystem and propagates one shutdown
// signal to all of them.
type Supervisor struct {
	cfg *config.Config

	topology *cgroup.Topology

	exchangeSrv *exchange.Server

	submissionEvictor *eviction.Manager
	imageEvictor      *eviction.Manager

	composerQueue chan exchange.ComposerQueueItem
	workerQueue   worker.Queue
	workerPool    *worker.Pool
	dispatcher    *action.Dispatcher

	metrics *observability.JudgeMetrics
}

// New builds every subsystem from cfg without starting any of them.
func New(cfg *config.Config, metrics *observability.JudgeMetrics) (*Supervisor, error) {
	for _, dir := range []string{cfg.Paths.Images, cfg.Paths.Submissions, cfg.Paths.Evicted, cfg.Paths.Temp, cfg.Paths.States} {
		if err := os.MkdirAll(filepath.Join(cfg.Paths.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	statesDir := filepath.Join(cfg.Paths.Root, cfg.Paths.States)
	evictedDir := filepath.Join(cfg.Paths.Root, cfg.Paths.Evicted)

	submissionEvictor, err := eviction.NewManager(
		"submission_eviction",
		cfg.Eviction.Submissions.Interval, cfg.Eviction.Submissions.TTL, cfg.Eviction.Submissions.Capacity,
		statesDir, evictedDir,
	)
	if err != nil {
		return nil, fmt.Errorf("build submission eviction manager: %w", err)
	}

	imageEvictor, err := eviction.NewManager(
		"image_eviction",
		cfg.Eviction.Images.Interval, cfg.Eviction.Images.TTL, cfg.Eviction.Images.Capacity,
		statesDir, evictedDir,
	)
	if err != nil {
		return nil, fmt.Errorf("build image eviction manager: %w", err)
	}

	imagesRoot := filepath.Join(cfg.Paths.Root, cfg.Paths.Images)
	imageCache := image.NewCache(imagesRoot, cfg.ExternalTools.ImageCopyBin, cfg.ExternalTools.ImageUnpackBin)
	invoker := runner.NewInvoker(cfg.ExternalTools.RunnerBin)
	dispatcher := action.NewDispatcher(imageCache, invoker, cfg.WorkMode, cfg.Identity)

	workerQueue := worker.NewQueue(cfg.Queues.WorkerDepth)
	workerPool := worker.NewPool(workerQueue, cfg.Threads.Worker, dispatcher, submissionEvictor, imageEvictor, metrics)

	composerQueue := make(chan exchange.ComposerQueueItem, cfg.Queues.ComposerDepth)

	exchangeSrv := exchange.NewServer(
		fmt.Sprintf("%s:%d", cfg.Exchange.Address, cfg.Exchange.Port),
		cfg.Exchange.MaxBodySizeBytes,
		composerQueue,
	)

	return &Supervisor{
		cfg:               cfg,
		exchangeSrv:       exchangeSrv,
		submissionEvictor: submissionEvictor,
		imageEvictor:      imageEvictor,
		composerQueue:     composerQueue,
		workerQueue:       workerQueue,
		workerPool:        workerPool,
		dispatcher:        dispatcher,
		metrics:           metrics,
	}, nil
}

// InitCgroups creates the cgroup topology, hands the dispatcher the
// container.slice path so every runner-config document carries a real
// cgroup parent, and wires the worker pool's pin barrier. The barrier
// rendezvous itself happens later, inside the worker pool's own goroutines
// once Run starts them, so that the threads pinned to distinct CPUs are the
// same threads that go on to dispatch ActionTasks. InitCgroups must still
// succeed before Run is called; any failure here is fatal per the startup
// error taxonomy.
func (s *Supervisor) InitCgroups(cgroupRoot string) error {
	if err := cgroup.CheckUnified(cgroupRoot); err != nil {
		return err
	}

	topology, err := cgroup.Initialize(cgroupRoot)
	if err != nil {
		return fmt.Errorf("initialize cgroup topology: %w", err)
	}

	s.topology = topology
	s.dispatcher.ContainerSlicePath = topology.ContainerSlicePath
	s.workerPool.SetBarrier(cgroup.NewPinBarrier(s.cfg.Threads.Worker, topology.PinThreads))

	return nil
}

// Run starts every subsystem and blocks until ctx is canceled, at which
// point it drives a coordinated shutdown within the grace period.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.submissionEvictor.RunLoop(groupCtx)
		return nil
	})

	group.Go(func() error {
		s.imageEvictor.RunLoop(groupCtx)
		return nil
	})

	group.Go(func() error {
		return s.workerPool.Run(groupCtx)
	})

	group.Go(func() error {
		for item := range s.composerQueue {
			go composer.Run(groupCtx, item.ConfigYAML, s.workerQueue, item.StatusTx, s.submissionRootFor(), s.metrics)
		}

		return nil
	})

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- s.exchangeSrv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		cancel()

		return err
	case <-groupCtx.Done():
		// A subsystem failed on its own, most commonly the worker pool's pin
		// barrier. groupCtx canceling already stops every other goroutine in
		// the group, including ones reading the outer ctx.
	case <-ctx.Done():
	}

	s.shutdown()

	return group.Wait()
}

func (s *Supervisor) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := s.exchangeSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("exchange shutdown error", "error", err)
	}

	close(s.composerQueue)

	if err := s.submissionEvictor.SaveStates(); err != nil {
		slog.Warn("failed to persist submission eviction state", "error", err)
	}

	if err := s.imageEvictor.SaveStates(); err != nil {
		slog.Warn("failed to persist image eviction state", "error", err)
	}
}

// submissionRootFor allocates a fresh working directory for one submission
// under the configured submissions root.
func (s *Supervisor) submissionRootFor() string {
	root := filepath.Join(s.cfg.Paths.Root, s.cfg.Paths.Submissions, newSubmissionID())

	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Error("failed to create submission root", "path", root, "error", err)
	}

	return root
}

// SubmissionEvictor exposes the submission eviction manager for
// introspection (e.g. the `eviction status` CLI command).
func (s *Supervisor) SubmissionEvictor() *eviction.Manager {
	return s.submissionEvictor
}

// ImageEvictor exposes the image eviction manager for introspection.
func (s *Supervisor) ImageEvictor() *eviction.Manager {
	return s.imageEvictor
}

func newSubmissionID() string {
	return uuid.NewString()
}
