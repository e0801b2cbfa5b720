package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/submission"
	"github.com/Candlest/seele/internal/worker"
	"github.com/Candlest/seele/internal/worker/action"
)

func TestPool_ExecutesNoopTasks(t *testing.T) {
	t.Parallel()

	queue := worker.NewQueue(4)
	dispatcher := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})
	pool := worker.NewPool(queue, 2, dispatcher, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		pool.Run(ctx)
		close(done)
	}()

	sink := make(chan submission.ActionReport, 1)
	queue <- submission.ActionTask{
		Step:       "noop-step",
		Action:     submission.ActionNoop,
		ReportSink: sink,
	}

	select {
	case report := <-sink:
		assert.Equal(t, submission.OutcomeSuccess, report.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for noop task to complete")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not shut down after context cancellation")
	}
}

func TestPool_ExecutesAddFileTasks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	queue := worker.NewQueue(4)
	dispatcher := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})
	pool := worker.NewPool(queue, 1, dispatcher, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pool.Run(ctx)

	sink := make(chan submission.ActionReport, 1)
	queue <- submission.ActionTask{
		Step:           "write",
		Action:         submission.ActionAddFile,
		SubmissionRoot: root,
		Parameters: map[string]any{
			"path":    "nested/output.txt",
			"content": "hello",
		},
		ReportSink: sink,
	}

	report := <-sink
	require.Equal(t, submission.OutcomeSuccess, report.Outcome)
}
