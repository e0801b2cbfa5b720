// Package action dispatches one ActionTask to its concrete implementation:
// writing a file, running a no-op, or building a runner-config document
// and invoking the external container runner.
package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/image"
	"github.com/Candlest/seele/internal/runner"
	"github.com/Candlest/seele/internal/submission"
)

// ErrStructuredFailure is the sentinel wrapped around a judge-specific
// verdict (wrong answer, TLE, RE, ...) when it must travel through an
// error-return path instead of a plain success value. Dispatch unwraps it
// back into a Failed ActionReport carrying the same extension.
type ErrStructuredFailure struct {
	Extension map[string]any
	Message   string
}

func (e *ErrStructuredFailure) Error() string {
	return e.Message
}

// Dispatcher holds the collaborators needed to execute RunContainer-family
// actions: the image cache, the external runner invoker, and the work-mode
// and cgroup context BuildConfig needs to assemble a real runner-config
// document. ContainerSlicePath is set once cgroup topology is initialized,
// which happens after the Dispatcher is constructed, so it's populated
// in place by the supervisor rather than passed to NewDispatcher.
type Dispatcher struct {
	Images   *image.Cache
	Runner   *runner.Invoker
	WorkMode config.WorkMode
	Identity config.IdentityConfig

	ContainerSlicePath string
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(images *image.Cache, rn *runner.Invoker, workMode config.WorkMode, identity config.IdentityConfig) *Dispatcher {
	return &Dispatcher{Images: images, Runner: rn, WorkMode: workMode, Identity: identity}
}

// Dispatch executes task and returns its report. It never panics or
// returns an error itself: every failure mode is captured as a Failed
// ActionReport.
func (d *Dispatcher) Dispatch(ctx context.Context, task submission.ActionTask) submission.ActionReport {
	switch task.Action {
	case submission.ActionNoop:
		return d.runNoop()
	case submission.ActionAddFile:
		return d.runAddFile(task)
	case submission.ActionRunContainer, submission.ActionRunJudgeCompile, submission.ActionRunJudgeRun:
		return d.runContainer(ctx, task)
	default:
		return failed(fmt.Errorf("%w: %q", submission.ErrInvalidAction, task.Action))
	}
}

func (d *Dispatcher) runNoop() submission.ActionReport {
	return submission.ActionReport{Outcome: submission.OutcomeSuccess}
}

func (d *Dispatcher) runAddFile(task submission.ActionTask) submission.ActionReport {
	relPath, _ := task.Parameters["path"].(string)
	if relPath == "" {
		return failed(errors.New("add_file: missing \"path\" parameter"))
	}

	content, ok := task.Parameters["content"].(string)
	if !ok {
		return failed(errors.New("add_file: missing \"content\" parameter"))
	}

	absPath := filepath.Join(task.SubmissionRoot, relPath)

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return failed(fmt.Errorf("add_file: create parent directories: %w", err))
	}

	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return failed(fmt.Errorf("add_file: write file: %w", err))
	}

	return submission.ActionReport{Outcome: submission.OutcomeSuccess}
}

func (d *Dispatcher) runContainer(ctx context.Context, task submission.ActionTask) submission.ActionReport {
	cfg, imageUnpackedPath, err := runner.BuildConfig(ctx, d.Images, task, d.WorkMode, d.Identity, d.ContainerSlicePath)
	if err != nil {
		return failed(fmt.Errorf("assemble runner config: %w", err))
	}

	result, err := d.Runner.Invoke(ctx, cfg)
	if err != nil {
		var structured *ErrStructuredFailure
		if errors.As(err, &structured) {
			return submission.ActionReport{
				Outcome:   submission.OutcomeFailed,
				ErrorText: structured.Message,
				Extension: structured.Extension,
			}
		}

		return failed(fmt.Errorf("invoke runner: %w", err))
	}

	extension := result.Extension
	if extension == nil {
		extension = map[string]any{}
	}

	extension["_image_unpacked_path"] = imageUnpackedPath

	return submission.ActionReport{
		Outcome:   submission.OutcomeSuccess,
		Extension: extension,
	}
}

func failed(err error) submission.ActionReport {
	return submission.ActionReport{
		Outcome:   submission.OutcomeFailed,
		ErrorText: err.Error(),
		RunAt:     time.Now(),
	}
}
