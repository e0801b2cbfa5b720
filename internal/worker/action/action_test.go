package action_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/submission"
	"github.com/Candlest/seele/internal/worker/action"
)

func TestDispatch_Noop(t *testing.T) {
	t.Parallel()

	d := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})

	report := d.Dispatch(context.Background(), submission.ActionTask{Action: submission.ActionNoop})

	assert.Equal(t, submission.OutcomeSuccess, report.Outcome)
}

func TestDispatch_AddFileWritesUnderSubmissionRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})

	report := d.Dispatch(context.Background(), submission.ActionTask{
		Action:         submission.ActionAddFile,
		SubmissionRoot: root,
		Parameters: map[string]any{
			"path":    "nested/out.txt",
			"content": "payload",
		},
	})

	require.Equal(t, submission.OutcomeSuccess, report.Outcome)

	contents, err := os.ReadFile(filepath.Join(root, "nested", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(contents))
}

func TestDispatch_AddFileMissingPathFails(t *testing.T) {
	t.Parallel()

	d := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})

	report := d.Dispatch(context.Background(), submission.ActionTask{
		Action:         submission.ActionAddFile,
		SubmissionRoot: t.TempDir(),
		Parameters:     map[string]any{"content": "payload"},
	})

	assert.Equal(t, submission.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.ErrorText, "path")
}

func TestDispatch_AddFileMissingContentFails(t *testing.T) {
	t.Parallel()

	d := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})

	report := d.Dispatch(context.Background(), submission.ActionTask{
		Action:         submission.ActionAddFile,
		SubmissionRoot: t.TempDir(),
		Parameters:     map[string]any{"path": "out.txt"},
	})

	assert.Equal(t, submission.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.ErrorText, "content")
}

func TestDispatch_InvalidActionFails(t *testing.T) {
	t.Parallel()

	d := action.NewDispatcher(nil, nil, config.WorkModeRootlessContainerized, config.IdentityConfig{})

	report := d.Dispatch(context.Background(), submission.ActionTask{Action: "unknown_action"})

	assert.Equal(t, submission.OutcomeFailed, report.Outcome)
	assert.Contains(t, report.ErrorText, "unknown_action")
}

func TestErrStructuredFailure_ErrorReturnsMessage(t *testing.T) {
	t.Parallel()

	err := &action.ErrStructuredFailure{Message: "wrong answer on test 3", Extension: map[string]any{"status": "WA"}}

	assert.Equal(t, "wrong answer on test 3", err.Error())
}
