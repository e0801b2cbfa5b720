package report_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Candlest/seele/internal/composer/report"
)

func TestDefaultOJStatus_BothSuccessIsAccepted(t *testing.T) {
	t.Parallel()

	status, err := report.DefaultOJStatus(
		map[string]any{"status": "success"},
		map[string]any{"status": "success"},
	)
	require.NoError(t, err)
	assert.Equal(t, "accepted", status)
}

func TestDefaultOJStatus_RunFailureIsRuntimeError(t *testing.T) {
	t.Parallel()

	status, err := report.DefaultOJStatus(
		map[string]any{"status": "failed"},
		map[string]any{"status": "success"},
	)
	require.NoError(t, err)
	assert.Equal(t, "runtime_error", status)
}

func TestDefaultOJStatus_CompareFailureIsWrongAnswer(t *testing.T) {
	t.Parallel()

	status, err := report.DefaultOJStatus(
		map[string]any{"status": "success"},
		map[string]any{"status": "failed"},
	)
	require.NoError(t, err)
	assert.Equal(t, "wrong_answer", status)
}

func TestDefaultOJStatus_NonObjectFails(t *testing.T) {
	t.Parallel()

	_, err := report.DefaultOJStatus("not an object", map[string]any{"status": "success"})
	assert.Error(t, err)
}
