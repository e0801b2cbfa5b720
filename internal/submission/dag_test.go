package submission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Candlest/seele/internal/submission"
)

func doc(steps map[string]submission.StepSpec) submission.Document {
	return submission.Document{Steps: steps}
}

func TestBuildGraph_RejectsUndefinedNeed(t *testing.T) {
	t.Parallel()

	_, err := submission.BuildGraph(doc(map[string]submission.StepSpec{
		"run": {Action: submission.ActionNoop, Needs: []string{"compile"}},
	}))

	require.ErrorIs(t, err, submission.ErrUndefinedStep)
}

func TestBuildGraph_RejectsCycle(t *testing.T) {
	t.Parallel()

	_, err := submission.BuildGraph(doc(map[string]submission.StepSpec{
		"a": {Action: submission.ActionNoop, Needs: []string{"b"}},
		"b": {Action: submission.ActionNoop, Needs: []string{"a"}},
	}))

	require.ErrorIs(t, err, submission.ErrCycle)
}

func TestBuildGraph_RejectsInvalidAction(t *testing.T) {
	t.Parallel()

	_, err := submission.BuildGraph(doc(map[string]submission.StepSpec{
		"weird": {Action: "not_a_real_action"},
	}))

	require.ErrorIs(t, err, submission.ErrInvalidAction)
}

func TestGraph_Ready(t *testing.T) {
	t.Parallel()

	g, err := submission.BuildGraph(doc(map[string]submission.StepSpec{
		"compile": {Action: submission.ActionRunJudgeCompile},
		"run":     {Action: submission.ActionRunJudgeRun, Needs: []string{"compile"}},
	}))
	require.NoError(t, err)

	status := map[string]submission.StepStatus{
		"compile": submission.StatusPending,
		"run":     submission.StatusPending,
	}

	assert.Equal(t, []string{"compile"}, g.Ready(status))

	status["compile"] = submission.StatusSuccess
	assert.Equal(t, []string{"run"}, g.Ready(status))
}

func TestGraph_Dependents_TransitiveClosure(t *testing.T) {
	t.Parallel()

	g, err := submission.BuildGraph(doc(map[string]submission.StepSpec{
		"compile": {Action: submission.ActionRunJudgeCompile},
		"run":     {Action: submission.ActionRunJudgeRun, Needs: []string{"compile"}},
		"compare": {Action: submission.ActionNoop, Needs: []string{"run"}},
		"unrelated": {Action: submission.ActionNoop},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"compare", "run"}, g.Dependents("compile"))
}
