// Package submission defines the document, step, and signal types that flow
// between the exchange, composer, and worker pool.
package submission

import (
	"errors"
	"time"
)

// StepStatus is the lifecycle state of one step in a submission's DAG.
type StepStatus string

// Step lifecycle states. A step becomes Running only once every step it
// needs has reached Success; if any prerequisite Fails, every transitive
// dependent becomes Skipped.
const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// ActionKind names the kind of work a step's ActionTask performs.
type ActionKind string

// Supported action kinds.
const (
	ActionNoop            ActionKind = "noop"
	ActionAddFile         ActionKind = "add_file"
	ActionRunContainer    ActionKind = "run_container"
	ActionRunJudgeCompile ActionKind = "run_judge_compile"
	ActionRunJudgeRun     ActionKind = "run_judge_run"
	// ActionCustomReporter steps run on a blocking goroutine inside the
	// composer itself rather than on the worker queue: the composer hands
	// the step's script to the embedded JS evaluator and turns its return
	// value directly into this step's ActionReport.
	ActionCustomReporter ActionKind = "custom_reporter"
)

// StepSpec is one node of a submission's step document: an action kind,
// its kind-specific parameters, and the names of steps it depends on.
type StepSpec struct {
	Action     ActionKind     `yaml:"action"`
	Parameters map[string]any `yaml:"parameters"`
	Needs      []string       `yaml:"needs"`
}

// Document is the parsed submission YAML: a mapping of step name to step
// spec. The document's step order is not kept; Graph.StepNames sorts names.
type Document struct {
	Steps map[string]StepSpec `yaml:"steps"`
}

// Submission is one judging job: an id, arrival time, and parsed document.
type Submission struct {
	ID          string
	SubmittedAt time.Time
	Doc         Document
	Root        string
}

// ActionReport is a tagged union describing the outcome of one ActionTask.
// Exactly one of Success/Failed fields is meaningful, selected by Outcome.
type ActionReport struct {
	Outcome   ReportOutcome
	RunAt     time.Time
	ElapsedMS int64
	Extension map[string]any
	ErrorText string
}

// ReportOutcome selects which half of an ActionReport is populated.
type ReportOutcome string

// Possible ActionReport outcomes.
const (
	OutcomeSuccess ReportOutcome = "success"
	OutcomeFailed  ReportOutcome = "failed"
)

// ActionTask is the concrete execution request handed from the composer to
// a worker. ReportSink is a single-shot channel: exactly one ActionReport
// is ever sent on it, by the worker that executes this task.
type ActionTask struct {
	Step             string
	Action           ActionKind
	Parameters       map[string]any
	SubmissionRoot   string
	ReportSink       chan<- ActionReport
}

// SignalKind selects which field of a SubmissionSignal is populated.
type SignalKind string

// Possible SubmissionSignal kinds.
const (
	SignalProgress  SignalKind = "progress"
	SignalCompleted SignalKind = "completed"
)

// SubmissionSignal is emitted by the composer into the per-submission ring
// channel. Completed is always delivered regardless of the progress flag;
// Progress signals may be dropped by the exchange when not requested.
type SubmissionSignal struct {
	Kind     SignalKind
	Step     string
	Status   StepStatus
	Final    *FinalReport
}

// FinalReport is the Completed payload: either a structural error (the
// document itself was invalid, so no steps ran) or the per-step reports.
type FinalReport struct {
	Error string                   `yaml:"error,omitempty"`
	Steps map[string]ActionReport  `yaml:"steps,omitempty"`
}

// Structural validation errors, returned before any step is scheduled.
var (
	ErrMalformedDocument = errors.New("submission document is malformed")
	ErrUndefinedStep     = errors.New("step needs an undefined step")
	ErrCycle             = errors.New("step graph contains a cycle")
	ErrInvalidAction     = errors.New("step has an invalid action kind")
)

// ValidAction reports whether kind is one of the supported action kinds.
func ValidAction(kind ActionKind) bool {
	switch kind {
	case ActionNoop, ActionAddFile, ActionRunContainer, ActionRunJudgeCompile, ActionRunJudgeRun, ActionCustomReporter:
		return true
	default:
		return false
	}
}
