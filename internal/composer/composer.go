// Package composer runs one submission's step DAG to completion: it
// schedules ready steps onto the worker pool, propagates failures as
// transitive skips, and emits a SubmissionSignal stream describing
// progress.
package composer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Candlest/seele/internal/composer/report"
	"github.com/Candlest/seele/internal/observability"
	"github.com/Candlest/seele/internal/ring"
	"github.com/Candlest/seele/internal/submission"
)

// WorkerQueue is the channel the composer submits ActionTasks to. It is a
// plain send-only channel shared by every submission; the worker pool on
// the other end bounds actual parallelism.
type WorkerQueue chan<- submission.ActionTask

// Run parses configYAML, validates it, and executes its step DAG,
// submitting ready steps to queue and emitting signals into statusTx.
// It always emits exactly one Completed signal before returning, whether
// or not the document was valid.
func Run(ctx context.Context, configYAML []byte, queue WorkerQueue, statusTx *ring.Channel[submission.SubmissionSignal], submissionRoot string, metrics *observability.JudgeMetrics) {
	defer statusTx.Close()

	start := time.Now()
	defer func() {
		if metrics != nil {
			metrics.RecordSubmission(ctx, time.Since(start).Seconds())
		}
	}()

	var doc submission.Document

	if err := yaml.Unmarshal(configYAML, &doc); err != nil {
		emitCompleted(statusTx, &submission.FinalReport{
			Error: fmt.Sprintf("%v: %v", submission.ErrMalformedDocument, err),
		})

		return
	}

	graph, err := submission.BuildGraph(doc)
	if err != nil {
		emitCompleted(statusTx, &submission.FinalReport{Error: err.Error()})

		return
	}

	run := &run{
		doc:            doc,
		graph:          graph,
		queue:          queue,
		statusTx:       statusTx,
		submissionRoot: submissionRoot,
		status:         make(map[string]submission.StepStatus, len(doc.Steps)),
		reports:        make(map[string]submission.ActionReport, len(doc.Steps)),
		results:        make(chan stepResult, len(doc.Steps)),
		outstanding:    make(map[string]struct{}),
		metrics:        metrics,
	}

	for _, name := range graph.StepNames() {
		run.status[name] = submission.StatusPending
	}

	run.execute(ctx)

	emitCompleted(statusTx, &submission.FinalReport{Steps: run.reports})
}

// stepResult pairs a step name with the ActionReport the worker returned
// for it; runs fan every outstanding step's one-shot sink into this single
// channel so execute can await "any" of them with a plain channel receive.
type stepResult struct {
	name   string
	report submission.ActionReport
}

type run struct {
	doc            submission.Document
	graph          *submission.Graph
	queue          WorkerQueue
	statusTx       *ring.Channel[submission.SubmissionSignal]
	submissionRoot string

	status      map[string]submission.StepStatus
	reports     map[string]submission.ActionReport
	results     chan stepResult
	outstanding map[string]struct{}

	metrics *observability.JudgeMetrics
}

func (r *run) execute(ctx context.Context) {
	r.dispatchReady(ctx)

	for len(r.outstanding) > 0 {
		select {
		case res := <-r.results:
			delete(r.outstanding, res.name)
			r.reports[res.name] = res.report

			if res.report.Outcome == submission.OutcomeSuccess {
				r.status[res.name] = submission.StatusSuccess
				r.emit(submission.StatusSuccess, res.name)
			} else {
				r.status[res.name] = submission.StatusFailed
				r.emit(submission.StatusFailed, res.name)
				r.skipDependents(res.name)
			}

			if r.metrics != nil {
				r.metrics.RecordStep(ctx, string(r.status[res.name]))
			}

			r.dispatchReady(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *run) dispatchReady(ctx context.Context) {
	for _, name := range r.graph.Ready(r.status) {
		r.status[name] = submission.StatusRunning
		r.emit(submission.StatusRunning, name)
		r.outstanding[name] = struct{}{}

		if r.doc.Steps[name].Action == submission.ActionCustomReporter {
			go r.runReporterStep(ctx, name)
			continue
		}

		sink := make(chan submission.ActionReport, 1)

		task := submission.ActionTask{
			Step:           name,
			Action:         r.doc.Steps[name].Action,
			Parameters:     r.doc.Steps[name].Parameters,
			SubmissionRoot: r.submissionRoot,
			ReportSink:     sink,
		}

		go r.forwardResult(name, sink)

		select {
		case r.queue <- task:
		case <-ctx.Done():
			return
		}
	}
}

// runReporterStep evaluates a custom_reporter step's script on its own
// blocking goroutine and feeds the resulting ActionReport into the same
// results channel every worker-backed step uses, so execute can treat both
// uniformly.
func (r *run) runReporterStep(ctx context.Context, name string) {
	start := time.Now()

	rep := r.evaluateReporter(name)
	rep.RunAt = start
	rep.ElapsedMS = time.Since(start).Milliseconds()

	select {
	case r.results <- stepResult{name: name, report: rep}:
	case <-ctx.Done():
	}
}

func (r *run) evaluateReporter(name string) submission.ActionReport {
	script, _ := r.doc.Steps[name].Parameters["script"].(string)
	if script == "" {
		return reporterFailed(errors.New("custom_reporter: missing \"script\" parameter"))
	}

	steps := make(map[string]any, len(r.reports))
	for stepName, stepReport := range r.reports {
		steps[stepName] = reportToContext(stepReport)
	}

	reportCtx := report.Context{ID: filepath.Base(r.submissionRoot), Steps: steps}

	result, err := report.Evaluate(script, reportCtx, report.DefaultOJStatus)
	if err != nil {
		return reporterFailed(fmt.Errorf("custom_reporter: %w", err))
	}

	return submission.ActionReport{Outcome: submission.OutcomeSuccess, Extension: result}
}

// reportToContext converts a step's ActionReport into the generic shape
// exposed to reporter scripts under DATA.steps.<name>.
func reportToContext(rep submission.ActionReport) map[string]any {
	return map[string]any{
		"status":     string(rep.Outcome),
		"run_at":     rep.RunAt,
		"elapsed_ms": rep.ElapsedMS,
		"extension":  rep.Extension,
		"error":      rep.ErrorText,
	}
}

func reporterFailed(err error) submission.ActionReport {
	return submission.ActionReport{Outcome: submission.OutcomeFailed, ErrorText: err.Error()}
}

// forwardResult blocks on the task's one-shot sink and relays its report
// into the run's shared results channel, tagged with the step name.
func (r *run) forwardResult(name string, sink <-chan submission.ActionReport) {
	report := <-sink
	r.results <- stepResult{name: name, report: report}
}

func (r *run) skipDependents(failed string) {
	for _, name := range r.graph.Dependents(failed) {
		switch r.status[name] {
		case submission.StatusSuccess, submission.StatusFailed, submission.StatusSkipped:
			continue
		}

		r.status[name] = submission.StatusSkipped
		r.emit(submission.StatusSkipped, name)
	}
}

func (r *run) emit(status submission.StepStatus, name string) {
	r.statusTx.Send(submission.SubmissionSignal{
		Kind:   submission.SignalProgress,
		Step:   name,
		Status: status,
	})
}

func emitCompleted(statusTx *ring.Channel[submission.SubmissionSignal], final *submission.FinalReport) {
	statusTx.Send(submission.SubmissionSignal{
		Kind:  submission.SignalCompleted,
		Final: final,
	})
}
