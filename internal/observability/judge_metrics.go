package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricSubmissionDuration = "seele.submission.duration.seconds"
	metricStepsTotal         = "seele.steps.total"
	metricEvictionSweeps     = "seele.eviction.sweeps.total"
	metricEvictionEvicted    = "seele.eviction.evicted.total"
	metricWorkerQueueDepth   = "seele.worker.queue.depth"

	attrStepStatus = "status"
	attrManager    = "manager"
)

// JudgeMetrics holds the OTel instruments specific to submission processing:
// end-to-end submission latency, per-step outcome counts, eviction sweep
// activity, and worker queue occupancy.
type JudgeMetrics struct {
	submissionDuration metric.Float64Histogram
	stepsTotal         metric.Int64Counter
	evictionSweeps     metric.Int64Counter
	evictionEvicted    metric.Int64Counter
	workerQueueDepth   metric.Int64UpDownCounter
}

// NewJudgeMetrics creates judge metric instruments from the given meter.
func NewJudgeMetrics(mt metric.Meter) (*JudgeMetrics, error) {
	b := newMetricBuilder(mt)

	jm := &JudgeMetrics{
		submissionDuration: b.histogram(metricSubmissionDuration, "End-to-end submission processing duration", "s", durationBucketBoundaries...),
		stepsTotal:         b.counter(metricStepsTotal, "Total steps executed, by outcome", "{step}"),
		evictionSweeps:     b.counter(metricEvictionSweeps, "Total eviction sweeps run, by manager", "{sweep}"),
		evictionEvicted:    b.counter(metricEvictionEvicted, "Total entries evicted, by manager", "{entry}"),
		workerQueueDepth:   b.upDownCounter(metricWorkerQueueDepth, "Current depth of the worker action queue", "{task}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return jm, nil
}

// RecordSubmission records the total processing duration of one submission.
func (jm *JudgeMetrics) RecordSubmission(ctx context.Context, durationSeconds float64) {
	if jm == nil {
		return
	}

	jm.submissionDuration.Record(ctx, durationSeconds)
}

// RecordStep increments the step outcome counter for one of
// "success", "failed", or "skipped".
func (jm *JudgeMetrics) RecordStep(ctx context.Context, status string) {
	if jm == nil {
		return
	}

	jm.stepsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStepStatus, status)))
}

// RecordEvictionSweep records a completed sweep for the named manager
// ("submissions" or "images") and how many entries it evicted.
func (jm *JudgeMetrics) RecordEvictionSweep(ctx context.Context, manager string, evicted int) {
	if jm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrManager, manager))
	jm.evictionSweeps.Add(ctx, 1, attrs)

	if evicted > 0 {
		jm.evictionEvicted.Add(ctx, int64(evicted), attrs)
	}
}

// TrackWorkerQueue increments the worker queue depth gauge and returns a
// function to decrement it once the task is dequeued.
func (jm *JudgeMetrics) TrackWorkerQueue(ctx context.Context) func() {
	if jm == nil {
		return func() {}
	}

	jm.workerQueueDepth.Add(ctx, 1)

	return func() {
		jm.workerQueueDepth.Add(ctx, -1)
	}
}
