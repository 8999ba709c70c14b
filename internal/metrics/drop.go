package metrics

import "tickflow/logger"

// DropMetric identifies the metric emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricRawFrame records raw exchange frames dropped before
	// normalization.
	DropMetricRawFrame DropMetric = "raw_frames_dropped"
	// DropMetricNormBatch records normalized tick batches dropped before
	// downstream consumers read them.
	DropMetricNormBatch DropMetric = "norm_batches_dropped"
)

// EmitDropMetric emits one dropped-message metric. Callers invoke it once
// per dropped message; optional metadata enables per-exchange aggregation.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if stage != "" {
		fields["stage"] = stage
	}
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
