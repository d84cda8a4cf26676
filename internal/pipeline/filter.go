package pipeline

import (
	"strings"

	"taskpipe/internal/engine"
	"taskpipe/internal/record"
	"taskpipe/internal/task"
)

// outcomeMarker must appear in a label for it to be kept.
const outcomeMarker = "Result"

// FilterOutcomes keeps successful outcomes carrying outcomeMarker, in
// submission order.
func FilterOutcomes(items []engine.Item) []task.Outcome {
	out := make([]task.Outcome, 0, len(items))
	for _, it := range items {
		if !it.Result.IsSuccess() {
			continue
		}
		if !strings.Contains(string(it.Result.Value()), outcomeMarker) {
			continue
		}
		out = append(out, it.Result.Value())
	}
	return out
}

func Normalize(o task.Outcome) string {
	return strings.ToUpper(string(o))
}

// BuildRecord is pure: the same items and metadata always give an equal
// record. Failed and cancelled items are dropped from the processed items
// but turn the aggregate status to failed.
func BuildRecord(items []engine.Item, metadata map[string]string) record.ExecutionRecord {
	kept := FilterOutcomes(items)
	processed := make([]string, 0, len(kept))
	for _, o := range kept {
		processed = append(processed, Normalize(o))
	}

	status := record.StatusCompleted
	if c := engine.Count(items); c.Failed+c.Cancelled > 0 {
		status = record.StatusFailed
	}
	return record.New(metadata, processed, status)
}
