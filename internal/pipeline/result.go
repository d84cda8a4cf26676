package pipeline

import (
	"time"

	"taskpipe/internal/record"
)

// Result wraps one run's record with its success flag and creation time.
type Result struct {
	Success    bool                   `json:"success"`
	CreatedAt  time.Time              `json:"created_at"`
	RunID      string                 `json:"run_id,omitempty"`
	Record     record.ExecutionRecord `json:"payload"`
	Processed  int                    `json:"processed"`
	Succeeded  int                    `json:"succeeded"`
	Failed     int                    `json:"failed"`
	DurationMS int64                  `json:"duration_ms"`
}

func (r Result) ExitCode() int {
	if r.Failed == 0 {
		return 0
	}
	if r.Succeeded > 0 {
		return 2
	}
	return 1
}

func finalizeResult(r *Result, startedAt time.Time) {
	r.DurationMS = time.Since(startedAt).Milliseconds()
}
