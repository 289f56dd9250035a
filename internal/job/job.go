package job

import "time"

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is the recorded outcome of one job execution.
type Run struct {
	ID      int64  `json:"id"`
	Job     string `json:"job"`
	Status  Status `json:"status"`
	CatchUp bool   `json:"catchUp"`
	// Sources maps each entity to the strategy that answered it, or "failed".
	Sources    map[string]string `json:"sources"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
