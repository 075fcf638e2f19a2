package entity

import "time"

const (
	TaskKindSync    = "sync"
	TaskKindPublish = "publish"
	TaskKindCopy    = "copy"

	TaskStateSuccess = "success"
	TaskStateFailed  = "failed"
)

// TaskRecord summarizes one finished unit of work.
type TaskRecord struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repo_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Finished   int       `json:"finished"`
	Errors     int       `json:"errors"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
