package control

import (
	"time"

	"musictimer/internal/storage"
	"musictimer/internal/task"
)

// TaskParams is the input for task.add.
type TaskParams struct {
	Task task.Record `json:"task"`
}

// UpdateParams is the input for task.update.
type UpdateParams struct {
	Index int         `json:"index"`
	ID    string      `json:"id,omitempty"`
	Task  task.Record `json:"task"`
}

// IndexParam is a common input with just a task index.
type IndexParam struct {
	Index int `json:"index"`
}

// IndexResult is the response for task.add and task.update.
type IndexResult struct {
	Index int `json:"index"`
}

// TaskItem is a single entry in the task.list response.
type TaskItem struct {
	Index     int         `json:"index"`
	ID        string      `json:"id"`
	Task      task.Record `json:"task"`
	Display   string      `json:"display"`
	Running   bool        `json:"running"`
	Fading    bool        `json:"fading,omitempty"`
	PID       int         `json:"pid,omitempty"`
	NextStart *time.Time  `json:"next_start,omitempty"`
}

// ListResult is the response for task.list.
type ListResult struct {
	Tasks []*TaskItem `json:"tasks"`
}

// StatusResult is the response for system.status.
type StatusResult struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	LastTick  time.Time `json:"last_tick"`
	Timezone  string    `json:"timezone"`
	Tick      string    `json:"tick"`
	FadeIn    string    `json:"fade_in"`
	FadeOut   string    `json:"fade_out"`
	Tasks     int       `json:"tasks"`
	Running   int       `json:"running"`
}

// HistoryParams is the input for history.list.
type HistoryParams struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResult is the response for history.list.
type HistoryResult struct {
	Entries []storage.HistoryEntry `json:"entries"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}
