// internal/models/stats.go
package models

import "time"

// TemplateStat accumulates the messages matched to one template.
type TemplateStat struct {
	MessageCount int64 `json:"messageCount"`
	TotalWeight  int64 `json:"totalWeight"`
}

// RunStats is the state of one run, created at start and persisted once at the end.
type RunStats struct {
	Templates              map[int64]*TemplateStat `json:"templates"`
	TotalMatchedMessages   int64                   `json:"totalMatchedMessages"`
	TotalUnmatchedMessages int64                   `json:"totalUnmatchedMessages"`
}

func NewRunStats() *RunStats {
	return &RunStats{Templates: make(map[int64]*TemplateStat)}
}

// Total is the number of messages routed so far.
func (s *RunStats) Total() int64 {
	return s.TotalMatchedMessages + s.TotalUnmatchedMessages
}

// StatRow is one line of the stats report.
type StatRow struct {
	TemplateID   int64 `json:"templateId"`
	MessageCount int64 `json:"messageCount"`
	TotalWeight  int64 `json:"totalWeight"`
}

// Run outcome.
type RunStatus string

const (
	RunStatusDone   RunStatus = "done"
	RunStatusFailed RunStatus = "failed"
)

// RunSummary describes a finished run for publishers and notifiers.
type RunSummary struct {
	RunID             string    `json:"runId"`
	Status            RunStatus `json:"status"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	BatchesProcessed  int64     `json:"batchesProcessed"`
	Capped            bool      `json:"capped"`
	MatchedMessages   int64     `json:"matchedMessages"`
	UnmatchedMessages int64     `json:"unmatchedMessages"`
	Templates         []StatRow `json:"templates"`
	ErrorCode         string    `json:"errorCode,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Elapsed is the wall-clock duration of the run.
func (s *RunSummary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
