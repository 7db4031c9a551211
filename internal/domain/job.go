package domain

import (
	"fmt"
	"time"
)

// JobMode selects how much work the nightly lifecycle job does.
type JobMode string

const (
	// JobIncremental refreshes only visitors/prospects needing it.
	JobIncremental JobMode = "incremental"
	// JobFull recomputes everyone.
	JobFull JobMode = "full"
	// JobClient is a full recompute scoped to one client.
	JobClient JobMode = "client"
)

// ParseJobMode converts a wire string into a JobMode.
func ParseJobMode(s string) (JobMode, error) {
	switch JobMode(s) {
	case JobIncremental, JobFull, JobClient:
		return JobMode(s), nil
	}
	return "", fmt.Errorf("unknown job mode %q", s)
}

// MatchStats counts stage 1 (campaign matching) outcomes.
type MatchStats struct {
	Matched int `json:"matched"`
	Skipped int `json:"skipped"`
}

// ScoreStats counts stage 2 (score calculation) outcomes.
type ScoreStats struct {
	Scored int `json:"scored"`
	Errors int `json:"errors"`
}

// ProspectStats counts stage 3 (prospect create/update) outcomes.
type ProspectStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// RoomStats counts stage 4 (room assignment) outcomes.
type RoomStats struct {
	Transitions int `json:"transitions"`
	Errors      int `json:"errors"`
}

// RunReport aggregates one lifecycle-job invocation: per-stage statistics,
// wall-clock duration, and an error indicator when a stage aborted the run.
// Partial stats from completed stages survive a mid-run failure.
type RunReport struct {
	ID       string  `json:"id"`
	Mode     JobMode `json:"mode"`
	ClientID *int64  `json:"client_id,omitempty"`

	Match     MatchStats    `json:"match"`
	Scores    ScoreStats    `json:"scores"`
	Prospects ProspectStats `json:"prospects"`
	Rooms     RoomStats     `json:"rooms"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Failed reports whether a stage aborted the run.
func (r *RunReport) Failed() bool {
	return r.Error != ""
}
