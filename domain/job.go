package domain

import "time"

// IndexJob asks for the index entry of one profile to be brought up to date.
// Force skips the fingerprint comparison.
type IndexJob struct {
	ProfileID int64 `json:"profile_id"`
	Force     bool  `json:"force"`
}

// JobState is the lifecycle state of an index job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobSkipped   JobState = "skipped"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobSkipped || s == JobFailed
}

// JobResult is what a finished job reports about the entry it computed.
type JobResult struct {
	ProfileID      int64       `json:"profile_id"`
	Fingerprint    Fingerprint `json:"fingerprint"`
	EncoderVersion string      `json:"encoder_version,omitempty"`
	Dimension      int         `json:"dimension,omitempty"`
	Message        string      `json:"message,omitempty"`
	ProcessedAt    time.Time   `json:"processed_at"`
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	ID          string     `json:"id"`
	ProfileID   int64      `json:"profile_id"`
	Force       bool       `json:"force"`
	State       JobState   `json:"state"`
	Attempts    int        `json:"attempts"`
	Progress    int        `json:"progress"` // 0..100
	Note        string     `json:"note,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OutcomeKind classifies the result of one job attempt.
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota
	OutcomeSkipped
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

// Outcome is returned by a job attempt and interpreted by the pool's retry
// policy.
type Outcome struct {
	Kind   OutcomeKind
	Result JobResult
	Err    error
}

func Succeeded(r JobResult) Outcome { return Outcome{Kind: OutcomeSucceeded, Result: r} }
func Skipped(r JobResult) Outcome   { return Outcome{Kind: OutcomeSkipped, Result: r} }
func Retryable(err error) Outcome   { return Outcome{Kind: OutcomeRetryable, Err: err} }
func Terminal(err error) Outcome    { return Outcome{Kind: OutcomeTerminal, Err: err} }

// Classify turns an attempt error into an outcome.
func Classify(err error) Outcome {
	if IsTerminal(err) {
		return Terminal(err)
	}
	return Retryable(err)
}
