package models

import "time"

type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) AttemptStatus() AttemptStatus {
	if o == OutcomePublished {
		return AttemptStatusPublished
	}
	return AttemptStatusFailed
}

type PostResultStatus string

const (
	PostResultPublished       PostResultStatus = "published"
	PostResultFailed          PostResultStatus = "failed"
	PostResultSkipped         PostResultStatus = "skipped"
	PostResultReconcileFailed PostResultStatus = "reconcile_failed"
)

type PostResult struct {
	PostID             int64            `json:"post_id"`
	Status             PostResultStatus `json:"status"`
	PlatformsPublished int              `json:"platforms_published"`
	PlatformsFailed    int              `json:"platforms_failed"`
	Error              string           `json:"error,omitempty"`
}

type RunSummary struct {
	RunID             string        `json:"run_id"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
	Selected          int           `json:"selected"`
	Processed         int           `json:"processed"`
	Published         int           `json:"published"`
	Failed            int           `json:"failed"`
	Skipped           int           `json:"skipped"`
	ReconcileFailed   int           `json:"reconcile_failed"`
	StaleReleased     int64         `json:"stale_released"`
	StaleReconciled   int64         `json:"stale_reconciled"`
	AttemptsPublished int           `json:"attempts_published"`
	AttemptsFailed    int           `json:"attempts_failed"`
	Posts             []*PostResult `json:"posts"`
}

// Add folds one post result into the summary.
func (s *RunSummary) Add(r *PostResult) {
	s.Posts = append(s.Posts, r)
	if r.Status != PostResultSkipped {
		s.Processed++
	}
	switch r.Status {
	case PostResultPublished:
		s.Published++
	case PostResultFailed:
		s.Failed++
	case PostResultSkipped:
		s.Skipped++
	case PostResultReconcileFailed:
		s.ReconcileFailed++
	}
	s.AttemptsPublished += r.PlatformsPublished
	s.AttemptsFailed += r.PlatformsFailed
}
