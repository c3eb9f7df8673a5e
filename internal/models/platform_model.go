package models

import "time"

type Platform struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Type           string    `db:"type" json:"type"`
	CharacterLimit int       `db:"character_limit" json:"character_limit"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusPublished AttemptStatus = "published"
	AttemptStatusFailed    AttemptStatus = "failed"
)

func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusPublished || s == AttemptStatusFailed
}

// PlatformAttempt is the per (post, platform) publication record.
type PlatformAttempt struct {
	PostID       int64         `db:"post_id" json:"post_id"`
	PlatformID   int64         `db:"platform_id" json:"platform_id"`
	Platform     *Platform     `json:"platform,omitempty"`
	Status       AttemptStatus `db:"platform_status" json:"platform_status"`
	LastError    string        `db:"last_error" json:"last_error,omitempty"`
	AttemptCount int           `db:"attempt_count" json:"attempt_count"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
