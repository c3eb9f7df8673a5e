package models

import "time"

type PostStatus string

const (
	PostStatusDraft      PostStatus = "draft"
	PostStatusScheduled  PostStatus = "scheduled"
	PostStatusPublishing PostStatus = "publishing"
	PostStatusPublished  PostStatus = "published"
)

type Post struct {
	ID            int64              `db:"id" json:"id"`
	UserID        int64              `db:"user_id" json:"user_id"`
	Title         string             `db:"title" json:"title"`
	Content       string             `db:"content" json:"content"`
	ImageURL      string             `db:"image_url" json:"image_url,omitempty"`
	ScheduledTime *time.Time         `db:"scheduled_time" json:"scheduled_time"`
	Timezone      string             `db:"timezone" json:"timezone"`
	Status        PostStatus         `db:"status" json:"status"`
	PublishedAt   *time.Time         `db:"published_at" json:"published_at"`
	ClaimToken    string             `db:"claim_token" json:"-"`
	ClaimedAt     *time.Time         `db:"claimed_at" json:"-"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
	Attempts      []*PlatformAttempt `json:"platforms"`
}

// IsDue reports whether the post is scheduled and its time has come at now.
func (p *Post) IsDue(now time.Time) bool {
	return p.Status == PostStatusScheduled && p.ScheduledTime != nil && !p.ScheduledTime.After(now)
}

// Editable reports whether users may still change the post.
func (p *Post) Editable() bool {
	return p.Status == PostStatusDraft || p.Status == PostStatusScheduled
}

func (p *Post) PlatformIDs() []int64 {
	ids := make([]int64, 0, len(p.Attempts))
	for _, a := range p.Attempts {
		ids = append(ids, a.PlatformID)
	}
	return ids
}
