package transfer

// PostInput is the body of post create and update requests. Nil fields are
// left unchanged on update. ScheduledTime is a wall clock time in Timezone
// ("2006-01-02T15:04" or "2006-01-02T15:04:05") or an RFC 3339 instant.
type PostInput struct {
	Title         *string `json:"title"`
	Content       *string `json:"content"`
	ImageURL      *string `json:"image_url"`
	ScheduledTime *string `json:"scheduled_time"`
	Timezone      *string `json:"timezone"`
	Status        *string `json:"status"`
	PlatformIDs   []int64 `json:"platform_ids"`
}

type EnqueueRequest struct {
	PostID int64 `json:"post_id"`
}
