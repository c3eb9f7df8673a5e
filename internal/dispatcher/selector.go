package dispatcher

import (
	"context"
	"time"

	"github.com/maheshrc27/postpublisher/internal/models"
)

// Selector finds the posts a run should publish.
type Selector struct {
	posts PostStore
	limit int
}

func NewSelector(posts PostStore, limit int) *Selector {
	return &Selector{posts: posts, limit: limit}
}

// Due returns scheduled posts whose time is at or before now, attempts loaded.
func (s *Selector) Due(ctx context.Context, now time.Time) ([]*models.Post, error) {
	posts, err := s.posts.FindDue(ctx, now, s.limit)
	if err != nil {
		return nil, err
	}

	due := posts[:0]
	for _, p := range posts {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}
	return due, nil
}
