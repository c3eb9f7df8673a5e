package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/repository"
	"github.com/maheshrc27/postpublisher/pkg/utils"
)

// ErrReconcile means every attempt finished but the post could not be marked published.
var ErrReconcile = errors.New("reconcile post status")

var DefaultReconcileBackoff = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second}

// Reconciler flips a claimed post to published once its attempts are terminal.
// Per-platform failures do not keep a post from being published.
type Reconciler struct {
	posts   PostStore
	clock   utils.Clock
	backoff []time.Duration
}

func NewReconciler(posts PostStore, clock utils.Clock, backoff []time.Duration) *Reconciler {
	return &Reconciler{posts: posts, clock: clock, backoff: backoff}
}

// Reconcile marks post published under token and returns the completion instant.
// Write failures are retried once per backoff step. A lost claim is not retried.
func (r *Reconciler) Reconcile(ctx context.Context, post *models.Post, token string, results []AttemptResult) (time.Time, error) {
	for _, res := range results {
		if res.PersistErr != nil {
			return time.Time{}, fmt.Errorf("%w: attempt %d not recorded", ErrReconcile, res.PlatformID)
		}
	}

	at := r.clock.Now()
	err := r.posts.MarkPublished(ctx, post.ID, token, at)
	for i := 0; err != nil && i < len(r.backoff); i++ {
		if errors.Is(err, repository.ErrClaimLost) {
			break
		}
		if werr := sleep(ctx, r.backoff[i]); werr != nil {
			err = werr
			break
		}
		err = r.posts.MarkPublished(ctx, post.ID, token, at)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: post %d: %w", ErrReconcile, post.ID, err)
	}
	return at, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
