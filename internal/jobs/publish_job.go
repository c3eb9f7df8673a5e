package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpublisher/internal/dispatcher"
	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/robfig/cron/v3"
)

type Runner interface {
	Run(ctx context.Context) (*models.RunSummary, error)
}

// PublishJob is the periodic trigger for dispatch runs.
type PublishJob struct {
	d       Runner
	timeout time.Duration
}

func NewPublishJob(d Runner, timeout time.Duration) *PublishJob {
	return &PublishJob{d: d, timeout: timeout}
}

func (j *PublishJob) PublishDuePosts() {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	if _, err := j.d.Run(ctx); err != nil {
		if errors.Is(err, dispatcher.ErrRunInProgress) {
			slog.Info("dispatch run skipped, another run in progress")
			return
		}
		slog.Error("dispatch run failed", slog.String("error", err.Error()))
	}
}

// Schedule registers the job on c under a standard cron spec or @every descriptor.
func (j *PublishJob) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, j.PublishDuePosts)
}
