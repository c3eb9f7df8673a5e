package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postpublisher/internal/dispatcher"
	"github.com/maheshrc27/postpublisher/internal/repository"
)

func (q *Queue) HandleDispatchRunTask(ctx context.Context, task *asynq.Task) error {
	summary, err := q.d.Run(ctx)
	if err != nil {
		if errors.Is(err, dispatcher.ErrRunInProgress) {
			slog.Info("dispatch run skipped, another run in progress")
			return nil
		}
		return err
	}

	slog.Info("dispatch task done", slog.String("run_id", summary.RunID), slog.Int("processed", summary.Processed))
	return nil
}

func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskTypePublishPost, err, asynq.SkipRetry)
	}

	res, err := q.d.DispatchPost(ctx, payload.PostID)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			slog.Info("post task dropped, post no longer exists", slog.Int64("post_id", payload.PostID))
			return nil
		}
		return err
	}

	slog.Info("post task done", slog.Int64("post_id", payload.PostID), slog.String("result", string(res.Status)))
	return nil
}
