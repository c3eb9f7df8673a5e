package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const maxRetry = 3

// NewPublishPostTask builds the delayed single-post task. The task id is
// derived from the post and its schedule so rescheduling to the same time
// does not queue the post twice.
func NewPublishPostTask(postID int64, at time.Time) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(PublishPostPayload{PostID: postID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%d:%d", TaskTypePublishPost, postID, at.UTC().Unix())),
		asynq.ProcessAt(at),
		asynq.MaxRetry(maxRetry),
	}
	return asynq.NewTask(TaskTypePublishPost, payload), opts, nil
}

func EnqueuePost(ctx context.Context, asynqClient *asynq.Client, postID int64, at time.Time) error {
	task, opts, err := NewPublishPostTask(postID, at)
	if err != nil {
		return err
	}

	info, err := asynqClient.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}

	slog.Info("post task scheduled", slog.Int64("post_id", postID), slog.String("task_id", info.ID), slog.Time("process_at", info.NextProcessAt))
	return nil
}

// EnqueueRun queues one dispatch run for a worker to pick up now.
func EnqueueRun(ctx context.Context, asynqClient *asynq.Client) (string, error) {
	info, err := asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeDispatchRun, nil), asynq.MaxRetry(0))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Scheduler adapts an asynq client to the post service.
type Scheduler struct {
	client *asynq.Client
}

func NewScheduler(client *asynq.Client) *Scheduler {
	return &Scheduler{client: client}
}

func (s *Scheduler) SchedulePost(ctx context.Context, postID int64, at time.Time) error {
	return EnqueuePost(ctx, s.client, postID, at)
}

func (s *Scheduler) EnqueueRun(ctx context.Context) (string, error) {
	return EnqueueRun(ctx, s.client)
}
