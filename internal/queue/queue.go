package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postpublisher/internal/models"
)

const (
	TaskTypeDispatchRun = "dispatch:run"
	TaskTypePublishPost = "publish:post"
)

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}

// Dispatcher is what the task handlers drive. *dispatcher.Dispatcher satisfies it.
type Dispatcher interface {
	Run(ctx context.Context) (*models.RunSummary, error)
	DispatchPost(ctx context.Context, postID int64) (*models.PostResult, error)
}

type Queue struct {
	d Dispatcher
}

func NewQueue(d Dispatcher) *Queue {
	return &Queue{d: d}
}

func (q *Queue) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeDispatchRun, q.HandleDispatchRunTask)
	mux.HandleFunc(TaskTypePublishPost, q.HandlePublishPostTask)
}
