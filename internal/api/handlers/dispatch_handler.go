package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/transfer"
)

type DispatchRunner interface {
	Run(ctx context.Context) (*models.RunSummary, error)
}

type DispatchQueue interface {
	EnqueueRun(ctx context.Context) (string, error)
	SchedulePost(ctx context.Context, postID int64, at time.Time) error
}

type DispatchHandler struct {
	d DispatchRunner
	q DispatchQueue
}

func NewDispatchHandler(d DispatchRunner, q DispatchQueue) *DispatchHandler {
	return &DispatchHandler{d: d, q: q}
}

// RunNow performs a dispatch run inside the request and returns its summary.
func (h *DispatchHandler) RunNow(c *fiber.Ctx) error {
	summary, err := h.d.Run(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

// Enqueue hands a run, or a single post when post_id is given, to the workers.
func (h *DispatchHandler) Enqueue(c *fiber.Ctx) error {
	var req transfer.EnqueueRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to parse body",
			})
		}
	}

	if req.PostID > 0 {
		if err := h.q.SchedulePost(c.Context(), req.PostID, time.Now().UTC()); err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"post_id": req.PostID,
		})
	}

	taskID, err := h.q.EnqueueRun(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"task_id": taskID,
	})
}
