package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/platform"
	"github.com/maheshrc27/postpublisher/pkg/utils"
)

var ErrAdapterPanic = errors.New("platform adapter panicked")

// Adapters resolves platform types to adapters and paces publishes per type.
// *platform.Registry satisfies it.
type Adapters interface {
	Get(platformType string) (platform.Adapter, error)
	Wait(ctx context.Context, platformType string) error
}

// MediaResolver turns a stored image reference into a URL a platform can fetch.
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type AttemptResult struct {
	PlatformID   int64
	PlatformType string
	Outcome      models.Outcome
	// Err is why the platform rejected the post, nil when published.
	Err error
	// PersistErr is set when the outcome could not be recorded.
	PersistErr error
}

// Executor runs a single (post, platform) publication and records its outcome.
type Executor struct {
	adapters Adapters
	attempts AttemptStore
	media    MediaResolver
	clock    utils.Clock
	timeout  time.Duration
	log      *slog.Logger
}

func NewExecutor(adapters Adapters, attempts AttemptStore, media MediaResolver, clock utils.Clock, timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		adapters: adapters,
		attempts: attempts,
		media:    media,
		clock:    clock,
		timeout:  timeout,
		log:      logger,
	}
}

// Attempt publishes post to the attempt's platform. Any adapter error, timeout
// or panic is a Failed outcome. The outcome is then written to the attempt store
// under ctx, not under the attempt deadline.
func (e *Executor) Attempt(ctx context.Context, post *models.Post, attempt *models.PlatformAttempt) AttemptResult {
	res := AttemptResult{PlatformID: attempt.PlatformID}
	if attempt.Platform != nil {
		res.PlatformType = attempt.Platform.Type
	}

	res.Err = e.publish(ctx, post, res.PlatformType)
	res.Outcome = models.OutcomePublished
	lastError := ""
	if res.Err != nil {
		res.Outcome = models.OutcomeFailed
		lastError = res.Err.Error()
	}

	err := e.attempts.UpdateStatus(ctx, post.ID, attempt.PlatformID, res.Outcome.AttemptStatus(), lastError, e.clock.Now())
	if err != nil {
		res.PersistErr = err
		e.log.Error("persist attempt failed",
			slog.Int64("post_id", post.ID),
			slog.Int64("platform_id", attempt.PlatformID),
			slog.String("outcome", string(res.Outcome)),
			slog.String("error", err.Error()))
		return res
	}

	if res.Err != nil {
		e.log.Warn("platform publish failed",
			slog.Int64("post_id", post.ID),
			slog.Int64("platform_id", attempt.PlatformID),
			slog.String("platform", res.PlatformType),
			slog.String("error", lastError))
	} else {
		e.log.Info("platform published",
			slog.Int64("post_id", post.ID),
			slog.Int64("platform_id", attempt.PlatformID),
			slog.String("platform", res.PlatformType))
	}
	return res
}

func (e *Executor) publish(ctx context.Context, post *models.Post, platformType string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAdapterPanic, r)
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	adapter, err := e.adapters.Get(platformType)
	if err != nil {
		return err
	}
	if err := e.adapters.Wait(ctx, platformType); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	target := post
	if post.ImageURL != "" && e.media != nil {
		url, err := e.media.Resolve(ctx, post.ImageURL)
		if err != nil {
			return fmt.Errorf("resolve media: %w", err)
		}
		cp := *post
		cp.ImageURL = url
		target = &cp
	}

	// The adapter runs on its own goroutine so one that ignores ctx still
	// cannot hold the worker past the deadline.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrAdapterPanic, r)
			}
		}()
		done <- adapter.Publish(ctx, target)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		return fmt.Errorf("publish to %s timed out: %w", platformType, ctx.Err())
	}
}
