package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	config "github.com/maheshrc27/postpublisher/configs"
	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/repository"
	"github.com/maheshrc27/postpublisher/pkg/utils"
)

// ErrRunInProgress is returned when another dispatch run holds the run lock.
var ErrRunInProgress = errors.New("dispatch run already in progress")

// PostStore is the part of the post repository the dispatcher needs.
type PostStore interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	Claim(ctx context.Context, postID int64, token string, now time.Time) (bool, error)
	Release(ctx context.Context, postID int64, token string) error
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	FinishStale(ctx context.Context, claimedBefore, at time.Time) (int64, error)
	MarkPublished(ctx context.Context, postID int64, token string, at time.Time) error
}

// AttemptStore records per-platform outcomes.
type AttemptStore interface {
	UpdateStatus(ctx context.Context, postID, platformID int64, status models.AttemptStatus, lastError string, at time.Time) error
	FailPending(ctx context.Context, postID int64, platformIDs []int64, reason string, at time.Time) (int64, error)
}

// RunLocker keeps overlapping triggers from running at the same time.
// Acquire reports false when someone else holds the lock.
type RunLocker interface {
	Acquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// Options tunes a Dispatcher. Zero concurrency values fall back to 10 posts
// and 5 platforms; a zero BatchSize or ClaimTTL disables that limit.
type Options struct {
	BatchSize           int
	PostConcurrency     int
	PlatformConcurrency int
	AttemptTimeout      time.Duration
	ClaimTTL            time.Duration
	ReconcileBackoff    []time.Duration
}

func OptionsFromConfig(cfg config.Dispatch) Options {
	return Options{
		BatchSize:           cfg.BatchSize,
		PostConcurrency:     cfg.PostConcurrency,
		PlatformConcurrency: cfg.PlatformConcurrency,
		AttemptTimeout:      cfg.AttemptTimeout,
		ClaimTTL:            cfg.ClaimTTL,
		ReconcileBackoff:    DefaultReconcileBackoff,
	}
}

// Option sets an optional collaborator on a Dispatcher.
type Option func(*Dispatcher)

func WithLocker(l RunLocker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

func WithMediaResolver(m MediaResolver) Option {
	return func(d *Dispatcher) { d.media = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithRunIDs replaces the run id generator, mostly for tests.
func WithRunIDs(fn func() (string, error)) Option {
	return func(d *Dispatcher) { d.newRunID = fn }
}

type Dispatcher struct {
	posts      PostStore
	attempts   AttemptStore
	selector   *Selector
	executor   *Executor
	reconciler *Reconciler
	locker     RunLocker
	media      MediaResolver
	clock      utils.Clock
	opts       Options
	log        *slog.Logger
	newRunID   func() (string, error)
}

// New builds a Dispatcher. The run lock and media resolver are off unless
// given through options.
func New(posts PostStore, attempts AttemptStore, adapters Adapters, clock utils.Clock, opts Options, options ...Option) *Dispatcher {
	if opts.PostConcurrency <= 0 {
		opts.PostConcurrency = 10
	}
	if opts.PlatformConcurrency <= 0 {
		opts.PlatformConcurrency = 5
	}
	d := &Dispatcher{
		posts:    posts,
		attempts: attempts,
		clock:    clock,
		opts:     opts,
		log:      slog.Default(),
		newRunID: utils.NewRunID,
	}
	for _, o := range options {
		o(d)
	}
	d.selector = NewSelector(posts, opts.BatchSize)
	d.executor = NewExecutor(adapters, attempts, d.media, clock, opts.AttemptTimeout, d.log)
	d.reconciler = NewReconciler(posts, clock, opts.ReconcileBackoff)
	return d
}

// Run dispatches everything due at the clock's current instant.
func (d *Dispatcher) Run(ctx context.Context) (*models.RunSummary, error) {
	return d.RunOnce(ctx, d.clock.Now())
}

// RunOnce publishes every post due at now. A selection error aborts the run.
// Every other error stays inside the post that caused it.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) (*models.RunSummary, error) {
	now = now.UTC()
	runID, err := d.newRunID()
	if err != nil {
		return nil, err
	}
	log := d.log.With(slog.String("run_id", runID))

	if d.locker != nil {
		ok, err := d.locker.Acquire(ctx, runID)
		switch {
		case err != nil:
			log.Warn("run lock unavailable", slog.String("error", err.Error()))
		case !ok:
			return nil, ErrRunInProgress
		default:
			defer func() {
				if err := d.locker.Release(context.WithoutCancel(ctx), runID); err != nil {
					log.Warn("run lock release failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	summary := &models.RunSummary{RunID: runID, StartedAt: now, Posts: []*models.PostResult{}}
	log.Info("dispatch run started", slog.Time("now", now))

	if d.opts.ClaimTTL > 0 {
		staleBefore := now.Add(-d.opts.ClaimTTL)
		// Stale claims whose attempts are all recorded only missed reconciliation.
		if n, err := d.posts.FinishStale(ctx, staleBefore, d.clock.Now()); err != nil {
			log.Warn("stale claim reconcile failed", slog.String("error", err.Error()))
		} else if n > 0 {
			summary.StaleReconciled = n
			log.Info("stale claims reconciled", slog.Int64("count", n))
		}

		n, err := d.posts.ReleaseStale(ctx, staleBefore)
		if err != nil {
			log.Warn("stale claim release failed", slog.String("error", err.Error()))
		} else if n > 0 {
			summary.StaleReleased = n
			log.Info("stale claims released", slog.Int64("count", n))
		}
	}

	posts, err := d.selector.Due(ctx, now)
	if err != nil {
		summary.FinishedAt = d.clock.Now()
		log.Error("selection failed", slog.String("error", err.Error()))
		return summary, fmt.Errorf("select due posts: %w", err)
	}
	summary.Selected = len(posts)
	if len(posts) == 0 {
		summary.FinishedAt = d.clock.Now()
		log.Info("no scheduled posts to publish")
		return summary, nil
	}

	results := make([]*models.PostResult, len(posts))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.opts.PostConcurrency)

	for i, post := range posts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, post *models.Post) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = d.dispatch(ctx, log, runID, post, now)
		}(i, post)
	}
	wg.Wait()

	for _, r := range results {
		summary.Add(r)
	}
	summary.FinishedAt = d.clock.Now()

	log.Info("dispatch run finished",
		slog.Int("selected", summary.Selected),
		slog.Int("processed", summary.Processed),
		slog.Int("published", summary.Published),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("reconcile_failed", summary.ReconcileFailed),
		slog.Int("attempts_published", summary.AttemptsPublished),
		slog.Int("attempts_failed", summary.AttemptsFailed),
		slog.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

// DispatchPost publishes a single post if it is due. Posts that are not
// scheduled, or not yet due, are reported as skipped.
func (d *Dispatcher) DispatchPost(ctx context.Context, postID int64) (*models.PostResult, error) {
	now := d.clock.Now()
	post, err := d.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", postID, err)
	}
	if post == nil {
		return nil, fmt.Errorf("load post %d: %w", postID, repository.ErrPostNotFound)
	}
	if !post.IsDue(now) {
		d.log.Warn("post not due, skipping",
			slog.Int64("post_id", postID),
			slog.String("status", string(post.Status)))
		return &models.PostResult{PostID: postID, Status: models.PostResultSkipped}, nil
	}

	token, err := d.newRunID()
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, d.log.With(slog.String("run_id", token)), token, post, now), nil
}

// dispatch is the per-post unit of work. It never panics and never returns an error;
// failures are folded into the result.
func (d *Dispatcher) dispatch(ctx context.Context, log *slog.Logger, token string, post *models.Post, now time.Time) (res *models.PostResult) {
	res = &models.PostResult{PostID: post.ID}
	log = log.With(slog.Int64("post_id", post.ID))

	claimed, err := d.posts.Claim(ctx, post.ID, token, now)
	if err != nil {
		res.Status = models.PostResultFailed
		res.Error = err.Error()
		log.Error("post dispatch failed", slog.String("stage", "claim"), slog.String("error", res.Error))
		return res
	}
	if !claimed {
		res.Status = models.PostResultSkipped
		log.Warn("post claim skipped")
		return res
	}

	// The selection snapshot predates the claim. Attempts and content are read
	// again now that no one else can change them.
	current, err := d.posts.GetByID(ctx, post.ID)
	if err == nil && current == nil {
		err = repository.ErrPostNotFound
	}
	if err != nil {
		d.abort(ctx, log, post, token, nil, fmt.Errorf("reload claimed post: %w", err), res)
		return res
	}
	if current.Status != models.PostStatusPublishing || current.ClaimToken != token {
		res.Status = models.PostResultSkipped
		log.Warn("post claim skipped", slog.String("status", string(current.Status)))
		return res
	}
	post = current

	var pending []*models.PlatformAttempt
	for _, a := range post.Attempts {
		if a.Status != models.AttemptStatusPublished {
			pending = append(pending, a)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			d.abort(ctx, log, post, token, platformIDs(pending), fmt.Errorf("panic: %v", r), res)
		}
	}()

	results := d.attemptAll(ctx, post, pending)

	var unrecorded []int64
	var persistErr error
	for _, r := range results {
		if r.PersistErr != nil {
			unrecorded = append(unrecorded, r.PlatformID)
			persistErr = errors.Join(persistErr, r.PersistErr)
			continue
		}
		if r.Outcome == models.OutcomePublished {
			res.PlatformsPublished++
		} else {
			res.PlatformsFailed++
		}
	}
	if persistErr != nil {
		d.abort(ctx, log, post, token, unrecorded, persistErr, res)
		return res
	}

	at, err := d.reconciler.Reconcile(ctx, post, token, results)
	if err != nil {
		res.Status = models.PostResultReconcileFailed
		res.Error = err.Error()
		log.Error("reconcile failed, post left publishing",
			slog.Int("platforms_published", res.PlatformsPublished),
			slog.Int("platforms_failed", res.PlatformsFailed),
			slog.String("error", res.Error))
		return res
	}

	res.Status = models.PostResultPublished
	log.Info("post published",
		slog.Time("published_at", at),
		slog.Int("platforms_published", res.PlatformsPublished),
		slog.Int("platforms_failed", res.PlatformsFailed))
	return res
}

func (d *Dispatcher) attemptAll(ctx context.Context, post *models.Post, attempts []*models.PlatformAttempt) []AttemptResult {
	results := make([]AttemptResult, len(attempts))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.opts.PlatformConcurrency)

	for i, a := range attempts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, a *models.PlatformAttempt) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = d.executor.Attempt(ctx, post, a)
		}(i, a)
	}
	wg.Wait()
	return results
}

// abort handles an unexpected per-post error: attempts that were not recorded
// are marked failed where possible and the claim goes back to scheduled so the
// next run retries the post.
func (d *Dispatcher) abort(ctx context.Context, log *slog.Logger, post *models.Post, token string, unrecorded []int64, cause error, res *models.PostResult) {
	res.Status = models.PostResultFailed
	res.Error = cause.Error()
	log.Error("post dispatch failed", slog.String("error", res.Error))

	ctx = context.WithoutCancel(ctx)
	if n, err := d.attempts.FailPending(ctx, post.ID, unrecorded, cause.Error(), d.clock.Now()); err != nil {
		log.Warn("could not mark attempts failed", slog.String("error", err.Error()))
	} else {
		res.PlatformsFailed += int(n)
	}
	if err := d.posts.Release(ctx, post.ID, token); err != nil {
		log.Warn("could not release post claim", slog.String("error", err.Error()))
	}
}

func platformIDs(attempts []*models.PlatformAttempt) []int64 {
	ids := make([]int64, 0, len(attempts))
	for _, a := range attempts {
		ids = append(ids, a.PlatformID)
	}
	return ids
}
