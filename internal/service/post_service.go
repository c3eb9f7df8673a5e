package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/repository"
	"github.com/maheshrc27/postpublisher/internal/transfer"
	"github.com/maheshrc27/postpublisher/pkg/utils"
)

var (
	ErrPostNotFound  = errors.New("post not found")
	ErrPostImmutable = errors.New("published posts cannot be changed")
	ErrPostInFlight  = errors.New("post is being published")
	ErrValidation    = errors.New("invalid post")
	ErrDailyLimit    = errors.New("daily scheduled post limit reached")
)

const maxTitleLength = 255

var scheduleLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02 15:04"}

// PostScheduler queues a single-post dispatch for the post's scheduled time.
type PostScheduler interface {
	SchedulePost(ctx context.Context, postID int64, at time.Time) error
}

type PostService interface {
	Create(ctx context.Context, userID int64, in *transfer.PostInput) (*models.Post, error)
	Update(ctx context.Context, userID, postID int64, in *transfer.PostInput) (*models.Post, error)
	Get(ctx context.Context, userID, postID int64) (*models.Post, error)
	List(ctx context.Context, userID int64, filter repository.PostFilter) ([]*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db         *sql.DB
	pr         repository.PostRepository
	ar         repository.PlatformAttemptRepository
	plr        repository.PlatformRepository
	scheduler  PostScheduler
	clock      utils.Clock
	dailyLimit int
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	ar repository.PlatformAttemptRepository,
	plr repository.PlatformRepository,
	scheduler PostScheduler,
	clock utils.Clock,
	dailyLimit int) PostService {
	return &postService{
		db:         db,
		pr:         pr,
		ar:         ar,
		plr:        plr,
		scheduler:  scheduler,
		clock:      clock,
		dailyLimit: dailyLimit,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (s *postService) Create(ctx context.Context, userID int64, in *transfer.PostInput) (*models.Post, error) {
	if userID == 0 {
		return nil, invalid("user is not valid")
	}
	if in == nil {
		return nil, invalid("post data is missing")
	}

	post := &models.Post{UserID: userID, Timezone: "UTC", Status: models.PostStatusDraft}
	if in.ScheduledTime != nil && in.Status == nil {
		post.Status = models.PostStatusScheduled
	}
	if err := applyInput(post, in); err != nil {
		return nil, err
	}
	if err := validatePost(post, s.clock.Now(), true); err != nil {
		return nil, err
	}

	ids := uniqueIDs(in.PlatformIDs)
	if len(ids) == 0 {
		return nil, invalid("at least one platform is required")
	}
	platforms, err := s.resolvePlatforms(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := checkContentFits(post.Content, platforms); err != nil {
		return nil, err
	}
	if err := s.checkDailyLimit(ctx, post, 0); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post.ID, err = s.pr.Create(ctx, tx, post)
	if err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}
	if err = s.ar.Create(ctx, tx, post.ID, ids); err != nil {
		return nil, fmt.Errorf("error attaching platforms: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("post created",
		slog.Int64("post_id", post.ID),
		slog.Int64("user_id", userID),
		slog.String("status", string(post.Status)))
	s.schedule(ctx, post)

	return s.pr.GetByID(ctx, post.ID)
}

func (s *postService) Update(ctx context.Context, userID, postID int64, in *transfer.PostInput) (*models.Post, error) {
	if in == nil {
		return nil, invalid("post data is missing")
	}
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	switch post.Status {
	case models.PostStatusPublished:
		return nil, ErrPostImmutable
	case models.PostStatusPublishing:
		return nil, ErrPostInFlight
	}

	before := post.ScheduledTime
	wasScheduled := post.Status == models.PostStatusScheduled
	if err := applyInput(post, in); err != nil {
		return nil, err
	}
	reschedule := in.ScheduledTime != nil || in.Status != nil
	if err := validatePost(post, s.clock.Now(), reschedule); err != nil {
		return nil, err
	}

	current := post.PlatformIDs()
	target := current
	if in.PlatformIDs != nil {
		target = uniqueIDs(in.PlatformIDs)
		if len(target) == 0 {
			return nil, invalid("at least one platform is required")
		}
	}
	platforms, err := s.resolvePlatforms(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := checkContentFits(post.Content, platforms); err != nil {
		return nil, err
	}
	if err := s.checkDailyLimit(ctx, post, post.ID); err != nil {
		return nil, err
	}
	detached, attached := diffIDs(current, target)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.pr.Update(ctx, tx, post); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			// Claimed or published between the read and the write.
			return nil, ErrPostInFlight
		}
		return nil, fmt.Errorf("error updating post: %w", err)
	}
	if err = s.ar.Remove(ctx, tx, post.ID, detached); err != nil {
		return nil, fmt.Errorf("error detaching platforms: %w", err)
	}
	if err = s.ar.Create(ctx, tx, post.ID, attached); err != nil {
		return nil, fmt.Errorf("error attaching platforms: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("post updated",
		slog.Int64("post_id", post.ID),
		slog.String("status", string(post.Status)),
		slog.Int("platforms_attached", len(attached)),
		slog.Int("platforms_detached", len(detached)))
	if post.Status == models.PostStatusScheduled && (!wasScheduled || !sameTime(before, post.ScheduledTime)) {
		s.schedule(ctx, post)
	}

	return s.pr.GetByID(ctx, post.ID)
}

func (s *postService) Get(ctx context.Context, userID, postID int64) (*models.Post, error) {
	return s.owned(ctx, userID, postID)
}

func (s *postService) List(ctx context.Context, userID int64, filter repository.PostFilter) ([]*models.Post, error) {
	if userID == 0 {
		return nil, invalid("user is not valid")
	}
	posts, err := s.pr.GetByUserID(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if _, err := s.owned(ctx, userID, postID); err != nil {
		return err
	}
	ok, err := s.pr.Remove(ctx, postID)
	if err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}
	if !ok {
		return ErrPostInFlight
	}
	slog.Info("post removed", slog.Int64("post_id", postID))
	return nil
}

// owned loads a post after checking it belongs to userID.
func (s *postService) owned(ctx context.Context, userID, postID int64) (*models.Post, error) {
	if userID == 0 {
		return nil, invalid("user is not valid")
	}
	if postID == 0 {
		return nil, invalid("post id is not valid")
	}
	ok, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPostNotFound
	}
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post: %w", err)
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (s *postService) resolvePlatforms(ctx context.Context, ids []int64) ([]*models.Platform, error) {
	platforms, err := s.plr.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error loading platforms: %w", err)
	}
	found := make(map[int64]bool, len(platforms))
	for _, p := range platforms {
		found[p.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, invalid("platform %d does not exist", id)
		}
	}
	return platforms, nil
}

func (s *postService) checkDailyLimit(ctx context.Context, post *models.Post, excludeID int64) error {
	if s.dailyLimit <= 0 || post.Status != models.PostStatusScheduled {
		return nil
	}
	n, err := s.pr.CountScheduledOn(ctx, post.UserID, *post.ScheduledTime, excludeID)
	if err != nil {
		return fmt.Errorf("error counting scheduled posts: %w", err)
	}
	if n >= s.dailyLimit {
		return fmt.Errorf("%w: %d posts already scheduled on %s", ErrDailyLimit, n, post.ScheduledTime.Format(time.DateOnly))
	}
	return nil
}

func (s *postService) schedule(ctx context.Context, post *models.Post) {
	if s.scheduler == nil || post.Status != models.PostStatusScheduled || post.ScheduledTime == nil {
		return
	}
	if err := s.scheduler.SchedulePost(ctx, post.ID, *post.ScheduledTime); err != nil {
		// The periodic run still picks the post up.
		slog.Warn("post enqueue failed", slog.Int64("post_id", post.ID), slog.String("error", err.Error()))
	}
}

func applyInput(post *models.Post, in *transfer.PostInput) error {
	if in.Title != nil {
		post.Title = strings.TrimSpace(*in.Title)
	}
	if in.Content != nil {
		post.Content = *in.Content
	}
	if in.ImageURL != nil {
		post.ImageURL = strings.TrimSpace(*in.ImageURL)
	}
	if in.Timezone != nil && strings.TrimSpace(*in.Timezone) != "" {
		post.Timezone = strings.TrimSpace(*in.Timezone)
	}
	if in.Status != nil {
		post.Status = models.PostStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
	}

	loc, err := time.LoadLocation(post.Timezone)
	if err != nil {
		return invalid("unknown timezone %q", post.Timezone)
	}
	if in.ScheduledTime != nil {
		raw := strings.TrimSpace(*in.ScheduledTime)
		if raw == "" {
			post.ScheduledTime = nil
			return nil
		}
		t, err := parseScheduledTime(raw, loc)
		if err != nil {
			return err
		}
		post.ScheduledTime = &t
	}
	return nil
}

// parseScheduledTime reads raw as a wall clock time in loc unless it carries
// its own offset, and returns the instant in UTC.
func parseScheduledTime(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("invalid scheduled time format %q", raw)
}

func validatePost(post *models.Post, now time.Time, checkFuture bool) error {
	if post.Title == "" {
		return invalid("title is required")
	}
	if utf8.RuneCountInString(post.Title) > maxTitleLength {
		return invalid("title must be at most %d characters", maxTitleLength)
	}
	if strings.TrimSpace(post.Content) == "" {
		return invalid("content is required")
	}
	switch post.Status {
	case models.PostStatusDraft:
	case models.PostStatusScheduled:
		if post.ScheduledTime == nil {
			return invalid("scheduled posts need a scheduled time")
		}
		if checkFuture && post.ScheduledTime.Before(now) {
			return invalid("scheduled time must not be in the past")
		}
	default:
		return invalid("status must be draft or scheduled, got %q", post.Status)
	}
	return nil
}

func checkContentFits(content string, platforms []*models.Platform) error {
	n := utf8.RuneCountInString(content)
	for _, p := range platforms {
		if n > p.CharacterLimit {
			return invalid("content is %d characters, %s allows %d", n, p.Name, p.CharacterLimit)
		}
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func diffIDs(current, target []int64) (removed, added []int64) {
	in := func(ids []int64, id int64) bool {
		for _, x := range ids {
			if x == id {
				return true
			}
		}
		return false
	}
	for _, id := range current {
		if !in(target, id) {
			removed = append(removed, id)
		}
	}
	for _, id := range target {
		if !in(current, id) {
			added = append(added, id)
		}
	}
	return removed, added
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
