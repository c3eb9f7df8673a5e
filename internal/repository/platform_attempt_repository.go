package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postpublisher/internal/models"
)

var ErrAttemptNotFound = errors.New("platform attempt not found")

type PlatformAttemptRepository interface {
	Create(ctx context.Context, tx *sql.Tx, postID int64, platformIDs []int64) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.PlatformAttempt, error)
	UpdateStatus(ctx context.Context, postID, platformID int64, status models.AttemptStatus, lastError string, at time.Time) error
	FailPending(ctx context.Context, postID int64, platformIDs []int64, reason string, at time.Time) (int64, error)
	Remove(ctx context.Context, tx *sql.Tx, postID int64, platformIDs []int64) error
}

type platformAttemptRepository struct {
	db *sql.DB
}

func NewPlatformAttemptRepository(db *sql.DB) PlatformAttemptRepository {
	return &platformAttemptRepository{db: db}
}

// Create attaches platforms to a post with one pending attempt each.
func (r *platformAttemptRepository) Create(ctx context.Context, tx *sql.Tx, postID int64, platformIDs []int64) error {
	if len(platformIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO post_platforms (post_id, platform_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (post_id, platform_id) DO NOTHING
	`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, postID, pq.Array(platformIDs))
	} else {
		_, err = r.db.ExecContext(ctx, query, postID, pq.Array(platformIDs))
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformAttemptRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PlatformAttempt, error) {
	attempts, err := loadAttempts(ctx, r.db, []int64{postID})
	if err != nil {
		return nil, err
	}
	return attempts[postID], nil
}

// UpdateStatus records the outcome of one publication attempt.
func (r *platformAttemptRepository) UpdateStatus(ctx context.Context, postID, platformID int64, status models.AttemptStatus, lastError string, at time.Time) error {
	query := `
		UPDATE post_platforms
		   SET platform_status = $3,
		       last_error = $4,
		       attempt_count = attempt_count + 1,
		       updated_at = $5
		 WHERE post_id = $1
		   AND platform_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, postID, platformID, status, lastError, at.UTC())
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("update attempt %d/%d: %w", postID, platformID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// FailPending marks the given attempts failed unless they were already published.
func (r *platformAttemptRepository) FailPending(ctx context.Context, postID int64, platformIDs []int64, reason string, at time.Time) (int64, error) {
	if len(platformIDs) == 0 {
		return 0, nil
	}
	query := `
		UPDATE post_platforms
		   SET platform_status = 'failed',
		       last_error = $3,
		       updated_at = $4
		 WHERE post_id = $1
		   AND platform_id = ANY($2)
		   AND platform_status <> 'published'
	`
	res, err := r.db.ExecContext(ctx, query, postID, pq.Array(platformIDs), reason, at.UTC())
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// Remove detaches platforms from a post, dropping their attempts.
func (r *platformAttemptRepository) Remove(ctx context.Context, tx *sql.Tx, postID int64, platformIDs []int64) error {
	if len(platformIDs) == 0 {
		return nil
	}
	query := `DELETE FROM post_platforms WHERE post_id = $1 AND platform_id = ANY($2)`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, postID, pq.Array(platformIDs))
	} else {
		_, err = r.db.ExecContext(ctx, query, postID, pq.Array(platformIDs))
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
