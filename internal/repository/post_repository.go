package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postpublisher/internal/models"
)

var (
	ErrPostNotFound = errors.New("post not found")
	// ErrClaimLost means the post is no longer held by the given claim token.
	ErrClaimLost = errors.New("post claim lost")
)

type PostFilter struct {
	Status models.PostStatus
	Date   *time.Time
}

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	Update(ctx context.Context, tx *sql.Tx, post *models.Post) error
	GetByUserID(ctx context.Context, userID int64, filter PostFilter) ([]*models.Post, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	CountScheduledOn(ctx context.Context, userID int64, day time.Time, excludePostID int64) (int, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	Claim(ctx context.Context, postID int64, token string, now time.Time) (bool, error)
	Release(ctx context.Context, postID int64, token string) error
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	FinishStale(ctx context.Context, claimedBefore, at time.Time) (int64, error)
	MarkPublished(ctx context.Context, postID int64, token string, at time.Time) error
	Remove(ctx context.Context, id int64) (bool, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, title, content, image_url, scheduled_time, timezone, status, published_at, claim_token, claimed_at, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		post          models.Post
		imageURL      sql.NullString
		claimToken    sql.NullString
		scheduledTime sql.NullTime
		publishedAt   sql.NullTime
		claimedAt     sql.NullTime
	)
	err := row.Scan(&post.ID, &post.UserID, &post.Title, &post.Content, &imageURL, &scheduledTime,
		&post.Timezone, &post.Status, &publishedAt, &claimToken, &claimedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	post.ImageURL = imageURL.String
	post.ClaimToken = claimToken.String
	post.ScheduledTime = timePtr(scheduledTime)
	post.PublishedAt = timePtr(publishedAt)
	post.ClaimedAt = timePtr(claimedAt)
	return &post, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, title, content, image_url, scheduled_time, timezone, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	args := []any{post.UserID, post.Title, post.Content, nullString(post.ImageURL), nullTime(post.ScheduledTime), post.Timezone, post.Status}

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

// Update rewrites the user editable fields. Posts that left draft/scheduled are never touched.
func (r *postRepository) Update(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	query := `
		UPDATE posts
		   SET title = $2,
		       content = $3,
		       image_url = $4,
		       scheduled_time = $5,
		       timezone = $6,
		       status = $7,
		       updated_at = NOW()
		 WHERE id = $1
		   AND status IN ('draft', 'scheduled')
	`
	args := []any{post.ID, post.Title, post.Content, nullString(post.ImageURL), nullTime(post.ScheduledTime), post.Timezone, post.Status}

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	attempts, err := loadAttempts(ctx, r.db, []int64{post.ID})
	if err != nil {
		return nil, err
	}
	post.Attempts = attempts[post.ID]
	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64, filter PostFilter) ([]*models.Post, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + postColumns + ` FROM posts WHERE user_id = $1`)
	args := []any{userID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if filter.Date != nil {
		day := filter.Date.UTC().Truncate(24 * time.Hour)
		args = append(args, day, day.Add(24*time.Hour))
		fmt.Fprintf(&sb, " AND scheduled_time >= $%d AND scheduled_time < $%d", len(args)-1, len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, err
	}
	if err := attachAttempts(ctx, r.db, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// CountScheduledOn counts the user's scheduled posts whose scheduled time falls on the UTC day of day.
func (r *postRepository) CountScheduledOn(ctx context.Context, userID int64, day time.Time, excludePostID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		  FROM posts
		 WHERE user_id = $1
		   AND status IN ('scheduled', 'publishing', 'published')
		   AND scheduled_time >= $2
		   AND scheduled_time < $3
		   AND id <> $4
	`
	start := day.UTC().Truncate(24 * time.Hour)

	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, start, start.Add(24*time.Hour), excludePostID).Scan(&n); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return n, nil
}

// FindDue returns scheduled posts with scheduled_time <= now together with their
// attempts. Both reads share one snapshot so a post and its attempt set agree.
func (r *postRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin due posts snapshot: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + postColumns + `
		  FROM posts
		 WHERE status = $1
		   AND scheduled_time <= $2
		 ORDER BY scheduled_time ASC, id ASC`
	args := []any{models.PostStatusScheduled, now.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due posts: %w", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("scan due posts: %w", err)
	}
	if len(posts) == 0 {
		return nil, tx.Commit()
	}

	if err := attachAttempts(ctx, tx, posts); err != nil {
		return nil, fmt.Errorf("load due post attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit due posts snapshot: %w", err)
	}
	return posts, nil
}

// Claim moves a due post from scheduled to publishing. It reports false when
// another run got there first or the post is no longer due.
func (r *postRepository) Claim(ctx context.Context, postID int64, token string, now time.Time) (bool, error) {
	query := `
		UPDATE posts
		   SET status = 'publishing',
		       claim_token = $2,
		       claimed_at = $3,
		       updated_at = $3
		 WHERE id = $1
		   AND status = 'scheduled'
		   AND scheduled_time <= $3
	`
	res, err := r.db.ExecContext(ctx, query, postID, token, now.UTC())
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postRepository) Release(ctx context.Context, postID int64, token string) error {
	query := `
		UPDATE posts
		   SET status = 'scheduled',
		       claim_token = NULL,
		       claimed_at = NULL,
		       updated_at = NOW()
		 WHERE id = $1
		   AND status = 'publishing'
		   AND claim_token = $2
	`
	res, err := r.db.ExecContext(ctx, query, postID, token)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *postRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `
		UPDATE posts
		   SET status = 'scheduled',
		       claim_token = NULL,
		       claimed_at = NULL,
		       updated_at = NOW()
		 WHERE status = 'publishing'
		   AND claimed_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, claimedBefore.UTC())
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

// FinishStale publishes posts whose claim went stale after every attempt was
// already recorded, so their platforms are not attempted again.
func (r *postRepository) FinishStale(ctx context.Context, claimedBefore, at time.Time) (int64, error) {
	query := `
		UPDATE posts p
		   SET status = 'published',
		       published_at = $2,
		       claim_token = NULL,
		       claimed_at = NULL,
		       updated_at = $2
		 WHERE p.status = 'publishing'
		   AND p.claimed_at < $1
		   AND NOT EXISTS (
		       SELECT 1 FROM post_platforms pp
		        WHERE pp.post_id = p.id
		          AND pp.platform_status = 'pending'
		   )
	`
	res, err := r.db.ExecContext(ctx, query, claimedBefore.UTC(), at.UTC())
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return res.RowsAffected()
}

func (r *postRepository) MarkPublished(ctx context.Context, postID int64, token string, at time.Time) error {
	query := `
		UPDATE posts
		   SET status = 'published',
		       published_at = $3,
		       claim_token = NULL,
		       claimed_at = NULL,
		       updated_at = $3
		 WHERE id = $1
		   AND status = 'publishing'
		   AND claim_token = $2
	`
	res, err := r.db.ExecContext(ctx, query, postID, token, at.UTC())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

// Remove deletes a post that is not being published. Attempts cascade.
func (r *postRepository) Remove(ctx context.Context, id int64) (bool, error) {
	query := `DELETE FROM posts WHERE id = $1 AND status <> 'publishing'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func collectPosts(rows *sql.Rows) ([]*models.Post, error) {
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func attachAttempts(ctx context.Context, q queryer, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	attempts, err := loadAttempts(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, p := range posts {
		p.Attempts = attempts[p.ID]
	}
	return nil
}

func loadAttempts(ctx context.Context, q queryer, postIDs []int64) (map[int64][]*models.PlatformAttempt, error) {
	query := `
		SELECT pp.post_id, pp.platform_id, pp.platform_status, pp.last_error, pp.attempt_count,
		       pp.created_at, pp.updated_at,
		       pl.name, pl.type, pl.character_limit
		  FROM post_platforms pp
		  JOIN platforms pl ON pl.id = pp.platform_id
		 WHERE pp.post_id = ANY($1)
		 ORDER BY pp.post_id, pp.platform_id
	`
	rows, err := q.QueryContext(ctx, query, pq.Array(postIDs))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]*models.PlatformAttempt, len(postIDs))
	for rows.Next() {
		a := &models.PlatformAttempt{Platform: &models.Platform{}}
		if err := rows.Scan(&a.PostID, &a.PlatformID, &a.Status, &a.LastError, &a.AttemptCount,
			&a.CreatedAt, &a.UpdatedAt, &a.Platform.Name, &a.Platform.Type, &a.Platform.CharacterLimit); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		a.Platform.ID = a.PlatformID
		out[a.PostID] = append(out[a.PostID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
