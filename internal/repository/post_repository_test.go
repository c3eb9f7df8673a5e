package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postCols = []string{"id", "user_id", "title", "content", "image_url", "scheduled_time", "timezone", "status",
	"published_at", "claim_token", "claimed_at", "created_at", "updated_at"}

var attemptCols = []string{"post_id", "platform_id", "platform_status", "last_error", "attempt_count",
	"created_at", "updated_at", "name", "type", "character_limit"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestFindDue_LoadsPostsWithAttemptsInOneSnapshot(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostRepository(db)

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, user_id, title.*FROM posts\s+WHERE status = \$1\s+AND scheduled_time <= \$2\s+ORDER BY scheduled_time ASC`).
		WithArgs(models.PostStatusScheduled, now).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(int64(1), int64(7), "Launch", "hello", nil, due, "UTC", "scheduled", nil, nil, nil, due, due).
			AddRow(int64(2), int64(7), "Follow up", "again", "posts/a.png", due, "Europe/Berlin", "scheduled", nil, nil, nil, due, due))
	mock.ExpectQuery(`FROM post_platforms pp\s+JOIN platforms pl ON pl.id = pp.platform_id\s+WHERE pp.post_id = ANY\(\$1\)`).
		WithArgs(pq.Array([]int64{1, 2})).
		WillReturnRows(sqlmock.NewRows(attemptCols).
			AddRow(int64(1), int64(10), "pending", "", 0, due, due, "Twitter Platform", "twitter", 280).
			AddRow(int64(1), int64(11), "pending", "", 0, due, due, "LinkedIn Platform", "linkedin", 1300).
			AddRow(int64(2), int64(10), "failed", "timeout", 1, due, due, "Twitter Platform", "twitter", 280))
	mock.ExpectCommit()

	posts, err := repo.FindDue(context.Background(), now, 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, models.PostStatusScheduled, posts[0].Status)
	assert.Equal(t, "", posts[0].ImageURL)
	require.NotNil(t, posts[0].ScheduledTime)
	assert.True(t, posts[0].ScheduledTime.Equal(due))
	require.Len(t, posts[0].Attempts, 2)
	assert.Equal(t, "linkedin", posts[0].Attempts[1].Platform.Type)
	assert.Equal(t, int64(11), posts[0].Attempts[1].Platform.ID)

	assert.Equal(t, "posts/a.png", posts[1].ImageURL)
	require.Len(t, posts[1].Attempts, 1)
	assert.Equal(t, models.AttemptStatusFailed, posts[1].Attempts[0].Status)
	assert.Equal(t, 1, posts[1].Attempts[0].AttemptCount)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDue_WithLimit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostRepository(db)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`LIMIT \$3`).
		WithArgs(models.PostStatusScheduled, now, 25).
		WillReturnRows(sqlmock.NewRows(postCols))
	mock.ExpectCommit()

	posts, err := repo.FindDue(context.Background(), now, 25)
	require.NoError(t, err)
	assert.Empty(t, posts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDue_QueryErrorRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostRepository(db)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM posts`).WillReturnError(errors.New("connection refused"))
	mock.ExpectRollback()

	_, err := repo.FindDue(context.Background(), now, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query due posts")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	t.Run("claimed", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE posts\s+SET status = 'publishing'.*WHERE id = \$1\s+AND status = 'scheduled'`).
			WithArgs(int64(5), "run_a", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewPostRepository(db).Claim(context.Background(), 5, "run_a", now)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already claimed", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE posts\s+SET status = 'publishing'`).
			WithArgs(int64(5), "run_b", now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := NewPostRepository(db).Claim(context.Background(), 5, "run_b", now)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkPublished(t *testing.T) {
	at := time.Date(2026, 10, 15, 12, 0, 5, 0, time.UTC)

	t.Run("holds claim", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE posts\s+SET status = 'published',\s+published_at = \$3.*AND claim_token = \$2`).
			WithArgs(int64(5), "run_a", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewPostRepository(db).MarkPublished(context.Background(), 5, "run_a", at))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim lost", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE posts\s+SET status = 'published'`).
			WithArgs(int64(5), "run_a", at).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewPostRepository(db).MarkPublished(context.Background(), 5, "run_a", at)
		assert.ErrorIs(t, err, ErrClaimLost)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReleaseAndReleaseStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostRepository(db)
	before := time.Date(2026, 10, 15, 11, 45, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE posts\s+SET status = 'scheduled'.*WHERE id = \$1\s+AND status = 'publishing'\s+AND claim_token = \$2`).
		WithArgs(int64(3), "run_a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE posts\s+SET status = 'scheduled'.*WHERE status = 'publishing'\s+AND claimed_at < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.Release(context.Background(), 3, "run_a"))
	n, err := repo.ReleaseStale(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishStale_OnlyPostsWithoutPendingAttempts(t *testing.T) {
	db, mock := newMock(t)
	before := time.Date(2026, 10, 15, 11, 45, 0, 0, time.UTC)
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE posts p\s+SET status = 'published'.*WHERE p.status = 'publishing'\s+AND p.claimed_at < \$1\s+AND NOT EXISTS \(\s+SELECT 1 FROM post_platforms pp\s+WHERE pp.post_id = p.id\s+AND pp.platform_status = 'pending'`).
		WithArgs(before, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := NewPostRepository(db).FinishStale(context.Background(), before, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM posts WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	post, err := NewPostRepository(db).GetByID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, post)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUserID_FiltersByStatusAndDate(t *testing.T) {
	db, mock := newMock(t)
	day := time.Date(2026, 10, 20, 15, 30, 0, 0, time.UTC)
	start := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2 AND scheduled_time >= \$3 AND scheduled_time < \$4 ORDER BY created_at DESC`).
		WithArgs(int64(7), models.PostStatusScheduled, start, start.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(int64(1), int64(7), "t", "c", nil, day, "UTC", "scheduled", nil, nil, nil, day, day))
	mock.ExpectQuery(`FROM post_platforms pp`).
		WithArgs(pq.Array([]int64{1})).
		WillReturnRows(sqlmock.NewRows(attemptCols))

	posts, err := NewPostRepository(db).GetByUserID(context.Background(), 7, PostFilter{Status: models.PostStatusScheduled, Date: &day})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Empty(t, posts[0].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_SkipsNonEditablePosts(t *testing.T) {
	db, mock := newMock(t)
	when := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	post := &models.Post{ID: 4, Title: "t", Content: "c", ScheduledTime: &when, Timezone: "UTC", Status: models.PostStatusScheduled}

	mock.ExpectExec(`UPDATE posts\s+SET title = \$2.*AND status IN \('draft', 'scheduled'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewPostRepository(db).Update(context.Background(), nil, post)
	assert.ErrorIs(t, err, ErrPostNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemove_RefusesInFlightPosts(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM posts WHERE id = \$1 AND status <> 'publishing'`).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewPostRepository(db).Remove(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountScheduledOn(t *testing.T) {
	db, mock := newMock(t)
	day := time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	start := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM posts`).
		WithArgs(int64(7), start, start.Add(24*time.Hour), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	n, err := NewPostRepository(db).CountScheduledOn(context.Background(), 7, day, 0)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
