package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockPostRepository struct {
	mock.Mock
}

func (m *MockPostRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockPostRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	args := m.Called(ctx, tx, post)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPostRepository) Update(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	args := m.Called(ctx, tx, post)
	return args.Error(0)
}

func (m *MockPostRepository) GetByUserID(ctx context.Context, userID int64, filter repository.PostFilter) ([]*models.Post, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Post), args.Error(1)
}

func (m *MockPostRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	args := m.Called(ctx, postID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPostRepository) CountScheduledOn(ctx context.Context, userID int64, day time.Time, excludePostID int64) (int, error) {
	args := m.Called(ctx, userID, day, excludePostID)
	return args.Int(0), args.Error(1)
}

func (m *MockPostRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Post), args.Error(1)
}

func (m *MockPostRepository) Claim(ctx context.Context, postID int64, token string, now time.Time) (bool, error) {
	args := m.Called(ctx, postID, token, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockPostRepository) Release(ctx context.Context, postID int64, token string) error {
	return m.Called(ctx, postID, token).Error(0)
}

func (m *MockPostRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	args := m.Called(ctx, claimedBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPostRepository) FinishStale(ctx context.Context, claimedBefore, at time.Time) (int64, error) {
	args := m.Called(ctx, claimedBefore, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPostRepository) MarkPublished(ctx context.Context, postID int64, token string, at time.Time) error {
	return m.Called(ctx, postID, token, at).Error(0)
}

func (m *MockPostRepository) Remove(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(ctx context.Context, tx *sql.Tx, postID int64, platformIDs []int64) error {
	return m.Called(ctx, tx, postID, platformIDs).Error(0)
}

func (m *MockAttemptRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PlatformAttempt, error) {
	args := m.Called(ctx, postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PlatformAttempt), args.Error(1)
}

func (m *MockAttemptRepository) UpdateStatus(ctx context.Context, postID, platformID int64, status models.AttemptStatus, lastError string, at time.Time) error {
	return m.Called(ctx, postID, platformID, status, lastError, at).Error(0)
}

func (m *MockAttemptRepository) FailPending(ctx context.Context, postID int64, platformIDs []int64, reason string, at time.Time) (int64, error) {
	args := m.Called(ctx, postID, platformIDs, reason, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAttemptRepository) Remove(ctx context.Context, tx *sql.Tx, postID int64, platformIDs []int64) error {
	return m.Called(ctx, tx, postID, platformIDs).Error(0)
}

type MockPlatformRepository struct {
	mock.Mock
}

func (m *MockPlatformRepository) GetByID(ctx context.Context, id int64) (*models.Platform, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Platform), args.Error(1)
}

func (m *MockPlatformRepository) List(ctx context.Context) ([]*models.Platform, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Platform), args.Error(1)
}

func (m *MockPlatformRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Platform, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Platform), args.Error(1)
}

func (m *MockPlatformRepository) Upsert(ctx context.Context, p *models.Platform) (int64, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(int64), args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) SchedulePost(ctx context.Context, postID int64, at time.Time) error {
	return m.Called(ctx, postID, at).Error(0)
}
