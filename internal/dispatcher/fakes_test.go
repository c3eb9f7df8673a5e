package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/repository"
)

// memStore is an in-memory PostStore and AttemptStore with the same
// conditional-update semantics as the postgres repositories.
type memStore struct {
	mu    sync.Mutex
	posts map[int64]*models.Post

	findErr        error
	claimErr       map[int64]error
	updateErr      map[[2]int64]error
	markFailures   int
	markCalls      int
	publishedFlips map[int64]int
}

func newMemStore() *memStore {
	return &memStore{
		posts:          make(map[int64]*models.Post),
		claimErr:       make(map[int64]error),
		updateErr:      make(map[[2]int64]error),
		publishedFlips: make(map[int64]int),
	}
}

func (s *memStore) add(p *models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range p.Attempts {
		a.PostID = p.ID
		if a.Platform != nil {
			a.PlatformID = a.Platform.ID
		}
	}
	s.posts[p.ID] = p
}

func clonePost(p *models.Post) *models.Post {
	cp := *p
	cp.Attempts = make([]*models.PlatformAttempt, len(p.Attempts))
	for i, a := range p.Attempts {
		ac := *a
		cp.Attempts[i] = &ac
	}
	return &cp
}

func (s *memStore) get(id int64) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		return clonePost(p)
	}
	return nil
}

func (s *memStore) attempt(postID, platformID int64) *models.PlatformAttempt {
	p := s.get(postID)
	for _, a := range p.Attempts {
		if a.PlatformID == platformID {
			return a
		}
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*models.Post, error) {
	return s.get(id), nil
}

func (s *memStore) FindDue(_ context.Context, now time.Time, limit int) ([]*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var due []*models.Post
	for _, p := range s.posts {
		if p.Status == models.PostStatusScheduled && p.ScheduledTime != nil && !p.ScheduledTime.After(now) {
			due = append(due, clonePost(p))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) Claim(_ context.Context, postID int64, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claimErr[postID]; err != nil {
		return false, err
	}
	p, ok := s.posts[postID]
	if !ok || p.Status != models.PostStatusScheduled || p.ScheduledTime == nil || p.ScheduledTime.After(now) {
		return false, nil
	}
	p.Status = models.PostStatusPublishing
	p.ClaimToken = token
	claimed := now
	p.ClaimedAt = &claimed
	return true, nil
}

func (s *memStore) Release(_ context.Context, postID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok || p.Status != models.PostStatusPublishing || p.ClaimToken != token {
		return repository.ErrClaimLost
	}
	p.Status = models.PostStatusScheduled
	p.ClaimToken = ""
	p.ClaimedAt = nil
	return nil
}

func (s *memStore) ReleaseStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.posts {
		if p.Status == models.PostStatusPublishing && p.ClaimedAt != nil && p.ClaimedAt.Before(before) {
			p.Status = models.PostStatusScheduled
			p.ClaimToken = ""
			p.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) FinishStale(_ context.Context, before, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
outer:
	for _, p := range s.posts {
		if p.Status != models.PostStatusPublishing || p.ClaimedAt == nil || !p.ClaimedAt.Before(before) {
			continue
		}
		for _, a := range p.Attempts {
			if a.Status == models.AttemptStatusPending {
				continue outer
			}
		}
		p.Status = models.PostStatusPublished
		published := at
		p.PublishedAt = &published
		p.ClaimToken = ""
		p.ClaimedAt = nil
		s.publishedFlips[p.ID]++
		n++
	}
	return n, nil
}

func (s *memStore) MarkPublished(_ context.Context, postID int64, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markFailures > 0 {
		s.markFailures--
		return errors.New("connection reset by peer")
	}
	p, ok := s.posts[postID]
	if !ok || p.Status != models.PostStatusPublishing || p.ClaimToken != token {
		return repository.ErrClaimLost
	}
	p.Status = models.PostStatusPublished
	published := at
	p.PublishedAt = &published
	p.ClaimToken = ""
	p.ClaimedAt = nil
	s.publishedFlips[postID]++
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, postID, platformID int64, status models.AttemptStatus, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[[2]int64{postID, platformID}]; err != nil {
		return err
	}
	p, ok := s.posts[postID]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	for _, a := range p.Attempts {
		if a.PlatformID == platformID {
			a.Status = status
			a.LastError = lastError
			a.AttemptCount++
			a.UpdatedAt = at
			return nil
		}
	}
	return repository.ErrAttemptNotFound
}

func (s *memStore) FailPending(_ context.Context, postID int64, platformIDs []int64, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return 0, nil
	}
	want := make(map[int64]bool, len(platformIDs))
	for _, id := range platformIDs {
		want[id] = true
	}
	var n int64
	for _, a := range p.Attempts {
		if want[a.PlatformID] && a.Status != models.AttemptStatusPublished {
			a.Status = models.AttemptStatusFailed
			a.LastError = reason
			a.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// laggingStore hands out its selection snapshot and then lets afterFind
// change the stored posts before the dispatcher claims them.
type laggingStore struct {
	*memStore
	afterFind func(s *memStore)
}

func (s *laggingStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	due, err := s.memStore.FindDue(ctx, now, limit)
	if err == nil && s.afterFind != nil {
		s.mu.Lock()
		s.afterFind(s.memStore)
		s.mu.Unlock()
	}
	return due, err
}

// scriptedAdapter returns whatever fn says and counts calls.
type scriptedAdapter struct {
	typ   string
	limit int
	fn    func(ctx context.Context, post *models.Post) error
	calls atomic.Int64
}

func (a *scriptedAdapter) Type() string        { return a.typ }
func (a *scriptedAdapter) CharacterLimit() int { return a.limit }

func (a *scriptedAdapter) Publish(ctx context.Context, post *models.Post) error {
	a.calls.Add(1)
	if a.fn == nil {
		return nil
	}
	return a.fn(ctx, post)
}

func succeed(typ string) *scriptedAdapter {
	return &scriptedAdapter{typ: typ, limit: 10000}
}

func fail(typ string, err error) *scriptedAdapter {
	return &scriptedAdapter{typ: typ, limit: 10000, fn: func(context.Context, *models.Post) error { return err }}
}

type fakeLocker struct {
	held       bool
	err        error
	acquired   int
	released   int
	lastToken  string
	releaseErr error
}

func (l *fakeLocker) Acquire(_ context.Context, token string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	l.acquired++
	l.lastToken = token
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, token string) error {
	if token != l.lastToken {
		return fmt.Errorf("release with foreign token %q", token)
	}
	l.held = false
	l.released++
	return l.releaseErr
}

type prefixResolver struct{ base string }

func (r prefixResolver) Resolve(_ context.Context, ref string) (string, error) {
	return r.base + ref, nil
}
