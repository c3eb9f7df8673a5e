package platform

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/maheshrc27/postpublisher/internal/models"
)

const (
	DefaultFailureRate = 0.4
	DefaultLatency     = time.Second
)

// Float64er is satisfied by *rand.Rand from math/rand and math/rand/v2.
type Float64er interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Simulated stands in for a real platform API. Each publish waits for a fixed
// latency and then fails with probability failureRate.
type Simulated struct {
	platformType string
	limit        int
	failureRate  float64
	latency      time.Duration

	mu  sync.Mutex
	rnd Float64er
}

type Option func(*Simulated)

func WithFailureRate(rate float64) Option {
	return func(s *Simulated) {
		switch {
		case rate < 0:
			rate = 0
		case rate > 1:
			rate = 1
		}
		s.failureRate = rate
	}
}

func WithLatency(d time.Duration) Option {
	return func(s *Simulated) {
		if d < 0 {
			d = 0
		}
		s.latency = d
	}
}

// WithRand injects the randomness source, mostly for tests.
func WithRand(r Float64er) Option {
	return func(s *Simulated) { s.rnd = r }
}

func NewSimulated(platformType string, characterLimit int, opts ...Option) *Simulated {
	s := &Simulated{
		platformType: platformType,
		limit:        characterLimit,
		failureRate:  DefaultFailureRate,
		latency:      DefaultLatency,
		rnd:          globalRand{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Type() string        { return s.platformType }
func (s *Simulated) CharacterLimit() int { return s.limit }

func (s *Simulated) Publish(ctx context.Context, post *models.Post) error {
	if err := CheckContent(s, post.Content); err != nil {
		return err
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if s.roll() < s.failureRate {
		return ErrSimulatedFailure
	}
	return nil
}

func (s *Simulated) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}
