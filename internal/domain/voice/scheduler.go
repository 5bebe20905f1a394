// Package voice accrues XP for members connected to voice channels. Each
// connected member owns exactly one timer; every completed interval is
// one grant and partial intervals grant nothing.
package voice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/levelup/internal/domain/grant"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// Granter applies one voice tick.
type Granter interface {
	GrantVoiceXP(ctx context.Context, guildID, userID string) (grant.Result, error)
}

// ConfigSource resolves a guild's effective progression config.
type ConfigSource interface {
	Config(guildID string) progression.Config
}

// Transition is the effect of a voice state change.
type Transition string

const (
	TransitionNone    Transition = "none"
	TransitionStarted Transition = "started"
	TransitionStopped Transition = "stopped"
)

// Session describes one accruing member.
type Session struct {
	GuildID   string        `json:"guildId"`
	UserID    string        `json:"userId"`
	StartedAt time.Time     `json:"startedAt"`
	Interval  time.Duration `json:"interval"`
	Ticks     int64         `json:"ticks"`
}

type session struct {
	Session
	ctx   context.Context
	next  time.Time
	timer clock.Timer
}

// Scheduler owns the per-member accrual timers.
type Scheduler struct {
	granter Granter
	configs ConfigSource
	clock   clock.Clock
	logger  logger.Logger

	mu       sync.Mutex
	sessions map[progression.Key]*session
	closed   bool
}

// NewScheduler creates a Scheduler feeding granter.
func NewScheduler(granter Granter, configs ConfigSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		granter:  granter,
		configs:  configs,
		clock:    clock.Real(),
		logger:   logger.Get().Named("voice"),
		sessions: make(map[progression.Key]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleVoiceState applies a presence change. An empty channel id means
// "not connected". Moving between channels changes nothing.
func (s *Scheduler) HandleVoiceState(ctx context.Context, guildID, userID, oldChannel, newChannel string) (Transition, error) {
	switch {
	case oldChannel == "" && newChannel != "":
		if err := s.Start(ctx, guildID, userID); err != nil {
			return TransitionNone, err
		}
		return TransitionStarted, nil
	case oldChannel != "" && newChannel == "":
		if s.Stop(ctx, guildID, userID) {
			return TransitionStopped, nil
		}
	}
	return TransitionNone, nil
}

// Start begins accrual for a member, replacing any running timer.
func (s *Scheduler) Start(ctx context.Context, guildID, userID string) error {
	key := progression.Key{GuildID: guildID, UserID: userID}
	if !key.Valid() {
		return fmt.Errorf("%w: %q", progression.ErrInvalidKey, key.String())
	}
	interval := s.configs.Config(guildID).VoiceXP.TickInterval()
	if interval <= 0 {
		return fmt.Errorf("%w: voice tick interval %v", progression.ErrConfig, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.sessions[key]; ok {
		prev.timer.Stop()
	}
	now := s.clock.Now()
	sess := &session{
		Session: Session{GuildID: guildID, UserID: userID, StartedAt: now, Interval: interval},
		ctx:     context.WithoutCancel(ctx),
		next:    now.Add(interval),
	}
	sess.timer = s.clock.AfterFunc(interval, func() { s.tick(key, sess) })
	s.sessions[key] = sess
	metrics.UpdateVoiceSessions(len(s.sessions))
	s.logger.Debug(ctx, "voice accrual started", logger.String("key", key.String()), logger.Duration("interval", interval))
	return nil
}

// Stop cancels a member's timer. It reports whether one was running. When
// Stop returns, no further tick of that session can be scheduled.
func (s *Scheduler) Stop(ctx context.Context, guildID, userID string) bool {
	key := progression.Key{GuildID: guildID, UserID: userID}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return false
	}
	delete(s.sessions, key)
	sess.timer.Stop()
	metrics.UpdateVoiceSessions(len(s.sessions))
	s.logger.Debug(ctx, "voice accrual stopped", logger.String("key", key.String()), logger.Int64("ticks", sess.Ticks))
	return true
}

func (s *Scheduler) current(key progression.Key, sess *session) bool {
	cur, ok := s.sessions[key]
	return ok && cur == sess
}

// tick grants one interval and schedules the next boundary relative to
// the previous one so timer latency does not accumulate.
func (s *Scheduler) tick(key progression.Key, sess *session) {
	s.mu.Lock()
	if !s.current(key, sess) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	metrics.RecordVoiceTick()
	if _, err := s.granter.GrantVoiceXP(sess.ctx, key.GuildID, key.UserID); err != nil {
		s.logger.Warn(sess.ctx, "voice tick not granted", logger.String("key", key.String()), logger.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(key, sess) {
		return
	}
	sess.Ticks++
	sess.next = sess.next.Add(sess.Interval)
	delay := sess.next.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	sess.timer = s.clock.AfterFunc(delay, func() { s.tick(key, sess) })
}

// IsAccruing reports whether a member has a live timer.
func (s *Scheduler) IsAccruing(guildID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[progression.Key{GuildID: guildID, UserID: userID}]
	return ok
}

// Active returns the accruing members sorted by key.
func (s *Scheduler) Active() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Session)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Close cancels every timer and rejects further starts. In-flight
// sessions are dropped without any partial grant.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sess := range s.sessions {
		sess.timer.Stop()
		delete(s.sessions, key)
	}
	s.closed = true
	metrics.UpdateVoiceSessions(0)
}
