// Package grant turns activity into XP. It enforces the text cooldown,
// applies voice ticks, exposes the admin overrides and hands level-ups to
// a LevelUpHandler once the new state is persisted.
package grant

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// Source identifies what produced a grant.
type Source string

const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
	SourceAdmin Source = "admin"
)

// Result describes one applied grant.
type Result struct {
	Source    Source `json:"source"`
	GuildID   string `json:"guildId"`
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	TotalXP   int64  `json:"totalXp"`
	OldLevel  int    `json:"oldLevel"`
	NewLevel  int    `json:"newLevel"`
	LeveledUp bool   `json:"leveledUp"`
}

// LevelUp is handed to the LevelUpHandler after a grant raised a level.
type LevelUp struct {
	Key      progression.Key
	OldLevel int
	NewLevel int
	XP       int64
	Source   Source
	Config   progression.Config
}

// LevelUpHandler reacts to persisted level-ups. Its failures never affect
// the grant that triggered it.
type LevelUpHandler interface {
	HandleLevelUp(ctx context.Context, ev LevelUp)
}

// Store is the progression persistence the engine needs.
type Store interface {
	Get(ctx context.Context, key progression.Key) (progression.Record, bool)
	Update(ctx context.Context, key progression.Key, fn progression.Mutation) (before, after progression.Record, err error)
	DeleteUser(ctx context.Context, key progression.Key) (bool, error)
	DeleteGuild(ctx context.Context, guildID string) (int, error)
	Rank(ctx context.Context, key progression.Key) (int, error)
	Config(guildID string) progression.Config
}

// Engine applies XP grants.
type Engine struct {
	store   Store
	clock   clock.Clock
	handler LevelUpHandler
	logger  logger.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	dispatches sync.WaitGroup
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  clock.Real(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.Get().Named("grant"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLevelUpHandler replaces the level-up handler. It must be called
// before grants start flowing.
func (e *Engine) SetLevelUpHandler(h LevelUpHandler) {
	e.handler = h
}

func (e *Engine) draw(cfg progression.TextXP) int64 {
	if cfg.Max <= cfg.Min {
		return cfg.Min
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return cfg.Min + e.rng.Int63n(cfg.Max-cfg.Min+1)
}

func target(guildID, userID string) (progression.Key, error) {
	key := progression.Key{GuildID: guildID, UserID: userID}
	if !key.Valid() {
		return key, fmt.Errorf("%w: guild %q user %q", ErrInvalidTarget, guildID, userID)
	}
	return key, nil
}

// GrantTextXP grants a random amount for one message. It reports false
// without error while the user's cooldown is running.
func (e *Engine) GrantTextXP(ctx context.Context, guildID, userID string) (Result, bool, error) {
	key, err := target(guildID, userID)
	if err != nil {
		return Result{}, false, err
	}
	now := e.clock.Now().UnixMilli()
	var amount int64
	before, after, err := e.store.Update(ctx, key, func(rec *progression.Record, cfg progression.Config) error {
		if rec.LastMessageGrantAt != 0 && now-rec.LastMessageGrantAt < cfg.TextXP.CooldownMs {
			return errOnCooldown
		}
		amount = e.draw(cfg.TextXP)
		rec.AddXP(amount, cfg.LevelFormula)
		rec.TotalMessages++
		rec.LastMessageGrantAt = now
		return nil
	})
	if errors.Is(err, errOnCooldown) {
		metrics.RecordCooldownSkip()
		e.logger.Debug(ctx, "text grant skipped by cooldown", logger.String("key", key.String()))
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, e.fail(ctx, SourceText, key, err)
	}
	return e.complete(ctx, SourceText, key, amount, before, after), true, nil
}

// GrantVoiceXP grants one completed voice tick.
func (e *Engine) GrantVoiceXP(ctx context.Context, guildID, userID string) (Result, error) {
	key, err := target(guildID, userID)
	if err != nil {
		return Result{}, err
	}
	now := e.clock.Now().UnixMilli()
	var amount int64
	before, after, err := e.store.Update(ctx, key, func(rec *progression.Record, cfg progression.Config) error {
		amount = cfg.VoiceXP.AmountPerTick
		rec.AddXP(amount, cfg.LevelFormula)
		rec.TotalVoiceTimeMs += cfg.VoiceXP.TickIntervalMs
		rec.LastVoiceGrantAt = now
		return nil
	})
	if err != nil {
		return Result{}, e.fail(ctx, SourceVoice, key, err)
	}
	return e.complete(ctx, SourceVoice, key, amount, before, after), nil
}

func (e *Engine) fail(ctx context.Context, source Source, key progression.Key, err error) error {
	metrics.RecordGrantFailure(string(source))
	e.logger.Error(ctx, "grant not applied",
		logger.String("source", string(source)),
		logger.String("key", key.String()),
		logger.Error(err),
	)
	return fmt.Errorf("grant %s xp to %s: %w", source, key, err)
}

func (e *Engine) complete(ctx context.Context, source Source, key progression.Key, amount int64, before, after progression.Record) Result {
	res := Result{
		Source:    source,
		GuildID:   key.GuildID,
		UserID:    key.UserID,
		Amount:    amount,
		TotalXP:   after.XP,
		OldLevel:  before.Level,
		NewLevel:  after.Level,
		LeveledUp: after.Level > before.Level,
	}
	metrics.RecordGrant(string(source), amount)
	if res.LeveledUp {
		metrics.RecordLevelUp()
		e.dispatch(ctx, LevelUp{
			Key:      key,
			OldLevel: before.Level,
			NewLevel: after.Level,
			XP:       after.XP,
			Source:   source,
			Config:   e.store.Config(key.GuildID),
		})
	}
	return res
}

// dispatch runs the handler in the background on a context that outlives
// the caller's cancellation.
func (e *Engine) dispatch(ctx context.Context, ev LevelUp) {
	if e.handler == nil {
		return
	}
	e.logger.Info(ctx, "level up",
		logger.String("key", ev.Key.String()),
		logger.Int("oldLevel", ev.OldLevel),
		logger.Int("newLevel", ev.NewLevel),
	)
	detached := context.WithoutCancel(ctx)
	e.dispatches.Add(1)
	go func() {
		defer e.dispatches.Done()
		e.handler.HandleLevelUp(detached, ev)
	}()
}

// Wait blocks until every in-flight level-up dispatch has returned.
func (e *Engine) Wait() {
	e.dispatches.Wait()
}
