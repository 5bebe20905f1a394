package grant

import (
	"context"
	"fmt"

	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/logger"
)

// Admin overrides recompute the level and persist in one store update.
// They never trigger level-up rewards.

// SetXP replaces a user's XP.
func (e *Engine) SetXP(ctx context.Context, guildID, userID string, xp int64) (Result, error) {
	if xp < 0 {
		return Result{}, fmt.Errorf("%w: negative xp %d", ErrInvalidTarget, xp)
	}
	return e.override(ctx, guildID, userID, func(progression.Record, progression.Formula) (int64, error) {
		return xp, nil
	})
}

// SetLevel moves a user to the first XP of level.
func (e *Engine) SetLevel(ctx context.Context, guildID, userID string, level int) (Result, error) {
	if level < 1 || level > progression.MaxLevel {
		return Result{}, fmt.Errorf("%w: level %d", ErrInvalidTarget, level)
	}
	return e.override(ctx, guildID, userID, func(_ progression.Record, f progression.Formula) (int64, error) {
		return f.Threshold(level), nil
	})
}

// AddLevels moves a user n levels up, or down when n is negative, landing
// on the first XP of the resulting level. The result never drops below level 1.
func (e *Engine) AddLevels(ctx context.Context, guildID, userID string, n int) (Result, error) {
	return e.override(ctx, guildID, userID, func(rec progression.Record, f progression.Formula) (int64, error) {
		level := rec.Level + n
		if level < 1 {
			level = 1
		}
		if level > progression.MaxLevel {
			return 0, fmt.Errorf("%w: level %d", ErrInvalidTarget, level)
		}
		return f.Threshold(level), nil
	})
}

func (e *Engine) override(ctx context.Context, guildID, userID string, xpFor func(progression.Record, progression.Formula) (int64, error)) (Result, error) {
	key, err := target(guildID, userID)
	if err != nil {
		return Result{}, err
	}
	before, after, err := e.store.Update(ctx, key, func(rec *progression.Record, cfg progression.Config) error {
		xp, err := xpFor(*rec, cfg.LevelFormula)
		if err != nil {
			return err
		}
		rec.SetXP(xp, cfg.LevelFormula)
		return nil
	})
	if err != nil {
		return Result{}, e.fail(ctx, SourceAdmin, key, err)
	}
	e.logger.Info(ctx, "progress overridden",
		logger.String("key", key.String()),
		logger.Int64("xp", after.XP),
		logger.Int("level", after.Level),
	)
	return Result{
		Source:    SourceAdmin,
		GuildID:   guildID,
		UserID:    userID,
		Amount:    after.XP - before.XP,
		TotalXP:   after.XP,
		OldLevel:  before.Level,
		NewLevel:  after.Level,
		LeveledUp: after.Level > before.Level,
	}, nil
}

// ResetUser deletes a user's record. It reports whether one existed.
func (e *Engine) ResetUser(ctx context.Context, guildID, userID string) (bool, error) {
	key, err := target(guildID, userID)
	if err != nil {
		return false, err
	}
	ok, err := e.store.DeleteUser(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reset %s: %w", key, err)
	}
	e.logger.Info(ctx, "user progress reset", logger.String("key", key.String()), logger.Bool("existed", ok))
	return ok, nil
}

// ResetGuild deletes every record of a guild and returns how many were removed.
func (e *Engine) ResetGuild(ctx context.Context, guildID string) (int, error) {
	if guildID == "" {
		return 0, fmt.Errorf("%w: empty guild", ErrInvalidTarget)
	}
	n, err := e.store.DeleteGuild(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("reset guild %s: %w", guildID, err)
	}
	e.logger.Info(ctx, "guild progress reset", logger.String("guild", guildID), logger.Int("records", n))
	return n, nil
}

// Profile is the informational view of one user's progression.
type Profile struct {
	Record   progression.Record   `json:"record"`
	Progress progression.Progress `json:"progress"`
	Rank     int                  `json:"rank"`
}

// Profile returns a user's record, progress within the level and guild rank.
// Unknown users get a fresh level 1 profile with rank 0.
func (e *Engine) Profile(ctx context.Context, guildID, userID string) (Profile, error) {
	key, err := target(guildID, userID)
	if err != nil {
		return Profile{}, err
	}
	cfg := e.store.Config(guildID)
	rec, ok := e.store.Get(ctx, key)
	if !ok {
		rec = progression.NewRecord(key)
	}
	p := Profile{Record: rec, Progress: cfg.LevelFormula.Progress(rec.XP)}
	if ok {
		if rank, err := e.store.Rank(ctx, key); err == nil {
			p.Rank = rank
		}
	}
	return p, nil
}
