// Package reconcile detects and corrects XP drift between the progression
// store and the legacy economy store.
//
// Correction is last-writer-wins: a write to either store between a check
// and a synchronization can be overwritten. The stores are not expected to
// be written concurrently at high rates.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/levelup/internal/adapters/economy"
	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// Status classifies the drift between the two stores.
type Status string

const (
	StatusNoCommonUsers Status = "no_common_users"
	StatusSynchronized  Status = "synchronized"
	StatusMinorDesync   Status = "minor_desync"
	StatusMajorDesync   Status = "major_desync"
)

// Direction names the source and target of a synchronization.
type Direction string

const (
	ProgressionToEconomy Direction = "progression_to_economy"
	EconomyToProgression Direction = "economy_to_progression"
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case ProgressionToEconomy, EconomyToProgression:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// ProgressionStore is the progression side of the reconciliation.
type ProgressionStore interface {
	Snapshot(ctx context.Context) repository.State
	Batch(ctx context.Context, fn func(tx *repository.Tx) error) error
}

// EconomyStore is the economy side of the reconciliation.
type EconomyStore interface {
	List(ctx context.Context) ([]economy.Record, error)
	SetXP(ctx context.Context, userID, guildID string, xp int64) error
}

// Checkpointer takes a labeled backup and returns its id.
type Checkpointer interface {
	Checkpoint(ctx context.Context, label string) (string, error)
}

// Drift is one member whose XP differs beyond tolerance.
type Drift struct {
	GuildID       string `json:"guildId"`
	UserID        string `json:"userId"`
	ProgressionXP int64  `json:"progressionXp"`
	EconomyXP     int64  `json:"economyXp"`
	Difference    int64  `json:"difference"`
}

// Report is the result of a status check.
type Report struct {
	Status           Status    `json:"status"`
	Tolerance        int64     `json:"tolerance"`
	ProgressionUsers int       `json:"progressionUsers"`
	EconomyUsers     int       `json:"economyUsers"`
	CommonUsers      int       `json:"commonUsers"`
	Desynced         int       `json:"desynced"`
	Ratio            float64   `json:"ratio"`
	Drifts           []Drift   `json:"drifts,omitempty"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// Err returns ErrSyncConflict when the report found drift.
func (r Report) Err() error {
	if r.Desynced == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d common users", ErrSyncConflict, r.Desynced, r.CommonUsers)
}

// Outcome is the result of a synchronization.
type Outcome struct {
	Direction Direction `json:"direction"`
	BackupID  string    `json:"backupId"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
}

// Reconciler compares and synchronizes the two stores.
type Reconciler struct {
	progression ProgressionStore
	economy     EconomyStore
	checkpoint  Checkpointer
	tolerance   int64
	clock       clock.Clock
	logger      logger.Logger
}

// New creates a Reconciler.
func New(progressionStore ProgressionStore, economyStore EconomyStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		progression: progressionStore,
		economy:     economyStore,
		tolerance:   DefaultTolerance,
		clock:       clock.Real(),
		logger:      logger.Get().Named("reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCheckpointer sets the pre-sync backup after construction. The backup
// manager depends on the reconciler for status, so one of them is wired late.
func (r *Reconciler) SetCheckpointer(c Checkpointer) {
	r.checkpoint = c
}

// Tolerance returns the configured drift tolerance.
func (r *Reconciler) Tolerance() int64 { return r.tolerance }

func economyIndex(records []economy.Record) map[progression.Key]economy.Record {
	idx := make(map[progression.Key]economy.Record, len(records))
	for _, rec := range records {
		idx[progression.Key{GuildID: rec.GuildID, UserID: rec.UserID}] = rec
	}
	return idx
}

// CheckStatus compares the XP of every member present in both stores.
func (r *Reconciler) CheckStatus(ctx context.Context) (Report, error) {
	econ, err := r.economy.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list economy records: %w", err)
	}
	state := r.progression.Snapshot(ctx)
	idx := economyIndex(econ)

	report := Report{
		Tolerance:        r.tolerance,
		ProgressionUsers: len(state.Records),
		EconomyUsers:     len(econ),
		CheckedAt:        r.clock.Now().UTC(),
	}
	for _, rec := range state.Records {
		other, ok := idx[rec.Key()]
		if !ok {
			continue
		}
		report.CommonUsers++
		diff := other.XP - rec.XP
		if abs(diff) > r.tolerance {
			report.Drifts = append(report.Drifts, Drift{
				GuildID:       rec.GuildID,
				UserID:        rec.UserID,
				ProgressionXP: rec.XP,
				EconomyXP:     other.XP,
				Difference:    diff,
			})
		}
	}
	sort.Slice(report.Drifts, func(i, j int) bool {
		return abs(report.Drifts[i].Difference) > abs(report.Drifts[j].Difference)
	})
	report.Desynced = len(report.Drifts)

	switch {
	case report.CommonUsers == 0:
		report.Status = StatusNoCommonUsers
	case report.Desynced == 0:
		report.Status = StatusSynchronized
	default:
		report.Ratio = float64(report.Desynced) / float64(report.CommonUsers)
		if report.Ratio > 0.5 {
			report.Status = StatusMajorDesync
		} else {
			report.Status = StatusMinorDesync
		}
	}
	metrics.UpdateSyncStatus(string(report.Status), report.Ratio)
	if err := report.Err(); err != nil {
		r.logger.Warn(ctx, "store drift detected", logger.String("status", string(report.Status)), logger.Error(err))
	}
	return report, nil
}

// Synchronize overwrites the target store's XP with the source's for every
// member present in both. A backup is taken first; if it fails nothing is
// written. Progression levels are recomputed from the copied XP.
func (r *Reconciler) Synchronize(ctx context.Context, direction Direction) (Outcome, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Direction: direction}
	if r.checkpoint == nil {
		return out, fmt.Errorf("%w: no backup configured", ErrBackupFailed)
	}
	id, err := r.checkpoint.Checkpoint(ctx, "pre-sync-"+string(direction))
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	out.BackupID = id

	econ, err := r.economy.List(ctx)
	if err != nil {
		return out, fmt.Errorf("list economy records: %w", err)
	}

	switch direction {
	case ProgressionToEconomy:
		err = r.intoEconomy(ctx, econ, &out)
	case EconomyToProgression:
		err = r.intoProgression(ctx, econ, &out)
	}
	metrics.RecordSyncUpdates(string(direction), out.Updated, out.Failed)
	r.logger.Info(ctx, "stores synchronized",
		logger.String("direction", string(direction)),
		logger.String("backup", out.BackupID),
		logger.Int("updated", out.Updated),
		logger.Int("failed", out.Failed),
	)
	return out, err
}

func (r *Reconciler) intoEconomy(ctx context.Context, econ []economy.Record, out *Outcome) error {
	idx := economyIndex(econ)
	for _, rec := range r.progression.Snapshot(ctx).Records {
		other, ok := idx[rec.Key()]
		if !ok {
			continue
		}
		if other.XP == rec.XP {
			out.Unchanged++
			continue
		}
		if err := r.economy.SetXP(ctx, other.UserID, other.GuildID, rec.XP); err != nil {
			out.Failed++
			r.logger.Error(ctx, "economy xp not updated", logger.String("key", rec.Key().String()), logger.Error(err))
			continue
		}
		out.Updated++
	}
	return nil
}

func (r *Reconciler) intoProgression(ctx context.Context, econ []economy.Record, out *Outcome) error {
	updated, unchanged := 0, 0
	err := r.progression.Batch(ctx, func(tx *repository.Tx) error {
		for _, other := range econ {
			key := progression.Key{GuildID: other.GuildID, UserID: other.UserID}
			rec, ok := tx.Get(key)
			if !ok {
				continue
			}
			if rec.XP == other.XP {
				unchanged++
				continue
			}
			tx.SetXP(key, other.XP)
			updated++
		}
		return nil
	})
	out.Unchanged = unchanged
	if err != nil {
		out.Failed = updated
		return fmt.Errorf("write progression records: %w", err)
	}
	out.Updated = updated
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
