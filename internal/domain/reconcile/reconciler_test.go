package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/levelup/internal/adapters/economy"
	"github.com/okian/levelup/internal/adapters/kvstore"
	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reconcile"
	"github.com/okian/levelup/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type fakeCheckpointer struct {
	labels []string
	err    error
}

func (c *fakeCheckpointer) Checkpoint(_ context.Context, label string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.labels = append(c.labels, label)
	return fmt.Sprintf("snap-%d", len(c.labels)), nil
}

func seedProgression(ctx context.Context, store *repository.ProgressionStore, guild, user string, xp int64) {
	_, _, err := store.Update(ctx, progression.Key{GuildID: guild, UserID: user}, func(rec *progression.Record, cfg progression.Config) error {
		rec.SetXP(xp, cfg.LevelFormula)
		return nil
	})
	So(err, ShouldBeNil)
}

func TestReconciler(t *testing.T) {
	Convey("Given a progression store and an economy database", t, func() {
		ctx := context.Background()
		kv := kvstore.NewMemoryStore()
		store, err := repository.Open(ctx, kv)
		So(err, ShouldBeNil)
		econ, err := economy.Open(ctx, filepath.Join(t.TempDir(), "economy.db"))
		So(err, ShouldBeNil)
		Reset(func() { _ = econ.Close() })
		checkpoints := &fakeCheckpointer{}
		r := reconcile.New(store, econ, reconcile.WithCheckpointer(checkpoints))

		Convey("With no overlap the status is no_common_users", func() {
			seedProgression(ctx, store, "g1", "u1", 10)
			So(econ.Upsert(ctx, economy.Record{UserID: "u2", GuildID: "g1", XP: 10}), ShouldBeNil)
			report, err := r.CheckStatus(ctx)
			So(err, ShouldBeNil)
			So(report.Status, ShouldEqual, reconcile.StatusNoCommonUsers)
			So(report.Err(), ShouldBeNil)
		})

		Convey("Drift within tolerance counts as synchronized", func() {
			seedProgression(ctx, store, "g1", "u1", 100)
			So(econ.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 110}), ShouldBeNil)
			report, err := r.CheckStatus(ctx)
			So(err, ShouldBeNil)
			So(report.Status, ShouldEqual, reconcile.StatusSynchronized)
			So(report.CommonUsers, ShouldEqual, 1)
		})

		Convey("Economy 500 against progression 100", func() {
			seedProgression(ctx, store, "g1", "u1", 100)
			So(econ.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 500, Balance: 9}), ShouldBeNil)

			report, err := r.CheckStatus(ctx)
			So(err, ShouldBeNil)
			So(report.Status, ShouldEqual, reconcile.StatusMajorDesync)
			So(report.Desynced, ShouldEqual, 1)
			So(report.Drifts[0].Difference, ShouldEqual, 400)
			So(errors.Is(report.Err(), reconcile.ErrSyncConflict), ShouldBeTrue)

			Convey("Synchronizing into progression copies xp and recomputes level", func() {
				out, err := r.Synchronize(ctx, reconcile.EconomyToProgression)
				So(err, ShouldBeNil)
				So(out.Updated, ShouldEqual, 1)
				So(out.Failed, ShouldEqual, 0)
				So(out.BackupID, ShouldEqual, "snap-1")
				So(checkpoints.labels, ShouldResemble, []string{"pre-sync-economy_to_progression"})

				rec, _ := store.Get(ctx, progression.Key{GuildID: "g1", UserID: "u1"})
				So(rec.XP, ShouldEqual, 500)
				So(rec.Level, ShouldEqual, 3)

				report, err := r.CheckStatus(ctx)
				So(err, ShouldBeNil)
				So(report.Status, ShouldEqual, reconcile.StatusSynchronized)
			})

			Convey("Synchronizing into economy copies xp and keeps balance", func() {
				out, err := r.Synchronize(ctx, reconcile.ProgressionToEconomy)
				So(err, ShouldBeNil)
				So(out.Updated, ShouldEqual, 1)
				rec, err := econ.Get(ctx, "u1", "g1")
				So(err, ShouldBeNil)
				So(rec.XP, ShouldEqual, 100)
				So(rec.Balance, ShouldEqual, 9)
			})

			Convey("A failed backup aborts before any write", func() {
				checkpoints.err = errors.New("disk full")
				_, err := r.Synchronize(ctx, reconcile.EconomyToProgression)
				So(errors.Is(err, reconcile.ErrBackupFailed), ShouldBeTrue)
				rec, _ := store.Get(ctx, progression.Key{GuildID: "g1", UserID: "u1"})
				So(rec.XP, ShouldEqual, 100)
			})

			Convey("A failed progression save counts every pending update as failed", func() {
				kv.FailSaves(repository.KeyProgression, errors.New("disk full"))
				out, err := r.Synchronize(ctx, reconcile.EconomyToProgression)
				So(errors.Is(err, repository.ErrPersistence), ShouldBeTrue)
				So(out.Failed, ShouldEqual, 1)
				So(out.Updated, ShouldEqual, 0)
			})
		})

		Convey("Half the users drifting is a minor desync", func() {
			seedProgression(ctx, store, "g1", "u1", 100)
			seedProgression(ctx, store, "g1", "u2", 100)
			So(econ.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 100}), ShouldBeNil)
			So(econ.Upsert(ctx, economy.Record{UserID: "u2", GuildID: "g1", XP: 300}), ShouldBeNil)
			report, err := r.CheckStatus(ctx)
			So(err, ShouldBeNil)
			So(report.Status, ShouldEqual, reconcile.StatusMinorDesync)
			So(report.Ratio, ShouldEqual, 0.5)

			out, err := r.Synchronize(ctx, reconcile.EconomyToProgression)
			So(err, ShouldBeNil)
			So(out.Updated, ShouldEqual, 1)
			So(out.Unchanged, ShouldEqual, 1)
		})

		Convey("Unknown directions are rejected", func() {
			_, err := r.Synchronize(ctx, reconcile.Direction("sideways"))
			So(errors.Is(err, reconcile.ErrInvalidDirection), ShouldBeTrue)
			So(checkpoints.labels, ShouldBeEmpty)
		})

		Convey("A custom tolerance changes classification", func() {
			strict := reconcile.New(store, econ, reconcile.WithTolerance(0))
			seedProgression(ctx, store, "g1", "u1", 100)
			So(econ.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 101}), ShouldBeNil)
			report, err := strict.CheckStatus(ctx)
			So(err, ShouldBeNil)
			So(report.Status, ShouldEqual, reconcile.StatusMajorDesync)
			So(strict.Tolerance(), ShouldEqual, 0)
		})
	})
}
