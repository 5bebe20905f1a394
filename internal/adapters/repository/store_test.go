package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/levelup/internal/adapters/kvstore"
	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func key(guild, user string) progression.Key {
	return progression.Key{GuildID: guild, UserID: user}
}

func addXP(n int64) progression.Mutation {
	return func(rec *progression.Record, cfg progression.Config) error {
		rec.AddXP(n, cfg.LevelFormula)
		return nil
	}
}

func TestProgressionStore(t *testing.T) {
	Convey("Given a progression store over memory", t, func() {
		ctx := context.Background()
		kv := kvstore.NewMemoryStore()
		store, err := repository.Open(ctx, kv)
		So(err, ShouldBeNil)

		Convey("Update creates missing records lazily at level 1", func() {
			before, after, err := store.Update(ctx, key("g1", "u1"), addXP(50))
			So(err, ShouldBeNil)
			So(before.XP, ShouldEqual, 0)
			So(before.Level, ShouldEqual, 1)
			So(after.XP, ShouldEqual, 50)
			So(after.Level, ShouldEqual, 1)
			So(store.Count(), ShouldEqual, 1)
		})

		Convey("Update recomputes the cached level", func() {
			_, after, err := store.Update(ctx, key("g1", "u1"), addXP(100))
			So(err, ShouldBeNil)
			So(after.Level, ShouldEqual, 2)
		})

		Convey("Update rejects invalid keys", func() {
			_, _, err := store.Update(ctx, key("", "u1"), addXP(1))
			So(errors.Is(err, progression.ErrInvalidKey), ShouldBeTrue)
		})

		Convey("A failing mutation leaves the record untouched", func() {
			_, _, err := store.Update(ctx, key("g1", "u1"), addXP(10))
			So(err, ShouldBeNil)
			boom := errors.New("boom")
			_, _, err = store.Update(ctx, key("g1", "u1"), func(rec *progression.Record, _ progression.Config) error {
				rec.XP = 999
				return boom
			})
			So(err, ShouldEqual, boom)
			rec, ok := store.Get(ctx, key("g1", "u1"))
			So(ok, ShouldBeTrue)
			So(rec.XP, ShouldEqual, 10)
		})

		Convey("A failing save rolls the change back", func() {
			_, _, err := store.Update(ctx, key("g1", "u1"), addXP(10))
			So(err, ShouldBeNil)
			kv.FailSaves(repository.KeyProgression, errors.New("disk full"))

			_, _, err = store.Update(ctx, key("g1", "u1"), addXP(500))
			So(errors.Is(err, repository.ErrPersistence), ShouldBeTrue)
			_, _, err = store.Update(ctx, key("g1", "u2"), addXP(5))
			So(errors.Is(err, repository.ErrPersistence), ShouldBeTrue)

			rec, _ := store.Get(ctx, key("g1", "u1"))
			So(rec.XP, ShouldEqual, 10)
			_, ok := store.Get(ctx, key("g1", "u2"))
			So(ok, ShouldBeFalse)
			So(store.Count(), ShouldEqual, 1)
		})

		Convey("Concurrent updates never lose increments", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _, _ = store.Update(ctx, key("g1", "u1"), addXP(3))
				}()
			}
			wg.Wait()
			rec, _ := store.Get(ctx, key("g1", "u1"))
			So(rec.XP, ShouldEqual, 150)
		})

		Convey("State survives reopening", func() {
			_, _, err := store.Update(ctx, key("g1", "u1"), addXP(300))
			So(err, ShouldBeNil)
			reopened, err := repository.Open(ctx, kv)
			So(err, ShouldBeNil)
			rec, ok := reopened.Get(ctx, key("g1", "u1"))
			So(ok, ShouldBeTrue)
			So(rec.XP, ShouldEqual, 300)
			So(rec.Level, ShouldEqual, 3)
		})

		Convey("Open repairs stale cached levels", func() {
			So(kv.Save(ctx, repository.KeyProgression, repository.Document{
				Version: 1,
				Users: map[string]progression.Record{
					"g1:u1": {GuildID: "g1", UserID: "u1", XP: 300, Level: 9},
				},
			}), ShouldBeNil)
			reopened, err := repository.Open(ctx, kv)
			So(err, ShouldBeNil)
			rec, _ := reopened.Get(ctx, key("g1", "u1"))
			So(rec.Level, ShouldEqual, 3)
		})

		Convey("Batch applies all changes with one save", func() {
			saves := kv.SaveCount(repository.KeyProgression)
			err := store.Batch(ctx, func(tx *repository.Tx) error {
				for i := 0; i < 5; i++ {
					tx.SetXP(key("g1", fmt.Sprintf("u%d", i)), 100)
				}
				So(len(tx.Records()), ShouldEqual, 5)
				return nil
			})
			So(err, ShouldBeNil)
			So(store.Count(), ShouldEqual, 5)
			So(kv.SaveCount(repository.KeyProgression), ShouldEqual, saves+1)
		})

		Convey("A failing batch applies nothing", func() {
			kv.FailSaves(repository.KeyProgression, errors.New("disk full"))
			err := store.Batch(ctx, func(tx *repository.Tx) error {
				tx.SetXP(key("g1", "u1"), 100)
				return nil
			})
			So(errors.Is(err, repository.ErrPersistence), ShouldBeTrue)
			So(store.Count(), ShouldEqual, 0)
		})

		Convey("Leaderboard orders by XP then user id", func() {
			_, _, _ = store.Update(ctx, key("g1", "b"), addXP(50))
			_, _, _ = store.Update(ctx, key("g1", "a"), addXP(50))
			_, _, _ = store.Update(ctx, key("g1", "c"), addXP(400))
			_, _, _ = store.Update(ctx, key("g2", "z"), addXP(1000))

			board := store.Leaderboard(ctx, "g1", 10)
			So(len(board), ShouldEqual, 3)
			So(board[0].Record.UserID, ShouldEqual, "c")
			So(board[1].Record.UserID, ShouldEqual, "a")
			So(board[2].Record.UserID, ShouldEqual, "b")
			So(board[2].Rank, ShouldEqual, 3)

			So(len(store.Leaderboard(ctx, "g1", 1)), ShouldEqual, 1)

			rank, err := store.Rank(ctx, key("g1", "a"))
			So(err, ShouldBeNil)
			So(rank, ShouldEqual, 2)
			_, err = store.Rank(ctx, key("g1", "nobody"))
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Deletes remove users and whole guilds", func() {
			_, _, _ = store.Update(ctx, key("g1", "a"), addXP(1))
			_, _, _ = store.Update(ctx, key("g1", "b"), addXP(1))
			_, _, _ = store.Update(ctx, key("g2", "a"), addXP(1))

			ok, err := store.DeleteUser(ctx, key("g1", "a"))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			ok, err = store.DeleteUser(ctx, key("g1", "a"))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			n, err := store.DeleteGuild(ctx, "g1")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			So(store.Count(), ShouldEqual, 1)
		})

		Convey("ReplaceRecords overwrites everything and recomputes levels", func() {
			_, _, _ = store.Update(ctx, key("g1", "old"), addXP(1))
			err := store.ReplaceRecords(ctx, []progression.Record{
				{GuildID: "g1", UserID: "new", XP: 100, Level: 40},
			})
			So(err, ShouldBeNil)
			_, ok := store.Get(ctx, key("g1", "old"))
			So(ok, ShouldBeFalse)
			rec, _ := store.Get(ctx, key("g1", "new"))
			So(rec.Level, ShouldEqual, 2)
		})

		Convey("Snapshot copies records and settings", func() {
			_, _, _ = store.Update(ctx, key("g1", "u1"), addXP(7))
			state := store.Snapshot(ctx)
			So(len(state.Records), ShouldEqual, 1)
			So(state.Settings.Default.LevelFormula.BaseXP, ShouldEqual, 100)
		})

		Convey("Invalid settings are rejected and the last good ones stay", func() {
			bad := store.Settings()
			bad.Default.LevelFormula.Multiplier = 1
			err := store.ReplaceSettings(ctx, bad)
			So(errors.Is(err, progression.ErrConfig), ShouldBeTrue)
			So(store.Config("g1").LevelFormula.Multiplier, ShouldEqual, 1.5)
			_, saved := kv.Raw(repository.KeyConfig)
			So(saved, ShouldBeFalse)
		})

		Convey("A formula change recomputes cached levels", func() {
			_, _, _ = store.Update(ctx, key("g1", "u1"), addXP(100))
			err := store.UpdateSettings(ctx, func(s *progression.Settings) {
				s.Default.LevelFormula = progression.Formula{BaseXP: 200, Multiplier: 1.5}
			})
			So(err, ShouldBeNil)
			rec, _ := store.Get(ctx, key("g1", "u1"))
			So(rec.Level, ShouldEqual, 1)

			reopened, err := repository.Open(ctx, kv)
			So(err, ShouldBeNil)
			So(reopened.Config("g1").LevelFormula.BaseXP, ShouldEqual, 200)
		})

		Convey("Guild overrides apply to their guild only", func() {
			err := store.UpdateSettings(ctx, func(s *progression.Settings) {
				s.Guilds = map[string]progression.Config{
					"g2": {LevelFormula: progression.Formula{BaseXP: 10, Multiplier: 2}},
				}
			})
			So(err, ShouldBeNil)
			_, a, _ := store.Update(ctx, key("g1", "u"), addXP(100))
			_, b, _ := store.Update(ctx, key("g2", "u"), addXP(100))
			So(a.Level, ShouldEqual, 2)
			So(b.Level, ShouldEqual, 4)
			So(store.Config("g2").TextXP.Min, ShouldEqual, 15)
		})
	})
}
