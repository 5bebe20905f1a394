package economy_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/levelup/internal/adapters/economy"
)

func TestSQLiteStore(t *testing.T) {
	Convey("Given an economy store on a fresh database", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "economy.db")
		store, err := economy.Open(ctx, path)
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })

		Convey("It starts empty", func() {
			recs, err := store.List(ctx)
			So(err, ShouldBeNil)
			So(recs, ShouldBeEmpty)
		})

		Convey("Upsert then Get round-trips a record", func() {
			So(store.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", Balance: 40, XP: 500}), ShouldBeNil)
			rec, err := store.Get(ctx, "u1", "g1")
			So(err, ShouldBeNil)
			So(rec.XP, ShouldEqual, 500)
			So(rec.Balance, ShouldEqual, 40)
			So(rec.UpdatedAt.IsZero(), ShouldBeFalse)
		})

		Convey("Upsert replaces an existing row", func() {
			So(store.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 1}), ShouldBeNil)
			So(store.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 2}), ShouldBeNil)
			recs, err := store.List(ctx)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].XP, ShouldEqual, 2)
		})

		Convey("Upsert rejects incomplete records", func() {
			err := store.Upsert(ctx, economy.Record{UserID: "u1"})
			So(errors.Is(err, economy.ErrInvalidRecord), ShouldBeTrue)
		})

		Convey("SetXP changes only xp", func() {
			So(store.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", Balance: 7, XP: 5}), ShouldBeNil)
			So(store.SetXP(ctx, "u1", "g1", 900), ShouldBeNil)
			rec, err := store.Get(ctx, "u1", "g1")
			So(err, ShouldBeNil)
			So(rec.XP, ShouldEqual, 900)
			So(rec.Balance, ShouldEqual, 7)
		})

		Convey("Missing rows report ErrNotFound", func() {
			_, err := store.Get(ctx, "nobody", "g1")
			So(errors.Is(err, economy.ErrNotFound), ShouldBeTrue)
			err = store.SetXP(ctx, "nobody", "g1", 1)
			So(errors.Is(err, economy.ErrNotFound), ShouldBeTrue)
		})

		Convey("Reopening keeps data and skips applied migrations", func() {
			So(store.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", XP: 3}), ShouldBeNil)
			So(store.Close(), ShouldBeNil)
			reopened, err := economy.Open(ctx, path)
			So(err, ShouldBeNil)
			defer reopened.Close()
			rec, err := reopened.Get(ctx, "u1", "g1")
			So(err, ShouldBeNil)
			So(rec.XP, ShouldEqual, 3)
		})
	})

	Convey("Open requires a path", t, func() {
		_, err := economy.Open(context.Background(), " ")
		So(err, ShouldNotBeNil)
	})
}
