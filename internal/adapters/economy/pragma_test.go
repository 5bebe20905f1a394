package economy

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOpen_ConnectionPragmas(t *testing.T) {
	Convey("Given a freshly opened economy store", t, func() {
		ctx := context.Background()
		store, err := Open(ctx, filepath.Join(t.TempDir(), "economy.db"))
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })

		Convey("The database runs in WAL mode", func() {
			var mode string
			So(store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode), ShouldBeNil)
			So(mode, ShouldEqual, "wal")
		})

		Convey("Connections wait on a locked database", func() {
			var timeout int
			So(store.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout), ShouldBeNil)
			So(timeout, ShouldEqual, 5000)
		})

		Convey("Foreign keys are enforced", func() {
			var on int
			So(store.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on), ShouldBeNil)
			So(on, ShouldEqual, 1)
		})
	})
}
