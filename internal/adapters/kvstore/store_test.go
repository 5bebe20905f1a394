package kvstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/levelup/internal/adapters/kvstore"
	. "github.com/smartystreets/goconvey/convey"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func exerciseStore(newStore func() kvstore.Store) {
	ctx := context.Background()
	store := newStore()

	Convey("Loading a missing key reports not found and leaves the target alone", func() {
		out := doc{Name: "default"}
		found, err := store.Load(ctx, "missing", &out)
		So(err, ShouldBeNil)
		So(found, ShouldBeFalse)
		So(out.Name, ShouldEqual, "default")
	})

	Convey("A saved value loads back", func() {
		So(store.Save(ctx, "progression", doc{Name: "a", Count: 1}), ShouldBeNil)
		var out doc
		found, err := store.Load(ctx, "progression", &out)
		So(err, ShouldBeNil)
		So(found, ShouldBeTrue)
		So(out, ShouldResemble, doc{Name: "a", Count: 1})

		Convey("And a second save replaces it", func() {
			So(store.Save(ctx, "progression", doc{Name: "b", Count: 2}), ShouldBeNil)
			found, err := store.Load(ctx, "progression", &out)
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(out.Name, ShouldEqual, "b")
		})
	})

	Convey("Nested keys are listed by prefix in key order", func() {
		So(store.Save(ctx, "snap-2/manifest", doc{}), ShouldBeNil)
		So(store.Save(ctx, "snap-1/manifest", doc{}), ShouldBeNil)
		So(store.Save(ctx, "snap-1/progression", doc{}), ShouldBeNil)
		So(store.Save(ctx, "other", doc{}), ShouldBeNil)

		entries, err := store.List(ctx, "snap-1/")
		So(err, ShouldBeNil)
		So(len(entries), ShouldEqual, 2)
		So(entries[0].Key, ShouldEqual, "snap-1/manifest")
		So(entries[1].Key, ShouldEqual, "snap-1/progression")
		So(entries[0].Size, ShouldBeGreaterThan, 0)

		all, err := store.List(ctx, "")
		So(err, ShouldBeNil)
		So(len(all), ShouldEqual, 4)

		Convey("And deleted keys disappear", func() {
			So(store.Delete(ctx, "snap-1/manifest"), ShouldBeNil)
			So(store.Delete(ctx, "snap-1/manifest"), ShouldBeNil)
			entries, err := store.List(ctx, "snap-1/")
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})
	})

	Convey("Keys escaping the store are rejected", func() {
		for _, key := range []string{"", "../x", "a//b", "/abs", "a/", "sp ace", ".tmp-1"} {
			err := store.Save(ctx, key, doc{})
			So(errors.Is(err, kvstore.ErrInvalidKey), ShouldBeTrue)
		}
	})
}

func TestFileStore(t *testing.T) {
	Convey("Given a file store", t, func() {
		root := t.TempDir()
		exerciseStore(func() kvstore.Store {
			s, err := kvstore.NewFileStore(root)
			So(err, ShouldBeNil)
			return s
		})
	})

	Convey("Given a file store after a save", t, func() {
		root := t.TempDir()
		s, err := kvstore.NewFileStore(root)
		So(err, ShouldBeNil)
		So(s.Save(context.Background(), "a/b", doc{Name: "x"}), ShouldBeNil)

		Convey("Then only the final file remains, as readable JSON", func() {
			names, err := os.ReadDir(filepath.Join(root, "a"))
			So(err, ShouldBeNil)
			So(len(names), ShouldEqual, 1)
			So(names[0].Name(), ShouldEqual, "b.json")

			data, err := os.ReadFile(filepath.Join(root, "a", "b.json"))
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, `"name": "x"`)
		})

		Convey("Then deleting the last key prunes the empty directory", func() {
			So(s.Delete(context.Background(), "a/b"), ShouldBeNil)
			_, err := os.Stat(filepath.Join(root, "a"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})
	})

	Convey("Given a corrupt file", t, func() {
		root := t.TempDir()
		s, err := kvstore.NewFileStore(root)
		So(err, ShouldBeNil)
		So(os.WriteFile(filepath.Join(root, "bad.json"), []byte("{not json"), 0o600), ShouldBeNil)

		Convey("Then Load reports a decode error", func() {
			var out doc
			_, err := s.Load(context.Background(), "bad", &out)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		exerciseStore(func() kvstore.Store { return kvstore.NewMemoryStore() })
	})

	Convey("Given a memory store with an injected save failure", t, func() {
		s := kvstore.NewMemoryStore()
		ctx := context.Background()
		So(s.Save(ctx, "k", doc{Name: "old"}), ShouldBeNil)
		boom := errors.New("disk full")
		s.FailSaves("k", boom)

		Convey("Then saves fail and the previous value survives", func() {
			err := s.Save(ctx, "k", doc{Name: "new"})
			So(errors.Is(err, boom), ShouldBeTrue)
			var out doc
			_, err = s.Load(ctx, "k", &out)
			So(err, ShouldBeNil)
			So(out.Name, ShouldEqual, "old")
			So(s.SaveCount("k"), ShouldEqual, 1)
		})

		Convey("Then clearing the failure restores saves", func() {
			s.FailSaves("k", nil)
			So(s.Save(ctx, "k", doc{Name: "new"}), ShouldBeNil)
		})
	})
}
