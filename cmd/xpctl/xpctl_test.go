package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

type captured struct {
	mu     sync.Mutex
	method string
	path   string
	query  string
	body   map[string]any
}

func (c *captured) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.path = r.URL.Path
	c.query = r.URL.RawQuery
	c.body = nil
	raw, _ := io.ReadAll(r.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &c.body)
	}
}

func fakeServer(c *captured) *httptest.Server {
	mux := http.NewServeMux()
	reply := func(status int, v any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			c.record(r)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(v)
		}
	}
	mux.HandleFunc("GET /admin/backups", reply(http.StatusOK, []map[string]any{
		{"id": "b2", "label": "manual", "size": 120, "createdAt": "2026-01-02T00:00:00Z", "metadata": map[string]any{"totalUsers": 3}},
		{"id": "b1", "label": "auto", "size": 90, "createdAt": "2026-01-01T00:00:00Z", "metadata": map[string]any{"totalUsers": 2}},
	}))
	mux.HandleFunc("POST /admin/backups", reply(http.StatusCreated, map[string]any{"id": "b3", "label": "nightly"}))
	mux.HandleFunc("POST /admin/backups/{id}/restore", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			reply(http.StatusNotFound, map[string]any{"code": "not_found", "message": "backup not found"})(w, r)
			return
		}
		reply(http.StatusOK, map[string]any{"id": r.PathValue("id"), "safetyBackupId": "s1"})(w, r)
	})
	mux.HandleFunc("POST /admin/backups/prune", reply(http.StatusOK, map[string]any{"removed": []string{"b0"}}))
	mux.HandleFunc("GET /admin/sync", reply(http.StatusOK, map[string]any{"status": "minor_desync", "commonUsers": 4}))
	mux.HandleFunc("POST /admin/sync", reply(http.StatusOK, map[string]any{"direction": "economy_to_progression", "updated": 2}))
	mux.HandleFunc("GET /admin/diagnose", reply(http.StatusOK, map[string]any{"records": 5, "issues": []any{}}))
	mux.HandleFunc("POST /admin/progress", reply(http.StatusOK, map[string]any{"xp": 500, "level": 3}))
	mux.HandleFunc("GET /progress/{guild}/{user}", reply(http.StatusOK, map[string]any{"xp": 120, "level": 2}))
	mux.HandleFunc("GET /leaderboard/{guild}", reply(http.StatusOK, []map[string]any{
		{"rank": 1, "record": map[string]any{"userId": "u1", "xp": 900, "level": 4}},
	}))
	return httptest.NewServer(mux)
}

func runCLI(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	Convey("Given the xpctl root command", t, func() {
		cmd := NewRootCommand()

		Convey("It registers every command group", func() {
			for _, name := range []string{"backup", "sync", "diagnose", "progress", "leaderboard"} {
				sub, _, err := cmd.Find([]string{name})
				So(err, ShouldBeNil)
				So(sub.Name(), ShouldEqual, name)
			}
		})

		Convey("Persistent flags carry their defaults", func() {
			So(cmd.PersistentFlags().Lookup("addr").DefValue, ShouldEqual, defaultAddr)
			So(cmd.PersistentFlags().Lookup("format").DefValue, ShouldEqual, "text")
		})

		Convey("An unknown format is a usage error", func() {
			_, err := runCLI("--format", "xml", "diagnose")
			So(err, ShouldNotBeNil)
			So(exitCode(err), ShouldEqual, ExitUsage)
		})
	})
}

func TestBackupCommands(t *testing.T) {
	Convey("Given a levelup server", t, func() {
		c := &captured{}
		srv := fakeServer(c)
		defer srv.Close()

		Convey("backup list prints a table", func() {
			out, err := runCLI("--addr", srv.URL, "backup", "list")
			So(err, ShouldBeNil)
			So(c.method, ShouldEqual, http.MethodGet)
			So(out, ShouldContainSubstring, "ID")
			So(out, ShouldContainSubstring, "b2")
			So(strings.Index(out, "b2"), ShouldBeLessThan, strings.Index(out, "b1"))
		})

		Convey("backup create sends the label", func() {
			_, err := runCLI("--addr", srv.URL, "backup", "create", "--label", "nightly")
			So(err, ShouldBeNil)
			So(c.path, ShouldEqual, "/admin/backups")
			So(c.body["label"], ShouldEqual, "nightly")
		})

		Convey("backup restore posts to the snapshot", func() {
			out, err := runCLI("--addr", srv.URL, "backup", "restore", "b1")
			So(err, ShouldBeNil)
			So(c.path, ShouldEqual, "/admin/backups/b1/restore")
			So(out, ShouldContainSubstring, "safetyBackupId: s1")
		})

		Convey("A missing snapshot surfaces the API error", func() {
			_, err := runCLI("--addr", srv.URL, "backup", "restore", "missing")
			So(err, ShouldNotBeNil)
			var apiErr *APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Status, ShouldEqual, http.StatusNotFound)
			So(apiErr.Code, ShouldEqual, "not_found")
			So(exitCode(err), ShouldEqual, ExitFailure)
		})

		Convey("backup prune renders JSON on request", func() {
			out, err := runCLI("--addr", srv.URL, "--format", "json", "backup", "prune")
			So(err, ShouldBeNil)
			var got map[string]any
			So(json.Unmarshal([]byte(out), &got), ShouldBeNil)
			So(got["removed"], ShouldResemble, []any{"b0"})
		})
	})
}

func TestSyncAndDiagnose(t *testing.T) {
	Convey("Given a levelup server", t, func() {
		c := &captured{}
		srv := fakeServer(c)
		defer srv.Close()

		Convey("sync status renders YAML with numeric values", func() {
			out, err := runCLI("--addr", srv.URL, "-f", "yaml", "sync", "status")
			So(err, ShouldBeNil)
			var got map[string]any
			So(yaml.Unmarshal([]byte(out), &got), ShouldBeNil)
			So(got["status"], ShouldEqual, "minor_desync")
			So(got["commonUsers"], ShouldEqual, 4)
		})

		Convey("sync run passes the direction", func() {
			_, err := runCLI("--addr", srv.URL, "sync", "run", "--direction", "economy_to_progression")
			So(err, ShouldBeNil)
			So(c.method, ShouldEqual, http.MethodPost)
			So(c.query, ShouldEqual, "direction=economy_to_progression")
		})

		Convey("sync run requires a direction", func() {
			_, err := runCLI("--addr", srv.URL, "sync", "run")
			So(err, ShouldNotBeNil)
		})

		Convey("diagnose prints the report", func() {
			out, err := runCLI("--addr", srv.URL, "diagnose")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "records: 5")
		})
	})
}

func TestProgressCommands(t *testing.T) {
	Convey("Given a levelup server", t, func() {
		c := &captured{}
		srv := fakeServer(c)
		defer srv.Close()

		Convey("progress get reads one member", func() {
			out, err := runCLI("--addr", srv.URL, "progress", "get", "g1", "u1")
			So(err, ShouldBeNil)
			So(c.path, ShouldEqual, "/progress/g1/u1")
			So(out, ShouldContainSubstring, "level: 2")
		})

		Convey("set-xp sends an override", func() {
			_, err := runCLI("--addr", srv.URL, "progress", "set-xp", "g1", "u1", "500")
			So(err, ShouldBeNil)
			So(c.body["action"], ShouldEqual, "set_xp")
			So(c.body["guildId"], ShouldEqual, "g1")
			So(c.body["userId"], ShouldEqual, "u1")
			So(c.body["xp"], ShouldEqual, 500.0)
		})

		Convey("add-levels sends the level count", func() {
			_, err := runCLI("--addr", srv.URL, "progress", "add-levels", "g1", "u1", "2")
			So(err, ShouldBeNil)
			So(c.body["action"], ShouldEqual, "add_levels")
			So(c.body["levels"], ShouldEqual, 2.0)
		})

		Convey("reset-guild needs only the guild", func() {
			_, err := runCLI("--addr", srv.URL, "progress", "reset-guild", "g1")
			So(err, ShouldBeNil)
			So(c.body["action"], ShouldEqual, "reset_guild")
			_, hasUser := c.body["userId"]
			So(hasUser, ShouldBeFalse)
		})

		Convey("A non-numeric amount is a usage error", func() {
			_, err := runCLI("--addr", srv.URL, "progress", "set-level", "g1", "u1", "ten")
			So(err, ShouldNotBeNil)
			So(exitCode(err), ShouldEqual, ExitUsage)
		})

		Convey("leaderboard prints ranked members", func() {
			out, err := runCLI("--addr", srv.URL, "leaderboard", "g1", "--limit", "5")
			So(err, ShouldBeNil)
			So(c.query, ShouldEqual, "limit=5")
			So(out, ShouldContainSubstring, "u1")
			So(out, ShouldContainSubstring, "900")
		})
	})
}

func TestUnreachableServer(t *testing.T) {
	Convey("A closed server maps to the unreachable exit code", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		_, err := runCLI("--addr", addr, "--timeout", "2s", "diagnose")
		So(err, ShouldNotBeNil)
		So(exitCode(err), ShouldEqual, ExitUnreachable)
	})
}
