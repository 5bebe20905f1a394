package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/levelup/internal/adapters/economy"
	"github.com/okian/levelup/internal/adapters/http/api"
	service "github.com/okian/levelup/internal/app"
	"github.com/okian/levelup/internal/domain/backup"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reconcile"
	"github.com/okian/levelup/pkg/clock"
	. "github.com/smartystreets/goconvey/convey"
)

// bridge records what the service asks of the chat platform.
type bridge struct {
	mu       sync.Mutex
	roles    []string
	messages []string
}

func (b *bridge) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /guilds/{g}/members/{u}/roles/{r}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.roles = append(b.roles, r.PathValue("u")+":"+r.PathValue("r"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /guilds/{g}/members/{u}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("u"), "displayName": "Ada"})
	})
	mux.HandleFunc("GET /guilds/{g}/roles/{r}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("r"), "name": "Regular"})
	})
	mux.HandleFunc("POST /cards", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("PNG"))
	})
	mux.HandleFunc("POST /channels/{c}/messages", func(w http.ResponseWriter, r *http.Request) {
		var m struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&m)
		b.mu.Lock()
		b.messages = append(b.messages, m.Content)
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return httptest.NewServer(mux)
}

func (b *bridge) snapshot() (roles, messages []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.roles...), append([]string(nil), b.messages...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func post(mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, &buf))
	return w
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service with an economy store and a platform bridge", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		econPath := filepath.Join(dir, "economy.db")

		econ, err := economy.Open(ctx, econPath)
		So(err, ShouldBeNil)
		So(econ.Upsert(ctx, economy.Record{UserID: "u1", GuildID: "g1", Balance: 40, XP: 500}), ShouldBeNil)
		So(econ.Close(), ShouldBeNil)

		b := &bridge{}
		srv := b.server()
		defer srv.Close()

		settings := progression.DefaultSettings()
		settings.Default.TextXP = progression.TextXP{Min: 50, Max: 50, CooldownMs: 60_000}
		settings.Default.RoleRewards = map[int]string{2: "r2"}
		settings.Default.Notifications = progression.Notifications{Enabled: true, ChannelID: "c1"}

		fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		svc := service.New(
			service.WithDataDir(dir),
			service.WithEconomyDB(econPath),
			service.WithPlatform(srv.URL, time.Second),
			service.WithProgressionDefaults(settings),
			service.WithClock(fake),
			service.WithWorkerCount(2),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		deps, err := svc.Dependencies()
		So(err, ShouldBeNil)
		mux := http.NewServeMux()
		api.NewServer(deps).Register(ctx, mux)

		messagesOf := func(userID string) int64 {
			rec, _ := svc.Store().Get(ctx, keyOf("g1", userID))
			return rec.TotalMessages
		}

		Convey("message events level a user up and trigger the reward", func() {
			So(post(mux, "/events", map[string]any{"id": "m1", "kind": "message", "guildId": "g1", "userId": "u1"}).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return messagesOf("u1") == 1 }), ShouldBeTrue)

			// Within the cooldown nothing is granted.
			So(post(mux, "/events", map[string]any{"id": "m2", "kind": "message", "guildId": "g1", "userId": "u1"}).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return svc.GetStats()["queueLength"] == 0 }), ShouldBeTrue)

			fake.Advance(60 * time.Second)
			So(post(mux, "/events", map[string]any{"id": "m3", "kind": "message", "guildId": "g1", "userId": "u1"}).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return messagesOf("u1") == 2 }), ShouldBeTrue)

			rec, _ := svc.Store().Get(ctx, keyOf("g1", "u1"))
			So(rec.XP, ShouldEqual, 100)
			So(rec.Level, ShouldEqual, 2)

			So(eventually(func() bool {
				_, msgs := b.snapshot()
				return len(msgs) == 1
			}), ShouldBeTrue)
			roles, msgs := b.snapshot()
			So(roles, ShouldResemble, []string{"u1:r2"})
			So(msgs[0], ShouldContainSubstring, "level 2")
		})

		Convey("voice presence accrues XP per tick", func() {
			So(post(mux, "/events", map[string]any{"id": "v1", "kind": "voice_state", "guildId": "g1", "userId": "u2", "newChannelId": "c9"}).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return svc.Voice().IsAccruing("g1", "u2") }), ShouldBeTrue)

			fake.Advance(2 * time.Minute)
			rec, ok := svc.Store().Get(ctx, keyOf("g1", "u2"))
			So(ok, ShouldBeTrue)
			So(rec.XP, ShouldEqual, 20)
			So(rec.TotalVoiceTimeMs, ShouldEqual, 120_000)

			So(post(mux, "/events", map[string]any{"id": "v2", "kind": "voice_state", "guildId": "g1", "userId": "u2", "oldChannelId": "c9"}).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool { return !svc.Voice().IsAccruing("g1", "u2") }), ShouldBeTrue)
		})

		Convey("synchronizing from the economy store takes a backup that restores the old state", func() {
			_, err := svc.Engine().SetXP(ctx, "g1", "u1", 100)
			So(err, ShouldBeNil)

			report, err := svc.Reconciler().CheckStatus(ctx)
			So(err, ShouldBeNil)
			So(report.Status, ShouldEqual, reconcile.StatusMajorDesync)

			w := post(mux, "/admin/sync?direction=economy_to_progression", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var out reconcile.Outcome
			So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
			So(out.Updated, ShouldEqual, 1)
			So(out.BackupID, ShouldNotBeEmpty)

			rec, _ := svc.Store().Get(ctx, keyOf("g1", "u1"))
			So(rec.XP, ShouldEqual, 500)
			So(rec.Level, ShouldEqual, 3)

			w = post(mux, "/admin/backups/"+out.BackupID+"/restore", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var res backup.RestoreResult
			So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
			So(res.ConfigRestored, ShouldBeTrue)

			rec, _ = svc.Store().Get(ctx, keyOf("g1", "u1"))
			So(rec.XP, ShouldEqual, 100)
			So(rec.Level, ShouldEqual, 2)
		})
	})
}
