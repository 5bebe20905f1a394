package platform_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/okian/levelup/internal/adapters/platform"
	"github.com/okian/levelup/internal/domain/reward"
	"github.com/okian/levelup/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() { //nolint:gochecknoinits // test logger
	_ = logger.Init()
}

type bridge struct {
	mu       sync.Mutex
	requests []string
	messages []reward.Message
	style    string
}

func (b *bridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /guilds/{g}/members/{u}/roles/{r}", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		if r.PathValue("r") == "missing" {
			http.Error(w, "unknown role", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /guilds/{g}/roles/{r}", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		_ = json.NewEncoder(w).Encode(reward.Role{ID: r.PathValue("r"), Name: "Regular"})
	})
	mux.HandleFunc("GET /guilds/{g}/members/{u}", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		_ = json.NewEncoder(w).Encode(reward.Member{ID: r.PathValue("u"), DisplayName: "Ada"})
	})
	mux.HandleFunc("POST /cards", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.mu.Lock()
		b.style = r.URL.Query().Get("style")
		b.mu.Unlock()
		_, _ = w.Write([]byte("PNG"))
	})
	mux.HandleFunc("POST /channels/{c}/messages", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		var m reward.Message
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &m)
		b.mu.Lock()
		b.messages = append(b.messages, m)
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func (b *bridge) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
}

func TestNewClient(t *testing.T) {
	Convey("NewClient needs a usable url", t, func() {
		_, err := platform.NewClient("")
		So(errors.Is(err, platform.ErrNotConfigured), ShouldBeTrue)

		_, err = platform.NewClient("not a url")
		So(err, ShouldNotBeNil)

		c, err := platform.NewClient("http://localhost:9000/")
		So(err, ShouldBeNil)
		So(c, ShouldNotBeNil)
	})
}

func TestClient(t *testing.T) {
	Convey("Given a client talking to a bridge", t, func() {
		b := &bridge{}
		srv := httptest.NewServer(b.handler())
		defer srv.Close()

		c, err := platform.NewClient(srv.URL)
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("AssignRole issues a PUT on the member role", func() {
			So(c.AssignRole(ctx, "g1", "u1", "r5"), ShouldBeNil)
			So(b.requests, ShouldResemble, []string{"PUT /guilds/g1/members/u1/roles/r5"})
		})

		Convey("bridge rejections surface as ErrBridge", func() {
			err := c.AssignRole(ctx, "g1", "u1", "missing")
			So(errors.Is(err, platform.ErrBridge), ShouldBeTrue)
		})

		Convey("roles and members are decoded", func() {
			role, err := c.FetchRole(ctx, "g1", "r5")
			So(err, ShouldBeNil)
			So(role, ShouldResemble, reward.Role{ID: "r5", Name: "Regular"})

			m, err := c.FetchMember(ctx, "g1", "u1")
			So(err, ShouldBeNil)
			So(m.DisplayName, ShouldEqual, "Ada")
		})

		Convey("Render returns the image bytes and passes the style", func() {
			img, err := c.Render(ctx, reward.Card{GuildID: "g1"}, "neon")
			So(err, ShouldBeNil)
			So(string(img), ShouldEqual, "PNG")
			So(b.style, ShouldEqual, "neon")
		})

		Convey("Send posts the message to its channel", func() {
			msg := reward.Message{GuildID: "g1", ChannelID: "c9", Content: "hi", Image: []byte("PNG")}
			So(c.Send(ctx, msg), ShouldBeNil)
			So(b.requests, ShouldResemble, []string{"POST /channels/c9/messages"})
			So(b.messages, ShouldHaveLength, 1)
			So(b.messages[0], ShouldResemble, msg)
		})
	})
}
