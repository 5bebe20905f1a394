package swagger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a swagger handler", t, func() {
		ctx := context.Background()
		mux := http.NewServeMux()
		Register(ctx, mux)

		convey.Convey("Then it should serve /openapi.yaml", func() {
			req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", http.NoBody)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
			convey.So(w.Body.Len(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("And it should serve the docs page", func() {
			req := httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
		})
	})
}

func TestOpenAPIDocument(t *testing.T) {
	convey.Convey("The embedded document parses and lists every route", t, func() {
		var doc struct {
			OpenAPI string                    `yaml:"openapi"`
			Paths   map[string]map[string]any `yaml:"paths"`
		}
		convey.So(yaml.Unmarshal(OpenAPI, &doc), convey.ShouldBeNil)
		convey.So(doc.OpenAPI, convey.ShouldStartWith, "3.")

		for _, p := range []string{
			"/events", "/progress/{guild}/{user}", "/leaderboard/{guild}", "/stats", "/healthz",
			"/admin/backups", "/admin/backups/{id}/restore", "/admin/backups/prune",
			"/admin/sync", "/admin/diagnose", "/admin/progress",
		} {
			convey.So(doc.Paths, convey.ShouldContainKey, p)
		}
		convey.So(doc.Paths["/admin/sync"], convey.ShouldContainKey, "post")
	})
}

func TestSwaggerHandlerWithNilMux(t *testing.T) {
	convey.Convey("Given a nil mux", t, func() {
		convey.So(func() { Register(context.Background(), nil) }, convey.ShouldPanic)
	})
}
