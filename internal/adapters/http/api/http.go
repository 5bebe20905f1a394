// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/levelup/internal/domain/dedupe"
	"github.com/okian/levelup/internal/domain/model"
)

const defaultMaxLeaderboardLimit = 100

// Enqueuer accepts activity events for async processing. It returns false
// on backpressure.
type Enqueuer interface {
	Enqueue(ctx context.Context, e model.Event) bool
}

// Dependencies bundles what the handlers call into. Nil admin components
// make their routes answer 503.
type Dependencies struct {
	Deduper  dedupe.Deduper
	Queue    Enqueuer
	Progress ProgressService
	Board    Board
	Backups  BackupService
	Sync     SyncService
	Stats    StatsProvider

	MaxLeaderboardLimit int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	progressHandler    *ProgressHandler
	leaderboardHandler *LeaderboardHandler
	adminHandler       *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	limit := deps.MaxLeaderboardLimit
	if limit < 1 {
		limit = defaultMaxLeaderboardLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps.Stats),
		eventsHandler:      NewEventsHandler(deps.Deduper, deps.Queue),
		progressHandler:    NewProgressHandler(deps.Progress, deps.Board),
		leaderboardHandler: NewLeaderboardHandler(deps.Board, limit),
		adminHandler:       NewAdminHandler(deps.Progress, deps.Backups, deps.Sync),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("GET /progress/{guild}/{user}", MetricsMiddleware(s.progressHandler.HandleGetProgress, "progress"))
	mux.HandleFunc("GET /leaderboard/{guild}", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))

	a := s.adminHandler
	mux.HandleFunc("GET /admin/backups", MetricsMiddleware(a.HandleListBackups, "admin_backups"))
	mux.HandleFunc("POST /admin/backups", MetricsMiddleware(a.HandleCreateBackup, "admin_backups"))
	mux.HandleFunc("POST /admin/backups/prune", MetricsMiddleware(a.HandlePruneBackups, "admin_backups_prune"))
	mux.HandleFunc("POST /admin/backups/{id}/restore", MetricsMiddleware(a.HandleRestoreBackup, "admin_restore"))
	mux.HandleFunc("GET /admin/sync", MetricsMiddleware(a.HandleSyncStatus, "admin_sync"))
	mux.HandleFunc("POST /admin/sync", MetricsMiddleware(a.HandleSynchronize, "admin_sync"))
	mux.HandleFunc("GET /admin/diagnose", MetricsMiddleware(a.HandleDiagnose, "admin_diagnose"))
	mux.HandleFunc("POST /admin/progress", MetricsMiddleware(a.HandleProgressOverride, "admin_progress"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure classifies err and writes it.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}
