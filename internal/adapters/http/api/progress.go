package api

import (
	"context"
	"net/http"

	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/grant"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reward"
)

// ProgressService reads and overrides user progression.
type ProgressService interface {
	Profile(ctx context.Context, guildID, userID string) (grant.Profile, error)
	SetXP(ctx context.Context, guildID, userID string, xp int64) (grant.Result, error)
	SetLevel(ctx context.Context, guildID, userID string, level int) (grant.Result, error)
	AddLevels(ctx context.Context, guildID, userID string, n int) (grant.Result, error)
	ResetUser(ctx context.Context, guildID, userID string) (bool, error)
	ResetGuild(ctx context.Context, guildID string) (int, error)
}

// Board exposes guild rankings and configs.
type Board interface {
	Leaderboard(ctx context.Context, guildID string, limit int) []repository.Entry
	Config(guildID string) progression.Config
}

type progressResponse struct {
	grant.Profile
	Reward *reward.Reward `json:"reward,omitempty"`
}

// ProgressHandler serves a user's profile.
type ProgressHandler struct {
	progress ProgressService
	board    Board
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(progress ProgressService, board Board) *ProgressHandler {
	return &ProgressHandler{progress: progress, board: board}
}

// HandleGetProgress handles GET /progress/{guild}/{user} requests.
func (h *ProgressHandler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_progress"
	if h.progress == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	guildID := r.PathValue("guild")
	profile, err := h.progress.Profile(r.Context(), guildID, r.PathValue("user"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	resp := progressResponse{Profile: profile}
	if h.board != nil {
		if rw, ok := reward.HighestUnlocked(h.board.Config(guildID), profile.Record.Level); ok {
			resp.Reward = &rw
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
