package api

import (
	"errors"
	"net/http"
)

const defaultLeaderboardLimit = 10

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	board    Board
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(board Board, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		board:    board,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard/{guild}?limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if h.board == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	n, err := queryInt(r, "limit", defaultLeaderboardLimit)
	if err != nil || n < 1 {
		if err == nil {
			err = errors.New("limit must be positive")
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, h.board.Leaderboard(r.Context(), r.PathValue("guild"), n))
}
