package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/levelup/internal/domain/backup"
	"github.com/okian/levelup/internal/domain/reconcile"
)

// BackupService manages snapshots.
type BackupService interface {
	List(ctx context.Context) ([]backup.Info, error)
	Create(ctx context.Context, label string) (backup.Manifest, error)
	Restore(ctx context.Context, id string) (backup.RestoreResult, error)
	Prune(ctx context.Context) ([]string, error)
	Diagnose(ctx context.Context) (backup.Diagnosis, error)
}

// SyncService compares and reconciles the progression and economy stores.
type SyncService interface {
	CheckStatus(ctx context.Context) (reconcile.Report, error)
	Synchronize(ctx context.Context, direction reconcile.Direction) (reconcile.Outcome, error)
}

// Progress override actions.
const (
	ActionSetXP      = "set_xp"
	ActionSetLevel   = "set_level"
	ActionAddLevels  = "add_levels"
	ActionResetUser  = "reset_user"
	ActionResetGuild = "reset_guild"
)

// OverrideRequest is the body of POST /admin/progress.
type OverrideRequest struct {
	Action  string `json:"action"`
	GuildID string `json:"guildId"`
	UserID  string `json:"userId,omitempty"`
	XP      int64  `json:"xp,omitempty"`
	Level   int    `json:"level,omitempty"`
	Levels  int    `json:"levels,omitempty"`
}

type createBackupRequest struct {
	Label string `json:"label"`
}

type restoreResponse struct {
	backup.RestoreResult
	Warning string `json:"warning,omitempty"`
}

type pruneResponse struct {
	Removed []string `json:"removed"`
}

type resetResponse struct {
	Action  string `json:"action"`
	Removed int    `json:"removed"`
}

// AdminHandler serves the operator surface.
type AdminHandler struct {
	progress ProgressService
	backups  BackupService
	sync     SyncService
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(progress ProgressService, backups BackupService, sync SyncService) *AdminHandler {
	return &AdminHandler{progress: progress, backups: backups, sync: sync}
}

// HandleListBackups handles GET /admin/backups.
func (h *AdminHandler) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_backups"
	if h.backups == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	infos, err := h.backups.List(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if infos == nil {
		infos = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// HandleCreateBackup handles POST /admin/backups.
func (h *AdminHandler) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_backup"
	if h.backups == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	var req createBackupRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Label == "" {
		req.Label = backup.LabelManual
	}
	m, err := h.backups.Create(r.Context(), req.Label)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleRestoreBackup handles POST /admin/backups/{id}/restore.
func (h *AdminHandler) HandleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	const op = "api.restore_backup"
	if h.backups == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	res, err := h.backups.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, backup.ErrPartialRestore) {
			writeJSON(w, http.StatusOK, restoreResponse{RestoreResult: res, Warning: err.Error()})
			return
		}
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{RestoreResult: res})
}

// HandlePruneBackups handles POST /admin/backups/prune.
func (h *AdminHandler) HandlePruneBackups(w http.ResponseWriter, r *http.Request) {
	const op = "api.prune_backups"
	if h.backups == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	removed, err := h.backups.Prune(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, pruneResponse{Removed: removed})
}

// HandleDiagnose handles GET /admin/diagnose.
func (h *AdminHandler) HandleDiagnose(w http.ResponseWriter, r *http.Request) {
	const op = "api.diagnose"
	if h.backups == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	d, err := h.backups.Diagnose(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleSyncStatus handles GET /admin/sync.
func (h *AdminHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync_status"
	if h.sync == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	report, err := h.sync.CheckStatus(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleSynchronize handles POST /admin/sync?direction=.
func (h *AdminHandler) HandleSynchronize(w http.ResponseWriter, r *http.Request) {
	const op = "api.synchronize"
	if h.sync == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	dir, err := reconcile.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	out, err := h.sync.Synchronize(r.Context(), dir)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleProgressOverride handles POST /admin/progress.
func (h *AdminHandler) HandleProgressOverride(w http.ResponseWriter, r *http.Request) {
	const op = "api.progress_override"
	if h.progress == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	var req OverrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	ctx := r.Context()
	var (
		body any
		err  error
	)
	switch req.Action {
	case ActionSetXP:
		body, err = h.progress.SetXP(ctx, req.GuildID, req.UserID, req.XP)
	case ActionSetLevel:
		body, err = h.progress.SetLevel(ctx, req.GuildID, req.UserID, req.Level)
	case ActionAddLevels:
		body, err = h.progress.AddLevels(ctx, req.GuildID, req.UserID, req.Levels)
	case ActionResetUser:
		var removed bool
		removed, err = h.progress.ResetUser(ctx, req.GuildID, req.UserID)
		n := 0
		if removed {
			n = 1
		}
		body = resetResponse{Action: req.Action, Removed: n}
	case ActionResetGuild:
		var n int
		n, err = h.progress.ResetGuild(ctx, req.GuildID)
		body = resetResponse{Action: req.Action, Removed: n}
	default:
		err = WrapKind(op, ErrBadRequest, fmt.Errorf("unknown action %q", req.Action))
	}
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, body)
}
