// Package backup takes, lists, prunes and restores point-in-time snapshots
// of progression records and settings. Snapshots live in their own
// kvstore, one directory per snapshot id.
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/levelup/internal/adapters/economy"
	"github.com/okian/levelup/internal/adapters/kvstore"
	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reconcile"
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// Labels of snapshots taken by the service itself.
const (
	LabelAuto       = "auto"
	LabelPreRestore = "pre-restore"
	LabelPreSync    = "pre-sync"
	LabelManual     = "manual"
)

// ProgressionStore is the store being backed up.
type ProgressionStore interface {
	Snapshot(ctx context.Context) repository.State
	Settings() progression.Settings
	ReplaceRecords(ctx context.Context, records []progression.Record) error
	ReplaceSettings(ctx context.Context, settings progression.Settings) error
	Inspect(ctx context.Context, fn func(ctx context.Context, kv kvstore.Store) error) error
}

// EconomyReader reads the economy store. Backups never write it.
type EconomyReader interface {
	List(ctx context.Context) ([]economy.Record, error)
}

// StatusChecker reports the current sync status.
type StatusChecker interface {
	CheckStatus(ctx context.Context) (reconcile.Report, error)
}

// Info is one entry of List.
type Info struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	AgeMs     int64     `json:"ageMs"`
	Metadata  Metadata  `json:"metadata"`
}

// RestoreResult reports what a restore changed.
type RestoreResult struct {
	ID                  string `json:"id"`
	SafetyBackupID      string `json:"safetyBackupId"`
	Records             int    `json:"records"`
	ProgressionRestored bool   `json:"progressionRestored"`
	ConfigRestored      bool   `json:"configRestored"`
}

// Manager owns the snapshot store.
type Manager struct {
	store     ProgressionStore
	snapshots kvstore.Store
	economy   EconomyReader
	status    StatusChecker
	retention int
	clock     clock.Clock
	logger    logger.Logger

	mu sync.Mutex
}

var _ reconcile.Checkpointer = (*Manager)(nil)

// NewManager creates a Manager writing snapshots into snapshots.
func NewManager(store ProgressionStore, snapshots kvstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		snapshots: snapshots,
		retention: DefaultRetention,
		clock:     clock.Real(),
		logger:    logger.Get().Named("backup"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Retention returns how many snapshots Prune keeps.
func (m *Manager) Retention() int { return m.retention }

func kind(label string) string {
	for _, k := range []string{LabelAuto, LabelPreRestore, LabelPreSync} {
		if label == k || strings.HasPrefix(label, k+"-") {
			return k
		}
	}
	return LabelManual
}

// Create takes a snapshot and then prunes old ones. Errors are returned
// to the caller.
func (m *Manager) Create(ctx context.Context, label string) (Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx, label)
}

// Checkpoint takes a snapshot and returns its id.
func (m *Manager) Checkpoint(ctx context.Context, label string) (string, error) {
	man, err := m.Create(ctx, label)
	return man.ID, err
}

// CreateAuto takes a snapshot on the background path: failures are logged
// and reported as false, never returned.
func (m *Manager) CreateAuto(ctx context.Context, label string) (string, bool) {
	if label == "" {
		label = LabelAuto
	}
	man, err := m.Create(ctx, label)
	if err != nil {
		m.logger.Error(ctx, "automatic backup failed", logger.String("label", label), logger.Error(err))
		return "", false
	}
	return man.ID, true
}

func (m *Manager) createLocked(ctx context.Context, label string) (Manifest, error) {
	start := time.Now()
	if label == "" {
		label = LabelManual
	}
	k := kind(label)

	man, err := m.write(ctx, label)
	if err != nil {
		metrics.RecordBackupFailed(k)
		return Manifest{}, err
	}
	metrics.RecordBackupCreated(k, float64(time.Since(start).Microseconds())/1000)
	m.logger.Info(ctx, "backup created",
		logger.String("id", man.ID),
		logger.String("label", label),
		logger.Int("users", man.Metadata.TotalUsers),
	)

	if _, err := m.pruneLocked(ctx); err != nil {
		m.logger.Warn(ctx, "backup prune failed", logger.Error(err))
	}
	return man, nil
}

func (m *Manager) write(ctx context.Context, label string) (Manifest, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Manifest{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	state := m.store.Snapshot(ctx)
	man := Manifest{
		Version:   ManifestVersion,
		ID:        id.String(),
		Timestamp: m.clock.Now().UTC(),
		Label:     label,
		Files:     append([]string(nil), payloadFiles...),
		Checksums: make(map[string]string, len(payloadFiles)),
		Metadata:  summarize(state.Records),
	}
	man.Metadata.SyncStatusAtCapture = m.syncStatus(ctx)

	extract, err := m.economyExtract(ctx)
	if err != nil {
		return Manifest{}, err
	}
	doc := repository.Document{Version: repository.DocumentVersion, Users: make(map[string]progression.Record, len(state.Records))}
	for _, rec := range state.Records {
		doc.Users[rec.Key().String()] = rec
	}

	payloads := map[string]any{
		FileProgression: doc,
		FileConfig:      state.Settings,
		FileEconomy:     extract,
	}
	for _, name := range payloadFiles {
		sum, err := writePayload(ctx, m.snapshots, man.ID, name, payloads[name])
		if err != nil {
			m.discard(ctx, man.ID)
			return Manifest{}, err
		}
		man.Checksums[name] = sum
	}
	if err := m.snapshots.Save(ctx, fileKey(man.ID, FileManifest), man); err != nil {
		m.discard(ctx, man.ID)
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	return man, nil
}

func summarize(records []progression.Record) Metadata {
	md := Metadata{TotalUsers: len(records)}
	var levels int64
	for _, rec := range records {
		md.TotalXP += rec.XP
		levels += int64(rec.Level)
	}
	if len(records) > 0 {
		md.AvgLevel = float64(levels) / float64(len(records))
	}
	return md
}

func (m *Manager) syncStatus(ctx context.Context) string {
	if m.status == nil {
		return "unknown"
	}
	report, err := m.status.CheckStatus(ctx)
	if err != nil {
		m.logger.Warn(ctx, "sync status unavailable for backup", logger.Error(err))
		return "unknown"
	}
	return string(report.Status)
}

func (m *Manager) economyExtract(ctx context.Context) (EconomyExtract, error) {
	extract := EconomyExtract{Version: ManifestVersion, Records: []EconomyXP{}}
	if m.economy == nil {
		return extract, nil
	}
	records, err := m.economy.List(ctx)
	if err != nil {
		return extract, fmt.Errorf("read economy store: %w", err)
	}
	for _, rec := range records {
		extract.Records = append(extract.Records, EconomyXP{UserID: rec.UserID, GuildID: rec.GuildID, XP: rec.XP})
	}
	return extract, nil
}

// discard removes whatever part of a snapshot was written.
func (m *Manager) discard(ctx context.Context, id string) {
	entries, err := m.snapshots.List(ctx, id+"/")
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = m.snapshots.Delete(ctx, e.Key)
	}
}

// List returns complete snapshots newest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	entries, err := m.snapshots.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sizes := make(map[string]int64)
	var ids []string
	for _, e := range entries {
		id, _, ok := strings.Cut(e.Key, "/")
		if !ok {
			continue
		}
		if _, seen := sizes[id]; !seen {
			ids = append(ids, id)
		}
		sizes[id] += e.Size
	}

	now := m.clock.Now()
	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		man, err := m.manifest(ctx, id)
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:        man.ID,
			Label:     man.Label,
			Size:      sizes[id],
			CreatedAt: man.Timestamp,
			AgeMs:     now.Sub(man.Timestamp).Milliseconds(),
			Metadata:  man.Metadata,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].ID > infos[j].ID
	})
	metrics.UpdateBackupsRetained(len(infos))
	return infos, nil
}

// Prune deletes the oldest snapshots beyond the retention count and
// returns their ids.
func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(ctx)
}

func (m *Manager) pruneLocked(ctx context.Context) ([]string, error) {
	infos, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) <= m.retention {
		return nil, nil
	}
	var removed []string
	for _, info := range infos[m.retention:] {
		m.discard(ctx, info.ID)
		removed = append(removed, info.ID)
	}
	metrics.RecordBackupsPruned(len(removed))
	metrics.UpdateBackupsRetained(m.retention)
	m.logger.Info(ctx, "old backups pruned", logger.Int("removed", len(removed)))
	return removed, nil
}

// Restore replaces progression records and settings with a snapshot's.
// A safety snapshot is taken first. Records and settings are written
// separately: if the settings write fails the records stay restored and
// ErrPartialRestore is returned. The economy store is never written.
func (m *Manager) Restore(ctx context.Context, id string) (RestoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := RestoreResult{ID: id}
	man, err := m.manifest(ctx, id)
	if err != nil {
		metrics.RecordRestore("failed")
		return res, err
	}
	var doc repository.Document
	if err := readPayload(ctx, m.snapshots, man, FileProgression, &doc); err != nil {
		metrics.RecordRestore("failed")
		return res, err
	}
	var settings progression.Settings
	if err := readPayload(ctx, m.snapshots, man, FileConfig, &settings); err != nil {
		metrics.RecordRestore("failed")
		return res, err
	}

	safety, err := m.createLocked(ctx, LabelPreRestore+"-"+id)
	if err != nil {
		metrics.RecordRestore("failed")
		return res, fmt.Errorf("safety backup before restore: %w", err)
	}
	res.SafetyBackupID = safety.ID

	records := make([]progression.Record, 0, len(doc.Users))
	for raw, rec := range doc.Users {
		key, err := progression.ParseKey(raw)
		if err != nil {
			metrics.RecordRestore("failed")
			return res, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
		}
		rec.GuildID, rec.UserID = key.GuildID, key.UserID
		records = append(records, rec)
	}
	if err := m.store.ReplaceRecords(ctx, records); err != nil {
		metrics.RecordRestore("failed")
		return res, fmt.Errorf("restore progression records: %w", err)
	}
	res.ProgressionRestored = true
	res.Records = len(records)

	if err := m.store.ReplaceSettings(ctx, settings); err != nil {
		metrics.RecordRestore("partial")
		m.logger.Error(ctx, "restore left config unchanged",
			logger.String("id", id),
			logger.String("safetyBackup", safety.ID),
			logger.Error(err),
		)
		return res, errors.Join(fmt.Errorf("%w: %s", ErrPartialRestore, id), err)
	}
	res.ConfigRestored = true
	metrics.RecordRestore("ok")
	m.logger.Info(ctx, "backup restored",
		logger.String("id", id),
		logger.String("safetyBackup", safety.ID),
		logger.Int("records", res.Records),
	)
	return res, nil
}

// ScheduleAutoBackups takes an automatic snapshot every interval until ctx ends.
func (m *Manager) ScheduleAutoBackups(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("auto backup interval must be positive, got %v", interval)
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info(ctx, "automatic backups scheduled", logger.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			m.CreateAuto(ctx, LabelAuto)
		}
	}
}
