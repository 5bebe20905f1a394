// Package repository persists progression records and progression
// settings through a kvstore.Store. Every read-modify-write runs under a
// single mutex so concurrent grants, synchronization and backups observe
// and produce whole states.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/levelup/internal/adapters/kvstore"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// Store keys and document version.
const (
	KeyProgression  = "progression"
	KeyConfig       = "config"
	DocumentVersion = 1
)

// Document is the persisted form of all progression records.
type Document struct {
	Version int                           `json:"version"`
	Users   map[string]progression.Record `json:"users"`
}

// State is a consistent copy of the store contents.
type State struct {
	Records  []progression.Record
	Settings progression.Settings
}

// Entry is one leaderboard row.
type Entry struct {
	Rank   int                `json:"rank"`
	Record progression.Record `json:"record"`
}

// ProgressionStore is the keyed progression persistence layer.
type ProgressionStore struct {
	mu       sync.Mutex
	kv       kvstore.Store
	records  map[progression.Key]progression.Record
	settings progression.Settings
	defaults progression.Settings
	logger   logger.Logger
}

// Open loads the progression document and settings from kv.
func Open(ctx context.Context, kv kvstore.Store, opts ...Option) (*ProgressionStore, error) {
	s := &ProgressionStore{
		kv:       kv,
		records:  make(map[progression.Key]progression.Record),
		defaults: progression.DefaultSettings(),
		logger:   logger.Get().Named("progression-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.defaults.Normalize()
	s.settings = s.defaults.Clone()

	settings := progression.Settings{}
	found, err := kv.Load(ctx, KeyConfig, &settings)
	if err != nil {
		return nil, fmt.Errorf("%w: load settings: %v", ErrPersistence, err)
	}
	if found {
		settings.Normalize()
		if verr := settings.Validate(); verr != nil {
			s.logger.Error(ctx, "persisted settings rejected; using defaults", logger.Error(verr))
		} else {
			s.settings = settings
		}
	}

	var doc Document
	if _, err := kv.Load(ctx, KeyProgression, &doc); err != nil {
		return nil, fmt.Errorf("%w: load progression: %v", ErrPersistence, err)
	}
	repaired := 0
	for raw, rec := range doc.Users {
		key, err := progression.ParseKey(raw)
		if err != nil {
			s.logger.Warn(ctx, "skipping record with malformed key", logger.String("key", raw))
			continue
		}
		rec.GuildID, rec.UserID = key.GuildID, key.UserID
		f := s.settings.ForGuild(key.GuildID).LevelFormula
		if !rec.Consistent(f) {
			rec.SetXP(rec.XP, f)
			repaired++
		}
		s.records[key] = rec
	}
	if repaired > 0 {
		s.logger.Warn(ctx, "recomputed stale cached levels", logger.Int("records", repaired))
	}
	metrics.UpdateTrackedUsers(len(s.records))
	return s, nil
}

// saveLocked writes the progression document. Caller holds s.mu.
func (s *ProgressionStore) saveLocked(ctx context.Context) error {
	doc := Document{Version: DocumentVersion, Users: make(map[string]progression.Record, len(s.records))}
	for k, rec := range s.records {
		doc.Users[k.String()] = rec
	}
	start := time.Now()
	err := s.kv.Save(ctx, KeyProgression, doc)
	metrics.RecordStoreSaveLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.UpdateTrackedUsers(len(s.records))
	return nil
}

// Get returns the record for key.
func (s *ProgressionStore) Get(_ context.Context, key progression.Key) (progression.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Update runs one load-mutate-save cycle for key. A missing record starts
// from progression.NewRecord. If fn fails or the save fails, the store is
// left exactly as it was.
func (s *ProgressionStore) Update(ctx context.Context, key progression.Key, fn progression.Mutation) (before, after progression.Record, err error) {
	if !key.Valid() {
		return before, after, fmt.Errorf("%w: %q", progression.ErrInvalidKey, key.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[key]
	before = prev
	if !existed {
		before = progression.NewRecord(key)
	}
	after = before
	cfg := s.settings.ForGuild(key.GuildID)
	if err := fn(&after, cfg); err != nil {
		return before, before, err
	}
	after.GuildID, after.UserID = key.GuildID, key.UserID
	after.SetXP(after.XP, cfg.LevelFormula)

	s.records[key] = after
	if err := s.saveLocked(ctx); err != nil {
		if existed {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return before, before, err
	}
	return before, after, nil
}

// Tx is the bulk mutation handle passed to Batch.
type Tx struct {
	store   *ProgressionStore
	changes map[progression.Key]progression.Record
}

// Get returns the record for key as seen inside the batch.
func (tx *Tx) Get(key progression.Key) (progression.Record, bool) {
	if rec, ok := tx.changes[key]; ok {
		return rec, true
	}
	rec, ok := tx.store.records[key]
	return rec, ok
}

// SetXP sets key's XP, creating the record if needed, and recomputes its level.
func (tx *Tx) SetXP(key progression.Key, xp int64) progression.Record {
	rec, ok := tx.Get(key)
	if !ok {
		rec = progression.NewRecord(key)
	}
	rec.SetXP(xp, tx.store.settings.ForGuild(key.GuildID).LevelFormula)
	tx.changes[key] = rec
	return rec
}

// Records returns every record as seen inside the batch, sorted by key.
func (tx *Tx) Records() []progression.Record {
	merged := make(map[progression.Key]progression.Record, len(tx.store.records))
	for k, rec := range tx.store.records {
		merged[k] = rec
	}
	for k, rec := range tx.changes {
		merged[k] = rec
	}
	return sortedRecords(merged)
}

// Batch applies fn's changes with a single save. Nothing is applied if fn
// or the save fails.
func (s *ProgressionStore) Batch(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s, changes: make(map[progression.Key]progression.Record)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changes) == 0 {
		return nil
	}
	prev := make(map[progression.Key]progression.Record, len(tx.changes))
	existed := make(map[progression.Key]bool, len(tx.changes))
	for k, rec := range tx.changes {
		prev[k], existed[k] = s.records[k]
		s.records[k] = rec
	}
	if err := s.saveLocked(ctx); err != nil {
		for k := range tx.changes {
			if existed[k] {
				s.records[k] = prev[k]
			} else {
				delete(s.records, k)
			}
		}
		return err
	}
	return nil
}

// Snapshot returns a consistent copy of every record and the settings.
func (s *ProgressionStore) Snapshot(_ context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Records: sortedRecords(s.records), Settings: s.settings.Clone()}
}

// Inspect runs fn with the underlying kv store while holding the store
// lock, so fn never observes a half-written state.
func (s *ProgressionStore) Inspect(ctx context.Context, fn func(ctx context.Context, kv kvstore.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, s.kv)
}

// ReplaceRecords overwrites every record. Levels are recomputed from XP.
func (s *ProgressionStore) ReplaceRecords(ctx context.Context, records []progression.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[progression.Key]progression.Record, len(records))
	for _, rec := range records {
		key := rec.Key()
		if !key.Valid() {
			return fmt.Errorf("%w: %q", progression.ErrInvalidKey, key.String())
		}
		rec.SetXP(rec.XP, s.settings.ForGuild(key.GuildID).LevelFormula)
		next[key] = rec
	}
	prev := s.records
	s.records = next
	if err := s.saveLocked(ctx); err != nil {
		s.records = prev
		return err
	}
	return nil
}

// Settings returns a copy of the active settings.
func (s *ProgressionStore) Settings() progression.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// Config returns the effective config of guildID.
func (s *ProgressionStore) Config(guildID string) progression.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.ForGuild(guildID)
}

// ReplaceSettings validates and persists settings. An invalid document
// returns progression.ErrConfig and the previous settings stay active.
// Cached levels are recomputed for guilds whose formula changed.
func (s *ProgressionStore) ReplaceSettings(ctx context.Context, settings progression.Settings) error {
	settings = settings.Clone()
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Save(ctx, KeyConfig, settings); err != nil {
		return fmt.Errorf("%w: save settings: %v", ErrPersistence, err)
	}
	s.settings = settings

	changed := 0
	for k, rec := range s.records {
		f := settings.ForGuild(k.GuildID).LevelFormula
		if !rec.Consistent(f) {
			rec.SetXP(rec.XP, f)
			s.records[k] = rec
			changed++
		}
	}
	if changed > 0 {
		// Levels are derived from XP and are recomputed again on the next
		// load, so a failed write here only leaves a stale cache on disk.
		if err := s.saveLocked(ctx); err != nil {
			s.logger.Warn(ctx, "recomputed levels not persisted", logger.Int("records", changed), logger.Error(err))
		}
	}
	return nil
}

// UpdateSettings applies fn to a copy of the settings and persists it via ReplaceSettings.
func (s *ProgressionStore) UpdateSettings(ctx context.Context, fn func(*progression.Settings)) error {
	next := s.Settings()
	fn(&next)
	return s.ReplaceSettings(ctx, next)
}

// DeleteUser removes one record. It reports whether the record existed.
func (s *ProgressionStore) DeleteUser(ctx context.Context, key progression.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[key]
	if !ok {
		return false, nil
	}
	delete(s.records, key)
	if err := s.saveLocked(ctx); err != nil {
		s.records[key] = prev
		return false, err
	}
	return true, nil
}

// DeleteGuild removes every record of guildID and returns how many were removed.
func (s *ProgressionStore) DeleteGuild(ctx context.Context, guildID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make(map[progression.Key]progression.Record)
	for k, rec := range s.records {
		if k.GuildID == guildID {
			removed[k] = rec
			delete(s.records, k)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.saveLocked(ctx); err != nil {
		for k, rec := range removed {
			s.records[k] = rec
		}
		return 0, err
	}
	return len(removed), nil
}

// Count returns the number of stored records.
func (s *ProgressionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Leaderboard returns the top limit records of guildID ordered by XP
// descending, then user id ascending.
func (s *ProgressionStore) Leaderboard(_ context.Context, guildID string, limit int) []Entry {
	ranked := s.ranked(guildID)
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	entries := make([]Entry, len(ranked))
	for i, rec := range ranked {
		entries[i] = Entry{Rank: i + 1, Record: rec}
	}
	return entries
}

// Rank returns key's 1-based position in its guild leaderboard.
func (s *ProgressionStore) Rank(_ context.Context, key progression.Key) (int, error) {
	for i, rec := range s.ranked(key.GuildID) {
		if rec.UserID == key.UserID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, key.String())
}

func (s *ProgressionStore) ranked(guildID string) []progression.Record {
	s.mu.Lock()
	out := make([]progression.Record, 0)
	for k, rec := range s.records {
		if k.GuildID == guildID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func sortedRecords(m map[progression.Key]progression.Record) []progression.Record {
	out := make([]progression.Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Keys returns every stored key, sorted.
func (s *ProgressionStore) Keys() []progression.Key {
	s.mu.Lock()
	records := sortedRecords(s.records)
	s.mu.Unlock()
	keys := make([]progression.Key, len(records))
	for i, rec := range records {
		keys[i] = rec.Key()
	}
	return keys
}
