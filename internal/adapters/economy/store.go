// Package economy stores the legacy economy records in SQLite. Only the
// xp column is shared with progression; balance is owned elsewhere and is
// never changed by this service except when seeding.
package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/levelup/internal/adapters/economy/migrations"
)

// Record is one economy row. Its key order is (user, guild), the reverse
// of progression keys.
type Record struct {
	UserID    string    `json:"userId"`
	GuildID   string    `json:"guildId"`
	Balance   int64     `json:"balance"`
	XP        int64     `json:"xp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SQLiteStore persists economy records in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the SQLite database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("economy db path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return nil
}

// List returns every economy record ordered by guild then user.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, guild_id, balance, xp, updated_at FROM economy ORDER BY guild_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list economy records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate economy records: %w", err)
	}
	return out, nil
}

// Get returns the record of (userID, guildID).
func (s *SQLiteStore) Get(ctx context.Context, userID, guildID string) (Record, error) {
	if err := s.ready(ctx); err != nil {
		return Record{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, guild_id, balance, xp, updated_at FROM economy WHERE user_id = ? AND guild_id = ?`,
		userID, guildID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, guildID)
	}
	return rec, err
}

// SetXP overwrites the xp column of an existing record.
func (s *SQLiteStore) SetXP(ctx context.Context, userID, guildID string, xp int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if xp < 0 {
		return fmt.Errorf("%w: negative xp %d", ErrInvalidRecord, xp)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE economy SET xp = ?, updated_at = ? WHERE user_id = ? AND guild_id = ?`,
		xp, s.now().UTC().UnixMilli(), userID, guildID)
	if err != nil {
		return fmt.Errorf("set economy xp: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set economy xp: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, userID, guildID)
	}
	return nil
}

// Upsert inserts or replaces a whole record.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	rec.UserID = strings.TrimSpace(rec.UserID)
	rec.GuildID = strings.TrimSpace(rec.GuildID)
	if rec.UserID == "" || rec.GuildID == "" {
		return fmt.Errorf("%w: user and guild ids are required", ErrInvalidRecord)
	}
	if rec.XP < 0 {
		return fmt.Errorf("%w: negative xp %d", ErrInvalidRecord, rec.XP)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO economy (user_id, guild_id, balance, xp, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, guild_id) DO UPDATE SET
		   balance = excluded.balance,
		   xp = excluded.xp,
		   updated_at = excluded.updated_at`,
		rec.UserID, rec.GuildID, rec.Balance, rec.XP, updated.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert economy record: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec     Record
		updated int64
	)
	if err := row.Scan(&rec.UserID, &rec.GuildID, &rec.Balance, &rec.XP, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan economy record: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}
