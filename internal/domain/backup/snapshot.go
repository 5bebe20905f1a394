package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/okian/levelup/internal/adapters/kvstore"
)

// ManifestVersion is written into every manifest.
const ManifestVersion = 1

// Snapshot file names inside a snapshot directory.
const (
	FileManifest    = "manifest"
	FileProgression = "progression"
	FileConfig      = "config"
	FileEconomy     = "economy"
)

var payloadFiles = []string{FileProgression, FileConfig, FileEconomy}

// Metadata summarizes the captured progression state.
type Metadata struct {
	TotalUsers          int     `json:"totalUsers"`
	TotalXP             int64   `json:"totalXP"`
	AvgLevel            float64 `json:"avgLevel"`
	SyncStatusAtCapture string  `json:"syncStatusAtCapture"`
}

// Manifest describes one snapshot. It is written after every payload file,
// so a snapshot without a manifest is incomplete.
type Manifest struct {
	Version   int               `json:"version"`
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Label     string            `json:"label"`
	Files     []string          `json:"files"`
	Checksums map[string]string `json:"checksums"`
	Metadata  Metadata          `json:"metadata"`
}

// EconomyXP is one row of the read-only economy extract.
type EconomyXP struct {
	UserID  string `json:"userId"`
	GuildID string `json:"guildId"`
	XP      int64  `json:"xp"`
}

// EconomyExtract is the economy payload of a snapshot.
type EconomyExtract struct {
	Version int         `json:"version"`
	Records []EconomyXP `json:"records"`
}

func fileKey(id, name string) string { return id + "/" + name }

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writePayload stores v under id/name and returns the checksum of its
// compact JSON form.
func writePayload(ctx context.Context, kv kvstore.Store, id, name string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	if err := kv.Save(ctx, fileKey(id, name), json.RawMessage(data)); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return checksum(data), nil
}

// readPayload loads id/name, verifies it against the manifest and decodes it into v.
func readPayload(ctx context.Context, kv kvstore.Store, m Manifest, name string, v any) error {
	var raw json.RawMessage
	found, err := kv.Load(ctx, fileKey(m.ID, name), &raw)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, m.ID, name, err)
	}
	if !found {
		return fmt.Errorf("%w: %s/%s missing", ErrCorrupt, m.ID, name)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, m.ID, name, err)
	}
	if want, ok := m.Checksums[name]; ok && want != checksum(compact.Bytes()) {
		return fmt.Errorf("%w: %s/%s checksum mismatch", ErrCorrupt, m.ID, name)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(compact.Bytes(), v); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, m.ID, name, err)
	}
	return nil
}

// Verify checks every payload of the snapshot against its manifest.
func (m *Manager) Verify(ctx context.Context, id string) error {
	man, err := m.manifest(ctx, id)
	if err != nil {
		return err
	}
	for _, name := range man.Files {
		if err := readPayload(ctx, m.snapshots, man, name, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) manifest(ctx context.Context, id string) (Manifest, error) {
	if err := kvstore.ValidateKey(id); err != nil {
		return Manifest{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	var man Manifest
	found, err := m.snapshots.Load(ctx, fileKey(id, FileManifest), &man)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %s manifest: %v", ErrCorrupt, id, err)
	}
	if !found {
		return Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return man, nil
}
