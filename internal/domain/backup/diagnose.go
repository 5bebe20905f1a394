package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/levelup/internal/adapters/kvstore"
	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reconcile"
)

// Severity of a diagnosis issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one finding of Diagnose.
type Issue struct {
	Severity Severity `json:"severity"`
	Area     string   `json:"area"`
	Message  string   `json:"message"`
}

// Diagnosis is the read-only health report of the progression data.
type Diagnosis struct {
	CheckedAt       time.Time `json:"checkedAt"`
	Records         int       `json:"records"`
	Snapshots       int       `json:"snapshots"`
	SyncStatus      string    `json:"syncStatus"`
	Issues          []Issue   `json:"issues"`
	Recommendations []string  `json:"recommendations"`
}

// Healthy reports whether no issue was found.
func (d Diagnosis) Healthy() bool { return len(d.Issues) == 0 }

func (d *Diagnosis) add(sev Severity, area, format string, args ...any) {
	d.Issues = append(d.Issues, Issue{Severity: sev, Area: area, Message: fmt.Sprintf(format, args...)})
}

func (d *Diagnosis) recommend(r string) {
	for _, have := range d.Recommendations {
		if have == r {
			return
		}
	}
	d.Recommendations = append(d.Recommendations, r)
}

// Diagnose inspects the persisted documents, the sync status and the
// snapshots. It changes nothing.
func (m *Manager) Diagnose(ctx context.Context) (Diagnosis, error) {
	d := Diagnosis{
		CheckedAt:       m.clock.Now().UTC(),
		SyncStatus:      "unknown",
		Issues:          []Issue{},
		Recommendations: []string{},
	}
	settings := m.store.Settings()

	err := m.store.Inspect(ctx, func(ctx context.Context, kv kvstore.Store) error {
		if err := diagnoseConfig(ctx, kv, &d); err != nil {
			return err
		}
		return diagnoseProgression(ctx, kv, settings, &d)
	})
	if err != nil {
		return d, err
	}

	if m.status != nil {
		report, err := m.status.CheckStatus(ctx)
		if err != nil {
			d.add(SeverityWarning, "sync", "sync status unavailable: %v", err)
		} else {
			d.SyncStatus = string(report.Status)
			switch report.Status {
			case reconcile.StatusMinorDesync, reconcile.StatusMajorDesync:
				d.add(SeverityWarning, "sync", "%d of %d common users drift beyond %d xp",
					report.Desynced, report.CommonUsers, report.Tolerance)
				d.recommend("review drift and run a sync in the direction of the trusted store")
			}
		}
	}

	infos, err := m.List(ctx)
	if err != nil {
		d.add(SeverityWarning, "backup", "snapshots unreadable: %v", err)
		return d, nil
	}
	d.Snapshots = len(infos)
	if len(infos) == 0 {
		d.add(SeverityWarning, "backup", "no snapshots exist")
		d.recommend("create a backup")
	}
	for _, info := range infos {
		if err := m.Verify(ctx, info.ID); err != nil {
			d.add(SeverityError, "backup", "%v", err)
			d.recommend("delete or replace corrupt snapshots")
		}
	}
	return d, nil
}

func diagnoseConfig(ctx context.Context, kv kvstore.Store, d *Diagnosis) error {
	var settings progression.Settings
	found, err := kv.Load(ctx, repository.KeyConfig, &settings)
	switch {
	case err != nil:
		d.add(SeverityError, "config", "config document unreadable: %v", err)
		d.recommend("restore the config from a backup")
	case !found:
		d.add(SeverityWarning, "config", "config document missing; defaults are active")
	default:
		settings.Normalize()
		if err := settings.Validate(); err != nil {
			d.add(SeverityError, "config", "config document rejected: %v", err)
			d.recommend("fix the level formula or restore the config from a backup")
		}
	}
	return nil
}

func diagnoseProgression(ctx context.Context, kv kvstore.Store, settings progression.Settings, d *Diagnosis) error {
	var doc struct {
		Version int                        `json:"version"`
		Users   map[string]json.RawMessage `json:"users"`
	}
	found, err := kv.Load(ctx, repository.KeyProgression, &doc)
	if err != nil {
		d.add(SeverityError, "progression", "progression document unreadable: %v", err)
		d.recommend("restore progression from a backup")
		return nil
	}
	if !found {
		d.add(SeverityWarning, "progression", "progression document missing")
		return nil
	}
	d.Records = len(doc.Users)

	keys := make([]string, 0, len(doc.Users))
	for k := range doc.Users {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inconsistent := 0
	for _, k := range keys {
		var fields map[string]any
		if err := json.Unmarshal(doc.Users[k], &fields); err != nil {
			d.add(SeverityError, "progression", "record %s is not an object", k)
			continue
		}
		key, err := progression.ParseKey(k)
		if err != nil {
			d.add(SeverityError, "progression", "record key %q is malformed", k)
			continue
		}
		if s, ok := fields["userId"].(string); !ok || s == "" {
			d.add(SeverityError, "progression", "record %s has no userId", k)
		}
		if s, ok := fields["guildId"].(string); !ok || s == "" {
			d.add(SeverityError, "progression", "record %s has no guildId", k)
		}
		xp, ok := fields["xp"].(float64)
		if !ok || xp < 0 || xp != math.Trunc(xp) {
			d.add(SeverityError, "progression", "record %s has no valid xp", k)
			continue
		}
		level, _ := fields["level"].(float64)
		if int(level) != settings.ForGuild(key.GuildID).LevelFormula.LevelForXP(int64(xp)) {
			inconsistent++
		}
	}
	if inconsistent > 0 {
		d.add(SeverityWarning, "progression", "%d records cache a level that does not match their xp", inconsistent)
		d.recommend("levels are recomputed on load; the next progress write persists them")
	}
	return nil
}
