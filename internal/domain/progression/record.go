package progression

import (
	"fmt"
	"strings"
)

// Key identifies a progression record.
type Key struct {
	GuildID string
	UserID  string
}

// String renders the key as "guild:user", the form used in the store document.
func (k Key) String() string { return k.GuildID + ":" + k.UserID }

// Valid reports whether both ids are present.
func (k Key) Valid() bool {
	return strings.TrimSpace(k.GuildID) != "" && strings.TrimSpace(k.UserID) != ""
}

// ParseKey parses a "guild:user" key.
func ParseKey(s string) (Key, error) {
	guild, user, ok := strings.Cut(s, ":")
	k := Key{GuildID: guild, UserID: user}
	if !ok || !k.Valid() {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return k, nil
}

// Record is the persisted progression state of one member in one guild.
// Level is a cache of Formula.LevelForXP(XP); change XP only through SetXP.
type Record struct {
	GuildID            string `json:"guildId"`
	UserID             string `json:"userId"`
	XP                 int64  `json:"xp"`
	Level              int    `json:"level"`
	TotalMessages      int64  `json:"totalMessages"`
	TotalVoiceTimeMs   int64  `json:"totalVoiceTimeMs"`
	LastMessageGrantAt int64  `json:"lastMessageGrantAt"` // unix ms, 0 = never
	LastVoiceGrantAt   int64  `json:"lastVoiceGrantAt"`   // unix ms, 0 = never
}

// NewRecord returns the lazily created starting record for key.
func NewRecord(key Key) Record {
	return Record{GuildID: key.GuildID, UserID: key.UserID, Level: 1}
}

// Key returns the record's key.
func (r Record) Key() Key { return Key{GuildID: r.GuildID, UserID: r.UserID} }

// SetXP replaces XP (clamped at zero) and recomputes Level.
func (r *Record) SetXP(xp int64, f Formula) {
	if xp < 0 {
		xp = 0
	}
	r.XP = xp
	r.Level = f.LevelForXP(xp)
}

// AddXP adds delta to XP and recomputes Level.
func (r *Record) AddXP(delta int64, f Formula) {
	r.SetXP(r.XP+delta, f)
}

// Consistent reports whether the cached level matches the formula.
func (r Record) Consistent(f Formula) bool {
	return r.XP >= 0 && r.Level == f.LevelForXP(r.XP)
}

// Mutation changes rec in place using the guild's effective config.
// Returning an error discards the change.
type Mutation func(rec *Record, cfg Config) error
