package progression

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SettingsVersion is written into every persisted settings document.
const SettingsVersion = 1

const perMinuteTickMs = 60_000

// TextXP configures message grants. A zero TextXP is "unset" and inherits
// the default; use NoTextXP to switch message grants off.
type TextXP struct {
	Min        int64 `json:"min"`
	Max        int64 `json:"max"`
	CooldownMs int64 `json:"cooldownMs"`

	// explicit marks a section that was given, even if every field is zero.
	explicit bool
}

// NoTextXP returns an explicit all-zero section.
func NoTextXP() TextXP { return TextXP{explicit: true} }

// Cooldown returns the cooldown as a duration.
func (t TextXP) Cooldown() time.Duration { return time.Duration(t.CooldownMs) * time.Millisecond }

// UnmarshalJSON accepts the legacy "cooldown" (seconds) alias.
func (t *TextXP) UnmarshalJSON(data []byte) error {
	var raw struct {
		Min        int64  `json:"min"`
		Max        int64  `json:"max"`
		CooldownMs *int64 `json:"cooldownMs"`
		Cooldown   *int64 `json:"cooldown"`
	}
	if string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = TextXP{Min: raw.Min, Max: raw.Max, explicit: true}
	switch {
	case raw.CooldownMs != nil:
		t.CooldownMs = *raw.CooldownMs
	case raw.Cooldown != nil:
		t.CooldownMs = *raw.Cooldown * int64(time.Second/time.Millisecond)
	}
	return nil
}

// VoiceXP configures voice accrual.
type VoiceXP struct {
	AmountPerTick  int64 `json:"amountPerTick"`
	TickIntervalMs int64 `json:"tickIntervalMs"`
}

// TickInterval returns the tick interval as a duration.
func (v VoiceXP) TickInterval() time.Duration {
	return time.Duration(v.TickIntervalMs) * time.Millisecond
}

// UnmarshalJSON folds the "amount" and "perMinute" aliases into AmountPerTick.
func (v *VoiceXP) UnmarshalJSON(data []byte) error {
	var raw struct {
		AmountPerTick  *int64 `json:"amountPerTick"`
		Amount         *int64 `json:"amount"`
		PerMinute      *int64 `json:"perMinute"`
		TickIntervalMs *int64 `json:"tickIntervalMs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = VoiceXP{}
	switch {
	case raw.AmountPerTick != nil:
		v.AmountPerTick = *raw.AmountPerTick
	case raw.Amount != nil:
		v.AmountPerTick = *raw.Amount
	case raw.PerMinute != nil:
		v.AmountPerTick = *raw.PerMinute
		if raw.TickIntervalMs == nil {
			v.TickIntervalMs = perMinuteTickMs
		}
	}
	if raw.TickIntervalMs != nil {
		v.TickIntervalMs = *raw.TickIntervalMs
	}
	return nil
}

// Notifications configures level-up announcements.
type Notifications struct {
	Enabled   bool   `json:"enabled"`
	ChannelID string `json:"channelId"`
	// Message may use {user}, {level} and {xp} placeholders.
	Message   string `json:"message,omitempty"`
	CardStyle string `json:"cardStyle,omitempty"`
}

// UnmarshalJSON accepts the legacy "channel" alias.
func (n *Notifications) UnmarshalJSON(data []byte) error {
	type plain Notifications
	var raw struct {
		plain
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Notifications(raw.plain)
	if n.ChannelID == "" {
		n.ChannelID = raw.Channel
	}
	return nil
}

// Config is the canonical progression config of one guild.
type Config struct {
	TextXP        TextXP         `json:"textXP"`
	VoiceXP       VoiceXP        `json:"voiceXP"`
	LevelFormula  Formula        `json:"levelFormula"`
	RoleRewards   map[int]string `json:"roleRewards,omitempty"`
	Notifications Notifications  `json:"notifications"`
}

// DefaultConfig returns the built-in progression config.
func DefaultConfig() Config {
	return Config{
		TextXP:       TextXP{Min: 15, Max: 25, CooldownMs: 60_000},
		VoiceXP:      VoiceXP{AmountPerTick: 10, TickIntervalMs: perMinuteTickMs},
		LevelFormula: Formula{BaseXP: 100, Multiplier: 1.5},
	}
}

// Validate checks every field the engine relies on.
func (c Config) Validate() error {
	if err := c.LevelFormula.Validate(); err != nil {
		return err
	}
	switch {
	case c.TextXP.Min < 0 || c.TextXP.Max < c.TextXP.Min:
		return fmt.Errorf("%w: text XP range [%d,%d] is invalid", ErrConfig, c.TextXP.Min, c.TextXP.Max)
	case c.TextXP.CooldownMs < 0:
		return fmt.Errorf("%w: text cooldown must not be negative", ErrConfig)
	case c.VoiceXP.AmountPerTick < 0:
		return fmt.Errorf("%w: voice XP per tick must not be negative", ErrConfig)
	case c.VoiceXP.TickIntervalMs <= 0:
		return fmt.Errorf("%w: voice tick interval must be positive", ErrConfig)
	}
	for level, role := range c.RoleRewards {
		if level < 1 || role == "" {
			return fmt.Errorf("%w: role reward %d -> %q is invalid", ErrConfig, level, role)
		}
	}
	return nil
}

// withDefaults fills unset sections from def.
func (c Config) withDefaults(def Config) Config {
	if c.TextXP == (TextXP{}) {
		c.TextXP = def.TextXP
	}
	if c.VoiceXP.AmountPerTick == 0 && c.VoiceXP.TickIntervalMs == 0 {
		c.VoiceXP = def.VoiceXP
	} else if c.VoiceXP.TickIntervalMs == 0 {
		c.VoiceXP.TickIntervalMs = def.VoiceXP.TickIntervalMs
	}
	if c.LevelFormula == (Formula{}) {
		c.LevelFormula = def.LevelFormula
	}
	return c
}

// RewardLevels returns the configured reward levels in ascending order.
func (c Config) RewardLevels() []int {
	levels := make([]int, 0, len(c.RoleRewards))
	for level := range c.RoleRewards {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// Settings is the persisted progression config document: a default plus
// per-guild overrides.
type Settings struct {
	Version int               `json:"version"`
	Default Config            `json:"default"`
	Guilds  map[string]Config `json:"guilds,omitempty"`
}

// DefaultSettings wraps DefaultConfig.
func DefaultSettings() Settings {
	return Settings{Version: SettingsVersion, Default: DefaultConfig()}
}

// ForGuild returns the effective config of guildID.
func (s Settings) ForGuild(guildID string) Config {
	if c, ok := s.Guilds[guildID]; ok {
		return c
	}
	return s.Default
}

// Normalize fills partial guild overrides from the default and stamps the version.
func (s *Settings) Normalize() {
	s.Version = SettingsVersion
	s.Default = s.Default.withDefaults(DefaultConfig())
	for id, c := range s.Guilds {
		s.Guilds[id] = c.withDefaults(s.Default)
	}
}

// Validate validates the default and every guild override.
func (s Settings) Validate() error {
	if err := s.Default.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for id, c := range s.Guilds {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("guild %s: %w", id, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.Default = s.Default.clone()
	if s.Guilds != nil {
		out.Guilds = make(map[string]Config, len(s.Guilds))
		for id, c := range s.Guilds {
			out.Guilds[id] = c.clone()
		}
	}
	return out
}

func (c Config) clone() Config {
	if c.RoleRewards != nil {
		rewards := make(map[int]string, len(c.RoleRewards))
		for k, v := range c.RoleRewards {
			rewards[k] = v
		}
		c.RoleRewards = rewards
	}
	return c
}
