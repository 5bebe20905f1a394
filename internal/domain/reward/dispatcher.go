// Package reward hands out role rewards and level-up notifications. Both
// are side effects of an already persisted level change and never undo it.
package reward

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/levelup/internal/domain/grant"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// DefaultMessage is used when a guild configures no template.
const DefaultMessage = "Congratulations {user}, you reached level {level}!"

// Reward is a role unlocked at a level.
type Reward struct {
	Level  int    `json:"level"`
	RoleID string `json:"roleId"`
}

// ResolveReward returns the role configured for exactly level.
func ResolveReward(cfg progression.Config, level int) (string, bool) {
	role, ok := cfg.RoleRewards[level]
	return role, ok && role != ""
}

// HighestUnlocked returns the highest reward at or below level. It is for
// display only and never triggers an award.
func HighestUnlocked(cfg progression.Config, level int) (Reward, bool) {
	best := Reward{}
	for _, l := range cfg.RewardLevels() {
		if l > level {
			break
		}
		best = Reward{Level: l, RoleID: cfg.RoleRewards[l]}
	}
	return best, best.RoleID != ""
}

// Dispatcher implements grant.LevelUpHandler.
type Dispatcher struct {
	guild     GuildAPI
	messenger Messenger
	renderer  CardRenderer
	logger    logger.Logger
}

var _ grant.LevelUpHandler = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(guild GuildAPI, messenger Messenger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		guild:     guild,
		messenger: messenger,
		logger:    logger.Get().Named("reward"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleLevelUp awards the role of every level crossed and then announces
// the new level.
func (d *Dispatcher) HandleLevelUp(ctx context.Context, ev grant.LevelUp) {
	var awarded []string
	for level := ev.OldLevel + 1; level <= ev.NewLevel; level++ {
		roleID, ok := ResolveReward(ev.Config, level)
		if !ok {
			continue
		}
		if err := d.Award(ctx, ev.Key, roleID); err == nil {
			awarded = append(awarded, roleID)
		}
	}
	if _, err := d.Notify(ctx, ev, awarded); err != nil {
		d.logger.Warn(ctx, "level-up notification failed",
			logger.String("key", ev.Key.String()),
			logger.Error(err),
		)
	}
}

// Award assigns roleID to the user. A failure is reported and counted;
// the user's progression is left as is.
func (d *Dispatcher) Award(ctx context.Context, key progression.Key, roleID string) error {
	if d.guild == nil {
		metrics.RecordRoleAward("skipped")
		return nil
	}
	if err := d.guild.AssignRole(ctx, key.GuildID, key.UserID, roleID); err != nil {
		metrics.RecordRoleAward("failed")
		d.logger.Error(ctx, "role reward not assigned",
			logger.String("key", key.String()),
			logger.String("role", roleID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: role %s for %s: %v", ErrRoleAssignment, roleID, key, err)
	}
	metrics.RecordRoleAward("assigned")
	d.logger.Info(ctx, "role reward assigned", logger.String("key", key.String()), logger.String("role", roleID))
	return nil
}

// Notify posts the level-up message to the guild's channel. It reports
// false without error when notifications are off or no channel is set.
// A card render failure downgrades the post to text only.
func (d *Dispatcher) Notify(ctx context.Context, ev grant.LevelUp, awardedRoles []string) (bool, error) {
	n := ev.Config.Notifications
	if !n.Enabled || n.ChannelID == "" || d.messenger == nil {
		metrics.RecordNotification("skipped")
		return false, nil
	}

	member := Member{ID: ev.Key.UserID, DisplayName: ev.Key.UserID}
	if d.guild != nil {
		if m, err := d.guild.FetchMember(ctx, ev.Key.GuildID, ev.Key.UserID); err == nil {
			member = m
		} else {
			d.logger.Debug(ctx, "member lookup failed", logger.String("key", ev.Key.String()), logger.Error(err))
		}
	}

	msg := Message{
		GuildID:   ev.Key.GuildID,
		ChannelID: n.ChannelID,
		Content:   d.render(ctx, ev, member, awardedRoles),
	}
	outcome := "sent"
	if d.renderer != nil {
		card := Card{GuildID: ev.Key.GuildID, Member: member, Progress: ev.Config.LevelFormula.Progress(ev.XP)}
		img, err := d.renderer.Render(ctx, card, n.CardStyle)
		if err != nil {
			outcome = "text_only"
			d.logger.Warn(ctx, "card render failed; sending text only",
				logger.String("key", ev.Key.String()),
				logger.Error(err),
			)
		} else {
			msg.Image = img
		}
	}

	if err := d.messenger.Send(ctx, msg); err != nil {
		metrics.RecordNotification("failed")
		return false, fmt.Errorf("%w: channel %s: %v", ErrDelivery, n.ChannelID, err)
	}
	metrics.RecordNotification(outcome)
	return true, nil
}

// render fills the {user}, {level}, {xp} and {role} placeholders.
func (d *Dispatcher) render(ctx context.Context, ev grant.LevelUp, member Member, roles []string) string {
	tmpl := ev.Config.Notifications.Message
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultMessage
	}
	name := member.DisplayName
	if name == "" {
		name = member.ID
	}
	roleNames := make([]string, 0, len(roles))
	for _, id := range roles {
		roleNames = append(roleNames, d.roleName(ctx, ev.Key.GuildID, id))
	}
	return strings.NewReplacer(
		"{user}", name,
		"{level}", strconv.Itoa(ev.NewLevel),
		"{xp}", strconv.FormatInt(ev.XP, 10),
		"{role}", strings.Join(roleNames, ", "),
	).Replace(tmpl)
}

func (d *Dispatcher) roleName(ctx context.Context, guildID, roleID string) string {
	if d.guild == nil {
		return roleID
	}
	role, err := d.guild.FetchRole(ctx, guildID, roleID)
	if err != nil || role.Name == "" {
		return roleID
	}
	return role.Name
}
