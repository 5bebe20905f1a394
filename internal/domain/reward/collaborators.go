package reward

import (
	"context"

	"github.com/okian/levelup/internal/domain/progression"
)

// Role is a guild role as reported by the platform.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is a guild member profile.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// GuildAPI mutates and reads guild state on the chat platform.
type GuildAPI interface {
	AssignRole(ctx context.Context, guildID, userID, roleID string) error
	FetchRole(ctx context.Context, guildID, roleID string) (Role, error)
	FetchMember(ctx context.Context, guildID, userID string) (Member, error)
}

// Card is the input of a rendered level-up card.
type Card struct {
	GuildID  string               `json:"guildId"`
	Member   Member               `json:"member"`
	Progress progression.Progress `json:"progress"`
}

// CardRenderer turns a card into an image.
type CardRenderer interface {
	Render(ctx context.Context, card Card, style string) ([]byte, error)
}

// Message is one channel post. Image is optional.
type Message struct {
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
	Image     []byte `json:"image,omitempty"`
}

// Messenger delivers messages to guild channels.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}
