// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"time"
)

// EventKind is the type of activity an event reports.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindVoiceState EventKind = "voice_state"
)

// ErrInvalidEvent is returned by Validate.
var ErrInvalidEvent = errors.New("invalid activity event")

// Event is one activity report from the chat platform.
// Fields mirror the OpenAPI schema for /events.
type Event struct {
	ID           string    `json:"id"`                     // unique id for idempotency
	Kind         EventKind `json:"kind"`                   // message or voice_state
	GuildID      string    `json:"guildId"`
	UserID       string    `json:"userId"`
	OldChannelID string    `json:"oldChannelId,omitempty"` // voice_state only; empty = not connected
	NewChannelID string    `json:"newChannelId,omitempty"` // voice_state only; empty = not connected
	TS           time.Time `json:"ts"`
}

// Validate checks the fields the workers rely on.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case e.GuildID == "" || e.UserID == "":
		return fmt.Errorf("%w: guildId and userId are required", ErrInvalidEvent)
	}
	switch e.Kind {
	case KindMessage:
		return nil
	case KindVoiceState:
		if e.OldChannelID == "" && e.NewChannelID == "" {
			return fmt.Errorf("%w: voice_state needs oldChannelId or newChannelId", ErrInvalidEvent)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
}
