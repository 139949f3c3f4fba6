// Package telegram wraps the Bot API behind the narrow client surface the
// engine needs, and classifies its failures.
package telegram

import (
	"context"
	"fmt"
)

// UserInfo is the identity returned by GetMe.
type UserInfo struct {
	ID       int64
	Username string
	FullName string
}

// ChatInfo is the chat metadata returned by GetChat.
type ChatInfo struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

// MemberStatus is a chat member state as reported by the platform.
type MemberStatus string

const (
	MemberStatusAdministrator MemberStatus = "administrator"
	MemberStatusCreator       MemberStatus = "creator"
	MemberStatusMember        MemberStatus = "member"
	MemberStatusLeft          MemberStatus = "left"
	MemberStatusKicked        MemberStatus = "kicked"
	MemberStatusRestricted    MemberStatus = "restricted"
)

// IsAdmin reports whether the status grants admin rights for binding.
func (s MemberStatus) IsAdmin() bool {
	return s == MemberStatusAdministrator || s == MemberStatusCreator
}

// Source identifies a channel message to forward, by public username or by
// private channel id.
type Source struct {
	ChannelUsername string
	ChannelID       *int64
	MessageID       int64
}

// Label renders the operator-facing source link: t.me/<username>/<id> for
// public channels, the /c/ slug form for private ones.
func (s Source) Label() string {
	if s.ChannelUsername != "" {
		return fmt.Sprintf("t.me/%s/%d", s.ChannelUsername, s.MessageID)
	}
	if s.ChannelID != nil {
		// Private channel ids carry a -100 prefix on the wire.
		id := *s.ChannelID
		if id < 0 {
			id = -id
		}
		slug := fmt.Sprintf("%d", id)
		if len(slug) > 3 && slug[:3] == "100" {
			slug = slug[3:]
		}
		return fmt.Sprintf("t.me/c/%s/%d", slug, s.MessageID)
	}
	return fmt.Sprintf("message %d", s.MessageID)
}

// Client is the outbound platform surface. Every call may fail with an
// *APIError; Classify sorts those into retry and escalation policies.
type Client interface {
	GetMe(ctx context.Context) (*UserInfo, error)
	GetChat(ctx context.Context, chatID int64) (*ChatInfo, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	// Forward copies the source message into the chat and returns the new
	// message id.
	Forward(ctx context.Context, chatID int64, source Source) (int64, error)
	Delete(ctx context.Context, chatID, messageID int64) error
	Pin(ctx context.Context, chatID, messageID int64) error
	// SendText delivers an HTML-formatted message.
	SendText(ctx context.Context, chatID int64, html string) error
}
