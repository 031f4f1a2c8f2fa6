// Package chat defines the chat-platform capability boundary.
//
// The advancement service never talks to a chat platform directly. It depends
// on the Directory and Messenger interfaces, injected at construction, so the
// engine and synchronizer can be tested against in-memory fakes and the real
// client remains an external collaborator.
package chat

import (
	"context"
	"errors"
)

var (
	// ErrMemberNotFound indicates the user is not a member of the guild.
	ErrMemberNotFound = errors.New("guild member not found")
	// ErrRoleNotFound indicates the guild does not carry the requested role.
	ErrRoleNotFound = errors.New("guild role not found")
)

// Guild identifies one community the bot participates in.
type Guild struct {
	ID   string
	Name string
}

// Member is one resolved guild membership with its currently held roles.
type Member struct {
	UserID  string
	RoleIDs []string
}

// HasRole reports whether the member currently holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, held := range m.RoleIDs {
		if held == roleID {
			return true
		}
	}
	return false
}

// Directory resolves guilds, members, and role assignments on the chat platform.
type Directory interface {
	// Guilds lists every guild the bot participates in.
	Guilds(ctx context.Context) ([]Guild, error)
	// Member resolves one guild membership. Returns ErrMemberNotFound when the
	// user is not resolvable in the guild.
	Member(ctx context.Context, guildID string, userID string) (Member, error)
	// AddRole grants roleID to the member. The reason is surfaced in the
	// platform's audit log.
	AddRole(ctx context.Context, guildID string, userID string, roleID string, reason string) error
	// RemoveRole revokes roleID from the member.
	RemoveRole(ctx context.Context, guildID string, userID string, roleID string, reason string) error
	// RoleName resolves a display name for roleID within the guild.
	RoleName(ctx context.Context, guildID string, roleID string) (string, error)
}

// Messenger delivers human-readable messages to a broadcast channel.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, content string) error
}
