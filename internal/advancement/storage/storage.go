// Package storage declares the persistence boundary for advancement state.
//
// The engine and synchronizer never touch a database directly; they operate on
// these records through the store interfaces so the backend stays a pure
// implementation detail.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicted with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// SettingAnnounceChannel keys the broadcast channel id for announcements.
const SettingAnnounceChannel = "announce_channel_id"

// LedgerRecord stores one user's advancement state.
//
// XP may go transiently negative inside a settle step but is never persisted
// negative; the engine floors it to zero before writing a demotion.
type LedgerRecord struct {
	UserID   string
	XP       int64
	Pathway  int
	Sequence int
}

// RoleBindingRecord maps one (pathway, sequence) pair to a chat role id.
type RoleBindingRecord struct {
	Pathway  int
	Sequence int
	RoleID   string
}

// PathwayRoleRecord maps a pathway to a per-guild display role.
type PathwayRoleRecord struct {
	GuildID string
	Pathway int
	RoleID  string
}

// IdentityLinkRecord maps a task-service user id to a chat identity.
type IdentityLinkRecord struct {
	TaskUserID string
	ChatUserID string
}

// XPRuleRecord stores the XP award for one (task type, difficulty) pair.
type XPRuleRecord struct {
	TaskType   string
	Difficulty string
	XP         int64
}

// LedgerStore persists user advancement state.
type LedgerStore interface {
	// GetLedger loads one user's ledger entry. Returns ErrNotFound when the
	// user has no entry yet.
	GetLedger(ctx context.Context, userID string) (LedgerRecord, error)
	// PutLedger upserts the full mutable state of one entry. Idempotent.
	PutLedger(ctx context.Context, record LedgerRecord) error
	// AddXP creates a default entry when absent, atomically adds delta to its
	// XP inside a single transaction, and returns the resulting entry.
	AddXP(ctx context.Context, userID string, delta int64) (LedgerRecord, error)
	// ListTopByXP lists up to limit entries ranked by XP descending.
	ListTopByXP(ctx context.Context, limit int) ([]LedgerRecord, error)
}

// ThresholdStore persists per-sequence promotion threshold overrides.
type ThresholdStore interface {
	GetThreshold(ctx context.Context, sequence int) (int64, error)
	SetThreshold(ctx context.Context, sequence int, xpRequired int64) error
}

// RoleBindingStore persists role bindings and per-guild pathway display roles.
type RoleBindingStore interface {
	GetRoleBinding(ctx context.Context, pathway int, sequence int) (RoleBindingRecord, error)
	SetRoleBinding(ctx context.Context, record RoleBindingRecord) error
	GetPathwayRole(ctx context.Context, guildID string, pathway int) (PathwayRoleRecord, error)
	SetPathwayRole(ctx context.Context, record PathwayRoleRecord) error
}

// IdentityStore persists task-service identity links.
type IdentityStore interface {
	GetIdentityLink(ctx context.Context, taskUserID string) (IdentityLinkRecord, error)
	SetIdentityLink(ctx context.Context, record IdentityLinkRecord) error
}

// RuleStore persists configurable XP award rules.
type RuleStore interface {
	GetXPRule(ctx context.Context, taskType string, difficulty string) (XPRuleRecord, error)
	SetXPRule(ctx context.Context, record XPRuleRecord) error
}

// SettingStore persists service settings such as the announcement channel.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
}

// Store aggregates every persistence capability the service wires together.
type Store interface {
	LedgerStore
	ThresholdStore
	RoleBindingStore
	IdentityStore
	RuleStore
	SettingStore
}
