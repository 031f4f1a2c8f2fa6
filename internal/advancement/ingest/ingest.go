// Package ingest validates and normalizes inbound task-completion events into
// signed XP deltas.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEvent indicates the event lacks a task-service identity.
	ErrInvalidEvent = errors.New("event is missing task user id")
	// ErrNotLinked indicates the task-service identity has no chat identity.
	ErrNotLinked = errors.New("task user is not linked to a chat identity")
	// ErrStoreNotConfigured indicates the ingestor is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("ingest store is not configured")
)

// Task difficulties derived from the task's priority value.
const (
	DifficultyTrivial = "trivial"
	DifficultyEasy    = "easy"
	DifficultyMedium  = "medium"
	DifficultyHard    = "hard"
)

// DirectionDown marks a task scored negatively (uncompleted); its XP award is
// negated. Any other direction scores positively.
const DirectionDown = "down"

// Task carries the task fields of an inbound event.
type Task struct {
	UserID   string
	Type     string
	Priority float64
}

// TaskEvent is one normalized inbound task-completion event.
type TaskEvent struct {
	Task      Task
	Direction string
}

// Resolution is the outcome of ingesting a valid event.
type Resolution struct {
	// ChatUserID is the linked chat identity the delta applies to.
	ChatUserID string
	// Delta is the signed XP change. Zero is a valid outcome for unmapped
	// task types or difficulties, not a fault.
	Delta int64
	// TaskType and Difficulty describe how the delta was derived.
	TaskType   string
	Difficulty string
}

// Store is the persistence the ingestor resolves events against.
type Store interface {
	// ChatUserID resolves a task-service identity to its linked chat
	// identity. Returns ErrNotLinked when no link exists.
	ChatUserID(ctx context.Context, taskUserID string) (string, error)
	// XPAward returns the configured award for one (task type, difficulty)
	// pair, or (0, nil) when no rule is mapped.
	XPAward(ctx context.Context, taskType string, difficulty string) (int64, error)
}

// Ingestor validates inbound events and computes their XP delta.
type Ingestor struct {
	store Store
}

// NewIngestor constructs an event ingestor.
func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

// Ingest validates the event, resolves its identity link, and computes the
// signed XP delta from the configured award rules.
func (i *Ingestor) Ingest(ctx context.Context, event TaskEvent) (Resolution, error) {
	if i == nil || i.store == nil {
		return Resolution{}, ErrStoreNotConfigured
	}

	taskUserID := strings.TrimSpace(event.Task.UserID)
	if taskUserID == "" {
		return Resolution{}, ErrInvalidEvent
	}
	// A missing or unknown task type is not a fault. No rule maps to it, so
	// the lookup yields a zero delta.
	taskType := strings.TrimSpace(event.Task.Type)

	chatUserID, err := i.store.ChatUserID(ctx, taskUserID)
	if err != nil {
		if errors.Is(err, ErrNotLinked) {
			return Resolution{}, ErrNotLinked
		}
		return Resolution{}, fmt.Errorf("resolve task identity: %w", err)
	}

	difficulty := DifficultyFromPriority(event.Task.Priority)
	award, err := i.store.XPAward(ctx, taskType, difficulty)
	if err != nil {
		return Resolution{}, fmt.Errorf("look up xp award: %w", err)
	}

	delta := award
	if strings.EqualFold(strings.TrimSpace(event.Direction), DirectionDown) {
		if delta < 0 {
			delta = -delta
		}
		delta = -delta
	}

	return Resolution{
		ChatUserID: chatUserID,
		Delta:      delta,
		TaskType:   taskType,
		Difficulty: difficulty,
	}, nil
}

// DifficultyFromPriority maps the task service's continuous priority value to
// a discrete difficulty tier by fixed breakpoints.
func DifficultyFromPriority(priority float64) string {
	switch {
	case priority <= 1:
		return DifficultyTrivial
	case priority <= 1.5:
		return DifficultyEasy
	case priority <= 2:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}
