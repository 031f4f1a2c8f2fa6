// Package domain implements the advancement ladder: XP accounting and the
// promotion/demotion state machine that settles a user's sequence after every
// XP change.
package domain

import (
	"context"
	"errors"
)

const (
	// MaxSequence is the entry tier of the ladder. Demotion is capped here.
	MaxSequence = 9
	// MinSequence is the terminal ascended tier. Promotion stops here.
	MinSequence = -1
	// NumPathways is the number of pathways a user can belong to.
	NumPathways = 22
	// DefaultPathway is assigned when an entry is created lazily.
	DefaultPathway = 1
)

var (
	// ErrNotFound indicates the user has no ledger entry.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrStoreNotConfigured indicates the engine is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("ledger store is not configured")
	// ErrUserIDRequired indicates a user identity is required.
	ErrUserIDRequired = errors.New("user id is required")
)

// Entry is one user's advancement state.
//
// XP can be negative only transiently, between an XP delta landing and the
// engine settling it; a settled entry always carries XP >= 0.
type Entry struct {
	UserID   string
	XP       int64
	Pathway  int
	Sequence int
}

// DefaultEntry returns the state assigned on first contact with a user.
func DefaultEntry(userID string) Entry {
	return Entry{UserID: userID, XP: 0, Pathway: DefaultPathway, Sequence: MaxSequence}
}

// Transition records one promotion step from one sequence to the next.
type Transition struct {
	From int
	To   int
}

// Result describes the settled outcome of applying one XP delta.
type Result struct {
	// Entry is the settled ledger state after every transition.
	Entry Entry
	// Delta is the signed XP change that triggered the settle.
	Delta int64
	// Demoted reports whether the delta drove XP negative. At most one
	// demotion step happens per delta regardless of magnitude.
	Demoted bool
	// DemotedFrom and DemotedTo describe the demotion step when Demoted.
	DemotedFrom int
	DemotedTo   int
	// Promotions lists every promotion step taken, in order.
	Promotions []Transition
}

// Store is the persistence boundary the engine settles against.
//
// Every mutation is followed by a re-read before the next decision; the engine
// carries no state across steps, which keeps the promotion loop resumable
// after a crash mid-settle.
type Store interface {
	// GetEntry loads one user's entry. Returns ErrNotFound when absent.
	GetEntry(ctx context.Context, userID string) (Entry, error)
	// PutEntry upserts the full mutable state of one entry.
	PutEntry(ctx context.Context, entry Entry) error
	// AddXP creates a default entry when absent, atomically adds delta to its
	// XP, and returns the resulting entry. The result may carry negative XP;
	// the engine settles it immediately.
	AddXP(ctx context.Context, userID string, delta int64) (Entry, error)
	// ThresholdOverride returns the stored XP requirement for one sequence.
	// Returns ErrNotFound when no override row exists.
	ThresholdOverride(ctx context.Context, sequence int) (int64, error)
}
