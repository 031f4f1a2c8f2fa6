package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Engine applies XP deltas to ledger entries and settles promotions and
// demotions against the store.
//
// The engine persists every intermediate state before computing the next step
// and re-reads after every write, so a crash mid-loop leaves the ledger in a
// valid, resumable state. Workflows for the same user are serialized with a
// per-user lock; different users settle concurrently.
type Engine struct {
	store Store
	logf  func(format string, args ...any)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine constructs the promotion/demotion engine.
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		logf:  log.Printf,
		locks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing settle workflows for one user.
// Locks are retained for the life of the process; the map is bounded by the
// active user population.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[userID] = lock
	}
	return lock
}

// Threshold resolves the XP required to promote out of sequence: store
// override first, then the compiled-in default, then a generic fallback that
// is only reachable for sequences outside the ladder.
func (e *Engine) Threshold(ctx context.Context, sequence int) (int64, error) {
	if e == nil || e.store == nil {
		return 0, ErrStoreNotConfigured
	}
	value, err := e.store.ThresholdOverride(ctx, sequence)
	if err == nil {
		return value, nil
	}
	if !isNotFound(err) {
		return 0, fmt.Errorf("threshold override for sequence %d: %w", sequence, err)
	}
	if value, ok := DefaultThreshold(sequence); ok {
		return value, nil
	}
	e.logf("threshold configuration gap: sequence %d outside ladder, using fallback %d", sequence, fallbackThreshold)
	return fallbackThreshold, nil
}

// ApplyDelta adds delta to the user's XP and settles the resulting state:
// at most one demotion step, then as many promotion steps as the remaining
// XP affords. Returns the settled entry and the transitions taken.
func (e *Engine) ApplyDelta(ctx context.Context, userID string, delta int64) (Result, error) {
	if e == nil || e.store == nil {
		return Result{}, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, ErrUserIDRequired
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.store.AddXP(ctx, userID, delta)
	if err != nil {
		return Result{}, fmt.Errorf("add xp delta: %w", err)
	}

	result := Result{Delta: delta}

	// Demotion: a negative balance floors to zero and costs exactly one tier,
	// however deep the balance went. The remainder is discarded.
	if entry.XP < 0 {
		from := entry.Sequence
		to := from + 1
		if to > MaxSequence {
			to = MaxSequence
		}
		entry.XP = 0
		entry.Sequence = to
		if err := e.store.PutEntry(ctx, entry); err != nil {
			return Result{}, fmt.Errorf("persist demotion: %w", err)
		}
		entry, err = e.store.GetEntry(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("reload after demotion: %w", err)
		}
		result.Demoted = true
		result.DemotedFrom = from
		result.DemotedTo = to
	}

	promotions, entry, err := e.settlePromotions(ctx, entry)
	if err != nil {
		return Result{}, err
	}
	result.Promotions = promotions
	result.Entry = entry
	return result, nil
}

// ApplyPromotions re-runs the promotion loop from the current persisted state
// without any demotion check. Used for administrative corrections where XP
// was set directly rather than delta-applied.
func (e *Engine) ApplyPromotions(ctx context.Context, userID string) (Entry, []Transition, error) {
	if e == nil || e.store == nil {
		return Entry{}, nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, nil, ErrUserIDRequired
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.store.GetEntry(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return Entry{}, nil, ErrNotFound
		}
		return Entry{}, nil, fmt.Errorf("load entry: %w", err)
	}
	promotions, entry, err := e.settlePromotions(ctx, entry)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, promotions, nil
}

// SetXP overwrites the user's XP, creating a default entry when absent, and
// re-runs promotions. Demotion never applies to administrative sets.
func (e *Engine) SetXP(ctx context.Context, userID string, xp int64) (Entry, []Transition, error) {
	if e == nil || e.store == nil {
		return Entry{}, nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, nil, ErrUserIDRequired
	}
	if xp < 0 {
		xp = 0
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.store.GetEntry(ctx, userID)
	if err != nil {
		if !isNotFound(err) {
			return Entry{}, nil, fmt.Errorf("load entry: %w", err)
		}
		entry = DefaultEntry(userID)
	}
	entry.XP = xp
	if err := e.store.PutEntry(ctx, entry); err != nil {
		return Entry{}, nil, fmt.Errorf("persist xp set: %w", err)
	}
	entry, err = e.store.GetEntry(ctx, userID)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("reload after xp set: %w", err)
	}
	promotions, entry, err := e.settlePromotions(ctx, entry)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, promotions, nil
}

// AdjustXP adds delta to the user's XP, creating a default entry when absent,
// and re-runs promotions. Demotion never applies to administrative
// adjustments; a negative balance clamps to zero instead.
func (e *Engine) AdjustXP(ctx context.Context, userID string, delta int64) (Entry, []Transition, error) {
	if e == nil || e.store == nil {
		return Entry{}, nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, nil, ErrUserIDRequired
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.store.AddXP(ctx, userID, delta)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("add xp adjustment: %w", err)
	}
	if entry.XP < 0 {
		entry.XP = 0
		if err := e.store.PutEntry(ctx, entry); err != nil {
			return Entry{}, nil, fmt.Errorf("clamp negative adjustment: %w", err)
		}
		entry, err = e.store.GetEntry(ctx, userID)
		if err != nil {
			return Entry{}, nil, fmt.Errorf("reload after clamp: %w", err)
		}
	}
	promotions, entry, err := e.settlePromotions(ctx, entry)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, promotions, nil
}

// Reset returns the user to the default state.
func (e *Engine) Reset(ctx context.Context, userID string) (Entry, error) {
	if e == nil || e.store == nil {
		return Entry{}, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, ErrUserIDRequired
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	entry := DefaultEntry(userID)
	if err := e.store.PutEntry(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("persist reset: %w", err)
	}
	return entry, nil
}

// settlePromotions runs the promotion loop: while the entry is below the
// terminal tier and its XP meets the tier threshold, spend the threshold and
// move one tier up. Every step is persisted and re-read before the next
// decision, so the remainder carries forward and the loop is restart-safe.
func (e *Engine) settlePromotions(ctx context.Context, entry Entry) ([]Transition, Entry, error) {
	var promotions []Transition
	for entry.Sequence > MinSequence {
		required, err := e.Threshold(ctx, entry.Sequence)
		if err != nil {
			return nil, Entry{}, err
		}
		if entry.XP < required {
			break
		}
		from := entry.Sequence
		entry.XP -= required
		entry.Sequence = from - 1
		if err := e.store.PutEntry(ctx, entry); err != nil {
			return nil, Entry{}, fmt.Errorf("persist promotion %d to %d: %w", from, entry.Sequence, err)
		}
		entry, err = e.store.GetEntry(ctx, entry.UserID)
		if err != nil {
			return nil, Entry{}, fmt.Errorf("reload after promotion: %w", err)
		}
		promotions = append(promotions, Transition{From: from, To: from - 1})
	}
	return promotions, entry, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
