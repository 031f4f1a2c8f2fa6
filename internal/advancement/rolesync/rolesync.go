// Package rolesync reconciles a user's chat-platform roles with their
// advancement state across every shared guild.
package rolesync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mthorley/ascension/internal/advancement/domain"
	"github.com/mthorley/ascension/internal/chat"
)

var (
	// ErrUserNotFound indicates the user has no ledger entry to sync from.
	ErrUserNotFound = errors.New("user has no ledger entry")
	// ErrRoleNotBound indicates no role is bound for a (pathway, sequence) pair.
	ErrRoleNotBound = errors.New("no role bound for pathway and sequence")
	// ErrNotConfigured indicates the synchronizer is missing wiring.
	ErrNotConfigured = errors.New("role synchronizer is not configured")
)

const (
	defaultFanOutLimit = 4

	removalReason  = "sequence change"
	additionReason = "sequence change"
)

// Store is the persistence the synchronizer reads bindings and state from.
type Store interface {
	// Pathway returns the user's current pathway. Returns ErrUserNotFound
	// when the user has no ledger entry.
	Pathway(ctx context.Context, userID string) (int, error)
	// BoundRole returns the role id bound to one (pathway, sequence) pair.
	// Returns ErrRoleNotBound when no binding exists.
	BoundRole(ctx context.Context, pathway int, sequence int) (string, error)
}

// Outcome records the result of synchronizing one guild.
type Outcome struct {
	GuildID string
	// Skipped reports the member could not be resolved in the guild; the
	// guild is left untouched.
	Skipped bool
	// Removed lists role ids successfully removed from the member.
	Removed []string
	// Added is the role id granted for the new sequence, when bound.
	Added string
	// Err carries the first failure encountered in the guild. Failures never
	// abort synchronization of other guilds.
	Err error
}

// Synchronizer reconciles chat roles against ledger state.
//
// Synchronization is best-effort per guild: guilds fan out with bounded
// concurrency, failures are captured per guild, and a partial remove/add pair
// is left for the next sync rather than rolled back.
type Synchronizer struct {
	store     Store
	directory chat.Directory
	limit     int
	logf      func(format string, args ...any)
}

// NewSynchronizer constructs a role synchronizer. A fanOutLimit of zero or
// less selects the default.
func NewSynchronizer(store Store, directory chat.Directory, fanOutLimit int) *Synchronizer {
	if fanOutLimit <= 0 {
		fanOutLimit = defaultFanOutLimit
	}
	return &Synchronizer{
		store:     store,
		directory: directory,
		limit:     fanOutLimit,
		logf:      log.Printf,
	}
}

// Sync reconciles the user's roles in every guild the bot participates in:
// every bound role for the user's pathway is removed from the member, then
// the role bound to (pathway, newSequence) is added when one exists.
func (s *Synchronizer) Sync(ctx context.Context, userID string, newSequence int) ([]Outcome, error) {
	if s == nil || s.store == nil || s.directory == nil {
		return nil, ErrNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	pathway, err := s.store.Pathway(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load pathway: %w", err)
	}

	guilds, err := s.directory.Guilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}

	outcomes := make([]Outcome, len(guilds))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.limit)
	for index, guild := range guilds {
		index, guild := index, guild
		group.Go(func() error {
			outcomes[index] = s.syncGuild(groupCtx, guild, userID, pathway, newSequence)
			return nil
		})
	}
	// Workers never return errors; failures land in their outcome.
	_ = group.Wait()
	return outcomes, nil
}

func (s *Synchronizer) syncGuild(ctx context.Context, guild chat.Guild, userID string, pathway int, newSequence int) Outcome {
	outcome := Outcome{GuildID: guild.ID}

	member, err := s.directory.Member(ctx, guild.ID, userID)
	if err != nil {
		outcome.Skipped = true
		if !errors.Is(err, chat.ErrMemberNotFound) {
			outcome.Err = err
		}
		s.logf("role sync: skip guild %s for user %s: %v", guild.ID, userID, err)
		return outcome
	}

	// Remove every bound role for the pathway so a drifted member cannot keep
	// stale sequence roles.
	for sequence := domain.MinSequence; sequence <= domain.MaxSequence; sequence++ {
		roleID, err := s.store.BoundRole(ctx, pathway, sequence)
		if err != nil {
			if errors.Is(err, ErrRoleNotBound) {
				continue
			}
			outcome.Err = fmt.Errorf("load role binding for sequence %d: %w", sequence, err)
			return outcome
		}
		if !member.HasRole(roleID) {
			continue
		}
		if err := s.directory.RemoveRole(ctx, guild.ID, userID, roleID, removalReason); err != nil {
			s.logf("role sync: remove role %s from %s in guild %s: %v", roleID, userID, guild.ID, err)
			if outcome.Err == nil {
				outcome.Err = err
			}
			continue
		}
		outcome.Removed = append(outcome.Removed, roleID)
	}

	newRoleID, err := s.store.BoundRole(ctx, pathway, newSequence)
	if err != nil {
		if errors.Is(err, ErrRoleNotBound) {
			s.logf("role sync: no role bound for pathway %d sequence %d", pathway, newSequence)
			return outcome
		}
		if outcome.Err == nil {
			outcome.Err = fmt.Errorf("load role binding for new sequence %d: %w", newSequence, err)
		}
		return outcome
	}
	if err := s.directory.AddRole(ctx, guild.ID, userID, newRoleID, additionReason); err != nil {
		s.logf("role sync: add role %s to %s in guild %s: %v", newRoleID, userID, guild.ID, err)
		if outcome.Err == nil {
			outcome.Err = err
		}
		return outcome
	}
	outcome.Added = newRoleID
	return outcome
}
