// Package app wires the advancement components into the ingest, admin, and
// transport surfaces of the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mthorley/ascension/internal/advancement/announce"
	"github.com/mthorley/ascension/internal/advancement/domain"
	"github.com/mthorley/ascension/internal/advancement/ingest"
	"github.com/mthorley/ascension/internal/advancement/rolesync"
	"github.com/mthorley/ascension/internal/advancement/storage"
	"github.com/mthorley/ascension/internal/chat"
)

// ErrInvalidArgument marks a caller-supplied value the service rejected.
var ErrInvalidArgument = errors.New("invalid argument")

const defaultLeaderboardLimit = 10

var validTaskTypes = map[string]bool{
	"habit": true,
	"daily": true,
	"todo":  true,
}

var validDifficulties = map[string]bool{
	ingest.DifficultyTrivial: true,
	ingest.DifficultyEasy:    true,
	ingest.DifficultyMedium:  true,
	ingest.DifficultyHard:    true,
}

// Service orchestrates the advancement workflow: event ingestion, XP
// settling, announcements, and role synchronization, plus the admin
// operations that configure them.
type Service struct {
	store     storage.Store
	engine    *domain.Engine
	ingestor  *ingest.Ingestor
	sync      *rolesync.Synchronizer
	announcer *announce.Announcer
	directory chat.Directory
	logf      func(format string, args ...any)
}

// NewService wires a service over the given store and chat collaborators.
// Directory and messenger may be nil; role synchronization and announcements
// then degrade to no-ops.
func NewService(store storage.Store, directory chat.Directory, messenger chat.Messenger, syncFanOut int) *Service {
	service := &Service{
		store:     store,
		engine:    domain.NewEngine(ledgerAdapter{store: store}),
		ingestor:  ingest.NewIngestor(ingestAdapter{store: store}),
		announcer: announce.NewAnnouncer(store, messenger),
		directory: directory,
		logf:      log.Printf,
	}
	if directory != nil {
		service.sync = rolesync.NewSynchronizer(rolesyncAdapter{store: store}, directory, syncFanOut)
	}
	return service
}

// TaskOutcome is the settled result of one inbound task event.
type TaskOutcome struct {
	ChatUserID string
	Delta      int64
	TaskType   string
	Difficulty string
	Result     domain.Result
}

// HandleTaskEvent runs the full advancement workflow for one task event:
// ingest resolves the identity and delta, the engine settles the ledger, and
// announcements and role sync follow the settled state. Announcement and sync
// failures are logged, never propagated; a webhook retry must not re-apply XP.
func (s *Service) HandleTaskEvent(ctx context.Context, event ingest.TaskEvent) (TaskOutcome, error) {
	resolution, err := s.ingestor.Ingest(ctx, event)
	if err != nil {
		return TaskOutcome{}, err
	}

	result, err := s.engine.ApplyDelta(ctx, resolution.ChatUserID, resolution.Delta)
	if err != nil {
		return TaskOutcome{}, fmt.Errorf("apply xp delta: %w", err)
	}

	s.announcer.XPChange(ctx, resolution.ChatUserID, resolution.Delta, resolution.TaskType, resolution.Difficulty)
	if result.Demoted {
		s.announcer.Demotion(ctx, resolution.ChatUserID, result.DemotedFrom, result.DemotedTo)
	}
	for _, promotion := range result.Promotions {
		s.announcer.Promotion(ctx, resolution.ChatUserID, promotion.From, promotion.To)
	}
	// Every settled event reconciles roles, not just transitions. A member
	// whose roles drifted converges on their next event.
	s.syncRoles(ctx, resolution.ChatUserID, result.Entry.Sequence)

	return TaskOutcome{
		ChatUserID: resolution.ChatUserID,
		Delta:      resolution.Delta,
		TaskType:   resolution.TaskType,
		Difficulty: resolution.Difficulty,
		Result:     result,
	}, nil
}

// LinkIdentity binds a task-service identity to a chat identity. Re-linking
// overwrites the previous binding.
func (s *Service) LinkIdentity(ctx context.Context, taskUserID string, chatUserID string) error {
	taskUserID = strings.TrimSpace(taskUserID)
	chatUserID = strings.TrimSpace(chatUserID)
	if taskUserID == "" || chatUserID == "" {
		return fmt.Errorf("%w: task user id and chat user id are required", ErrInvalidArgument)
	}
	return s.store.SetIdentityLink(ctx, storage.IdentityLinkRecord{
		TaskUserID: taskUserID,
		ChatUserID: chatUserID,
	})
}

// SetRule upserts the XP award for one (task type, difficulty) pair.
func (s *Service) SetRule(ctx context.Context, taskType string, difficulty string, xp int64) error {
	taskType = strings.ToLower(strings.TrimSpace(taskType))
	difficulty = strings.ToLower(strings.TrimSpace(difficulty))
	if !validTaskTypes[taskType] {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, taskType)
	}
	if !validDifficulties[difficulty] {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidArgument, difficulty)
	}
	if xp < 0 {
		return fmt.Errorf("%w: xp award must not be negative", ErrInvalidArgument)
	}
	return s.store.SetXPRule(ctx, storage.XPRuleRecord{
		TaskType:   taskType,
		Difficulty: difficulty,
		XP:         xp,
	})
}

// SetThreshold overrides the XP requirement for promoting out of one sequence.
func (s *Service) SetThreshold(ctx context.Context, sequence int, xpRequired int64) error {
	if err := validateSequence(sequence); err != nil {
		return err
	}
	if xpRequired <= 0 {
		return fmt.Errorf("%w: threshold must be positive", ErrInvalidArgument)
	}
	return s.store.SetThreshold(ctx, sequence, xpRequired)
}

// BindRole maps a (pathway, sequence) pair to a chat role.
func (s *Service) BindRole(ctx context.Context, pathway int, sequence int, roleID string) error {
	if err := validatePathway(pathway); err != nil {
		return err
	}
	if err := validateSequence(sequence); err != nil {
		return err
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidArgument)
	}
	return s.store.SetRoleBinding(ctx, storage.RoleBindingRecord{
		Pathway:  pathway,
		Sequence: sequence,
		RoleID:   roleID,
	})
}

// BindPathwayRole maps a pathway to its per-guild display role.
func (s *Service) BindPathwayRole(ctx context.Context, guildID string, pathway int, roleID string) error {
	if err := validatePathway(pathway); err != nil {
		return err
	}
	guildID = strings.TrimSpace(guildID)
	roleID = strings.TrimSpace(roleID)
	if guildID == "" || roleID == "" {
		return fmt.Errorf("%w: guild id and role id are required", ErrInvalidArgument)
	}
	return s.store.SetPathwayRole(ctx, storage.PathwayRoleRecord{
		GuildID: guildID,
		Pathway: pathway,
		RoleID:  roleID,
	})
}

// SetAnnounceChannel points announcements at a broadcast channel. A blank
// channel id disables announcements.
func (s *Service) SetAnnounceChannel(ctx context.Context, channelID string) error {
	return s.store.SetSetting(ctx, storage.SettingAnnounceChannel, strings.TrimSpace(channelID))
}

// SetXP replaces a user's XP outright and settles any promotions it earns.
// Administrative sets never demote.
func (s *Service) SetXP(ctx context.Context, userID string, xp int64) (domain.Entry, []domain.Transition, error) {
	entry, promotions, err := s.engine.SetXP(ctx, userID, xp)
	if err != nil {
		return domain.Entry{}, nil, err
	}
	s.syncRoles(ctx, userID, entry.Sequence)
	return entry, promotions, nil
}

// AdjustXP adds a signed delta to a user's XP. Negative results floor at zero
// without demotion; earned promotions settle as usual.
func (s *Service) AdjustXP(ctx context.Context, userID string, delta int64) (domain.Entry, []domain.Transition, error) {
	entry, promotions, err := s.engine.AdjustXP(ctx, userID, delta)
	if err != nil {
		return domain.Entry{}, nil, err
	}
	s.syncRoles(ctx, userID, entry.Sequence)
	return entry, promotions, nil
}

// ResetUser returns a user to the default entry state and syncs their roles
// back to the entry sequence.
func (s *Service) ResetUser(ctx context.Context, userID string) (domain.Entry, error) {
	entry, err := s.engine.Reset(ctx, userID)
	if err != nil {
		return domain.Entry{}, err
	}
	s.syncRoles(ctx, userID, entry.Sequence)
	return entry, nil
}

// UserView is a user's advancement state with a display label for their
// pathway, resolved per guild when a pathway role is bound there.
type UserView struct {
	Entry        domain.Entry
	PathwayLabel string
}

// GetUser loads one user's state. When guildID is given and a pathway role is
// bound in that guild, the role's display name labels the pathway; otherwise
// the numeric pathway is used.
func (s *Service) GetUser(ctx context.Context, userID string, guildID string) (UserView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	record, err := s.store.GetLedger(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	view := UserView{
		Entry:        entryFromRecord(record),
		PathwayLabel: strconv.Itoa(record.Pathway),
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" || s.directory == nil {
		return view, nil
	}
	pathwayRole, err := s.store.GetPathwayRole(ctx, guildID, record.Pathway)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logf("get user: load pathway role: %v", err)
		}
		return view, nil
	}
	name, err := s.directory.RoleName(ctx, guildID, pathwayRole.RoleID)
	if err != nil {
		s.logf("get user: resolve pathway role name: %v", err)
		return view, nil
	}
	view.PathwayLabel = name
	return view, nil
}

// Leaderboard lists users ranked by XP descending. A non-positive limit
// selects the default.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]storage.LedgerRecord, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	return s.store.ListTopByXP(ctx, limit)
}

func (s *Service) syncRoles(ctx context.Context, userID string, sequence int) {
	if s.sync == nil {
		return
	}
	outcomes, err := s.sync.Sync(ctx, userID, sequence)
	if err != nil {
		s.logf("role sync for %s: %v", userID, err)
		return
	}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			s.logf("role sync for %s in guild %s: %v", userID, outcome.GuildID, outcome.Err)
		}
	}
}

func validateSequence(sequence int) error {
	if sequence < domain.MinSequence || sequence > domain.MaxSequence {
		return fmt.Errorf("%w: sequence must be between %d and %d", ErrInvalidArgument, domain.MinSequence, domain.MaxSequence)
	}
	return nil
}

func validatePathway(pathway int) error {
	if pathway < 1 || pathway > domain.NumPathways {
		return fmt.Errorf("%w: pathway must be between 1 and %d", ErrInvalidArgument, domain.NumPathways)
	}
	return nil
}
