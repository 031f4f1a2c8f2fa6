package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	advsqlite "github.com/mthorley/ascension/internal/advancement/storage/sqlite"
	"github.com/mthorley/ascension/internal/advancement/ingest"
	"github.com/mthorley/ascension/internal/chat"
)

func openTempStore(t *testing.T) *advsqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "advancement.db")
	store, err := advsqlite.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

type fakeDirectory struct {
	mu      sync.Mutex
	guilds  []chat.Guild
	members map[string]chat.Member
	names   map[string]string
	added   []string
	removed []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[string]chat.Member),
		names:   make(map[string]string),
	}
}

func (f *fakeDirectory) Guilds(ctx context.Context) ([]chat.Guild, error) {
	return f.guilds, nil
}

func (f *fakeDirectory) Member(ctx context.Context, guildID string, userID string) (chat.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[guildID+"/"+userID]
	if !ok {
		return chat.Member{}, chat.ErrMemberNotFound
	}
	return member, nil
}

func (f *fakeDirectory) AddRole(ctx context.Context, guildID string, userID string, roleID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, roleID)
	return nil
}

func (f *fakeDirectory) RemoveRole(ctx context.Context, guildID string, userID string, roleID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, roleID)
	return nil
}

func (f *fakeDirectory) resetLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added, f.removed = nil, nil
}

func (f *fakeDirectory) RoleName(ctx context.Context, guildID string, roleID string) (string, error) {
	name, ok := f.names[roleID]
	if !ok {
		return "", chat.ErrRoleNotFound
	}
	return name, nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) SendMessage(ctx context.Context, channelID string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeMessenger) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func discardLogf(format string, args ...any) {}

func newTestService(t *testing.T, directory *fakeDirectory, messenger *fakeMessenger) *Service {
	t.Helper()
	store := openTempStore(t)
	var dir chat.Directory
	if directory != nil {
		dir = directory
	}
	var msg chat.Messenger
	if messenger != nil {
		msg = messenger
	}
	service := NewService(store, dir, msg, 2)
	service.logf = discardLogf
	return service
}

func TestHandleTaskEventAwardsXP(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{}
	service := newTestService(t, nil, messenger)
	ctx := context.Background()

	if err := service.LinkIdentity(ctx, "hab-1", "disc-1"); err != nil {
		t.Fatalf("link identity: %v", err)
	}
	if err := service.SetAnnounceChannel(ctx, "chan-1"); err != nil {
		t.Fatalf("set announce channel: %v", err)
	}

	// Seeded rules award 50 XP for a hard daily.
	outcome, err := service.HandleTaskEvent(ctx, ingest.TaskEvent{
		Task:      ingest.Task{UserID: "hab-1", Type: "daily", Priority: 2.5},
		Direction: "up",
	})
	if err != nil {
		t.Fatalf("handle task event: %v", err)
	}
	if outcome.Delta != 50 {
		t.Fatalf("delta = %d, want 50", outcome.Delta)
	}
	if outcome.Result.Entry.XP != 50 || outcome.Result.Entry.Sequence != 9 {
		t.Fatalf("entry = %+v, want xp 50 sequence 9", outcome.Result.Entry)
	}
	if outcome.Result.Demoted || len(outcome.Result.Promotions) != 0 {
		t.Fatalf("unexpected transitions in %+v", outcome.Result)
	}

	messages := messenger.messages()
	if len(messages) != 1 {
		t.Fatalf("messages = %v, want 1 xp announcement", messages)
	}
	if want := "<@disc-1> gained 50 XP (daily, hard)"; messages[0] != want {
		t.Fatalf("message = %q, want %q", messages[0], want)
	}
}

func TestHandleTaskEventPromotesAndSyncsRoles(t *testing.T) {
	t.Parallel()

	directory := newFakeDirectory()
	directory.guilds = []chat.Guild{{ID: "guild-a"}}
	directory.members["guild-a/disc-1"] = chat.Member{
		UserID:  "disc-1",
		RoleIDs: []string{"role-seq-9"},
	}
	messenger := &fakeMessenger{}
	service := newTestService(t, directory, messenger)
	ctx := context.Background()

	if err := service.LinkIdentity(ctx, "hab-1", "disc-1"); err != nil {
		t.Fatalf("link identity: %v", err)
	}
	if err := service.SetAnnounceChannel(ctx, "chan-1"); err != nil {
		t.Fatalf("set announce channel: %v", err)
	}
	if err := service.BindRole(ctx, 1, 9, "role-seq-9"); err != nil {
		t.Fatalf("bind role: %v", err)
	}
	if err := service.BindRole(ctx, 1, 8, "role-seq-8"); err != nil {
		t.Fatalf("bind role: %v", err)
	}
	if _, _, err := service.SetXP(ctx, "disc-1", 850); err != nil {
		t.Fatalf("set xp: %v", err)
	}
	directory.resetLog()

	outcome, err := service.HandleTaskEvent(ctx, ingest.TaskEvent{
		Task:      ingest.Task{UserID: "hab-1", Type: "daily", Priority: 2.5},
		Direction: "up",
	})
	if err != nil {
		t.Fatalf("handle task event: %v", err)
	}
	if len(outcome.Result.Promotions) != 1 || outcome.Result.Promotions[0].From != 9 || outcome.Result.Promotions[0].To != 8 {
		t.Fatalf("promotions = %v, want [{9 8}]", outcome.Result.Promotions)
	}
	if outcome.Result.Entry.XP != 0 || outcome.Result.Entry.Sequence != 8 {
		t.Fatalf("entry = %+v, want xp 0 sequence 8", outcome.Result.Entry)
	}

	if len(directory.removed) != 1 || directory.removed[0] != "role-seq-9" {
		t.Fatalf("removed roles = %v, want [role-seq-9]", directory.removed)
	}
	if len(directory.added) != 1 || directory.added[0] != "role-seq-8" {
		t.Fatalf("added roles = %v, want [role-seq-8]", directory.added)
	}

	messages := messenger.messages()
	if len(messages) != 2 {
		t.Fatalf("messages = %v, want xp change and promotion", messages)
	}
	if want := "<@disc-1> advanced from sequence 9 → 8!"; messages[1] != want {
		t.Fatalf("message = %q, want %q", messages[1], want)
	}
}

func TestHandleTaskEventSyncsRolesWithoutTransition(t *testing.T) {
	t.Parallel()

	directory := newFakeDirectory()
	directory.guilds = []chat.Guild{{ID: "guild-a"}}
	directory.members["guild-a/disc-1"] = chat.Member{
		UserID:  "disc-1",
		RoleIDs: []string{"role-seq-8"},
	}
	service := newTestService(t, directory, nil)
	ctx := context.Background()

	if err := service.LinkIdentity(ctx, "hab-1", "disc-1"); err != nil {
		t.Fatalf("link identity: %v", err)
	}
	if err := service.BindRole(ctx, 1, 8, "role-seq-8"); err != nil {
		t.Fatalf("bind role: %v", err)
	}
	if err := service.BindRole(ctx, 1, 9, "role-seq-9"); err != nil {
		t.Fatalf("bind role: %v", err)
	}

	// The member carries a stale sequence 8 role but stays at sequence 9
	// after the award. The event must still reconcile their roles.
	outcome, err := service.HandleTaskEvent(ctx, ingest.TaskEvent{
		Task:      ingest.Task{UserID: "hab-1", Type: "todo", Priority: 1},
		Direction: "up",
	})
	if err != nil {
		t.Fatalf("handle task event: %v", err)
	}
	if outcome.Result.Demoted || len(outcome.Result.Promotions) != 0 {
		t.Fatalf("unexpected transitions in %+v", outcome.Result)
	}
	if len(directory.removed) != 1 || directory.removed[0] != "role-seq-8" {
		t.Fatalf("removed roles = %v, want stale role removed", directory.removed)
	}
	if len(directory.added) != 1 || directory.added[0] != "role-seq-9" {
		t.Fatalf("added roles = %v, want current role granted", directory.added)
	}
}

func TestAdjustXPSyncsRolesWithoutPromotion(t *testing.T) {
	t.Parallel()

	directory := newFakeDirectory()
	directory.guilds = []chat.Guild{{ID: "guild-a"}}
	directory.members["guild-a/disc-1"] = chat.Member{
		UserID:  "disc-1",
		RoleIDs: []string{"role-seq-8"},
	}
	service := newTestService(t, directory, nil)
	ctx := context.Background()

	if err := service.BindRole(ctx, 1, 8, "role-seq-8"); err != nil {
		t.Fatalf("bind role: %v", err)
	}
	if err := service.BindRole(ctx, 1, 9, "role-seq-9"); err != nil {
		t.Fatalf("bind role: %v", err)
	}

	if _, promotions, err := service.AdjustXP(ctx, "disc-1", 10); err != nil {
		t.Fatalf("adjust xp: %v", err)
	} else if len(promotions) != 0 {
		t.Fatalf("promotions = %v, want none", promotions)
	}
	if len(directory.removed) != 1 || directory.removed[0] != "role-seq-8" {
		t.Fatalf("removed roles = %v, want stale role removed", directory.removed)
	}
	if len(directory.added) != 1 || directory.added[0] != "role-seq-9" {
		t.Fatalf("added roles = %v, want current role granted", directory.added)
	}
}

func TestHandleTaskEventDownDirectionDemotes(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{}
	service := newTestService(t, nil, messenger)
	ctx := context.Background()

	if err := service.LinkIdentity(ctx, "hab-1", "disc-1"); err != nil {
		t.Fatalf("link identity: %v", err)
	}
	if err := service.SetAnnounceChannel(ctx, "chan-1"); err != nil {
		t.Fatalf("set announce channel: %v", err)
	}
	if _, _, err := service.SetXP(ctx, "disc-1", 2030); err != nil {
		t.Fatalf("set xp: %v", err)
	}

	// 2030 XP settles to sequence 7 with 30 remaining. A lost hard daily
	// drives XP negative and demotes one step.
	outcome, err := service.HandleTaskEvent(ctx, ingest.TaskEvent{
		Task:      ingest.Task{UserID: "hab-1", Type: "daily", Priority: 2.5},
		Direction: "down",
	})
	if err != nil {
		t.Fatalf("handle task event: %v", err)
	}
	if outcome.Delta != -50 {
		t.Fatalf("delta = %d, want -50", outcome.Delta)
	}
	if !outcome.Result.Demoted || outcome.Result.DemotedFrom != 7 || outcome.Result.DemotedTo != 8 {
		t.Fatalf("result = %+v, want demotion 7 to 8", outcome.Result)
	}
	if outcome.Result.Entry.XP != 0 || outcome.Result.Entry.Sequence != 8 {
		t.Fatalf("entry = %+v, want xp 0 sequence 8", outcome.Result.Entry)
	}

	messages := messenger.messages()
	if len(messages) != 2 {
		t.Fatalf("messages = %v, want xp change and demotion", messages)
	}
	if want := "<@disc-1> has been demoted (7 → 8)."; messages[1] != want {
		t.Fatalf("message = %q, want %q", messages[1], want)
	}
}

func TestHandleTaskEventUnlinked(t *testing.T) {
	t.Parallel()

	service := newTestService(t, nil, nil)

	_, err := service.HandleTaskEvent(context.Background(), ingest.TaskEvent{
		Task:      ingest.Task{UserID: "ghost", Type: "todo", Priority: 1},
		Direction: "up",
	})
	if !errors.Is(err, ingest.ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked, got %v", err)
	}
}

func TestResetUserSyncsToEntrySequence(t *testing.T) {
	t.Parallel()

	directory := newFakeDirectory()
	directory.guilds = []chat.Guild{{ID: "guild-a"}}
	directory.members["guild-a/disc-1"] = chat.Member{
		UserID:  "disc-1",
		RoleIDs: []string{"role-seq-7"},
	}
	service := newTestService(t, directory, nil)
	ctx := context.Background()

	if err := service.BindRole(ctx, 1, 7, "role-seq-7"); err != nil {
		t.Fatalf("bind role: %v", err)
	}
	if err := service.BindRole(ctx, 1, 9, "role-seq-9"); err != nil {
		t.Fatalf("bind role: %v", err)
	}
	if _, _, err := service.SetXP(ctx, "disc-1", 2100); err != nil {
		t.Fatalf("set xp: %v", err)
	}

	entry, err := service.ResetUser(ctx, "disc-1")
	if err != nil {
		t.Fatalf("reset user: %v", err)
	}
	if entry.XP != 0 || entry.Sequence != 9 || entry.Pathway != 1 {
		t.Fatalf("entry = %+v, want defaults", entry)
	}
	if len(directory.added) == 0 || directory.added[len(directory.added)-1] != "role-seq-9" {
		t.Fatalf("added roles = %v, want entry role restored", directory.added)
	}
}

func TestGetUserResolvesPathwayLabel(t *testing.T) {
	t.Parallel()

	directory := newFakeDirectory()
	directory.names["role-pathway-1"] = "Fool"
	service := newTestService(t, directory, nil)
	ctx := context.Background()

	if _, _, err := service.AdjustXP(ctx, "disc-1", 120); err != nil {
		t.Fatalf("adjust xp: %v", err)
	}
	if err := service.BindPathwayRole(ctx, "guild-a", 1, "role-pathway-1"); err != nil {
		t.Fatalf("bind pathway role: %v", err)
	}

	view, err := service.GetUser(ctx, "disc-1", "guild-a")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if view.PathwayLabel != "Fool" {
		t.Fatalf("pathway label = %q, want Fool", view.PathwayLabel)
	}
	if view.Entry.XP != 120 {
		t.Fatalf("xp = %d, want 120", view.Entry.XP)
	}

	plain, err := service.GetUser(ctx, "disc-1", "")
	if err != nil {
		t.Fatalf("get user without guild: %v", err)
	}
	if plain.PathwayLabel != "1" {
		t.Fatalf("pathway label = %q, want numeric fallback", plain.PathwayLabel)
	}
}

func TestLeaderboardRanksByXP(t *testing.T) {
	t.Parallel()

	service := newTestService(t, nil, nil)
	ctx := context.Background()

	for user, xp := range map[string]int64{"a": 40, "b": 200, "c": 120} {
		if _, _, err := service.AdjustXP(ctx, user, xp); err != nil {
			t.Fatalf("adjust xp for %s: %v", user, err)
		}
	}

	records, err := service.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v, want 2", records)
	}
	if records[0].UserID != "b" || records[1].UserID != "c" {
		t.Fatalf("order = %s,%s, want b,c", records[0].UserID, records[1].UserID)
	}
}

func TestAdminValidation(t *testing.T) {
	t.Parallel()

	service := newTestService(t, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"blank link", func() error { return service.LinkIdentity(ctx, " ", "disc-1") }},
		{"unknown task type", func() error { return service.SetRule(ctx, "chore", "easy", 5) }},
		{"unknown difficulty", func() error { return service.SetRule(ctx, "habit", "brutal", 5) }},
		{"negative award", func() error { return service.SetRule(ctx, "habit", "easy", -5) }},
		{"sequence out of range", func() error { return service.SetThreshold(ctx, 10, 500) }},
		{"non-positive threshold", func() error { return service.SetThreshold(ctx, 5, 0) }},
		{"pathway out of range", func() error { return service.BindRole(ctx, 23, 9, "role") }},
		{"blank role", func() error { return service.BindRole(ctx, 1, 9, " ") }},
		{"pathway role blank guild", func() error { return service.BindPathwayRole(ctx, "", 1, "role") }},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: got %v, want ErrInvalidArgument", tc.name, err)
		}
	}
}
