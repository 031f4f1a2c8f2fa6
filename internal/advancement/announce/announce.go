// Package announce posts human-readable advancement updates to the
// configured broadcast channel.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mthorley/ascension/internal/advancement/storage"
	"github.com/mthorley/ascension/internal/chat"
)

// Announcer delivers XP and sequence updates to the broadcast channel stored
// in settings. When no channel is configured every call is a silent no-op,
// and send failures are logged and swallowed so announcements never abort the
// workflow that triggered them.
type Announcer struct {
	settings  storage.SettingStore
	messenger chat.Messenger
	logf      func(format string, args ...any)
}

// NewAnnouncer constructs an announcer over the given settings and messenger.
func NewAnnouncer(settings storage.SettingStore, messenger chat.Messenger) *Announcer {
	return &Announcer{
		settings:  settings,
		messenger: messenger,
		logf:      log.Printf,
	}
}

// XPChange announces a signed XP delta for a user. A zero delta is not
// announced.
func (a *Announcer) XPChange(ctx context.Context, chatUserID string, delta int64, taskType string, difficulty string) {
	if delta == 0 {
		return
	}
	verb := "gained"
	if delta < 0 {
		verb = "lost"
		delta = -delta
	}
	a.send(ctx, fmt.Sprintf("<@%s> %s %d XP (%s, %s)", chatUserID, verb, delta, taskType, difficulty))
}

// Promotion announces one sequence advancement step.
func (a *Announcer) Promotion(ctx context.Context, chatUserID string, from int, to int) {
	a.send(ctx, fmt.Sprintf("<@%s> advanced from sequence %d → %d!", chatUserID, from, to))
}

// Demotion announces a sequence demotion.
func (a *Announcer) Demotion(ctx context.Context, chatUserID string, from int, to int) {
	a.send(ctx, fmt.Sprintf("<@%s> has been demoted (%d → %d).", chatUserID, from, to))
}

func (a *Announcer) send(ctx context.Context, content string) {
	if a == nil || a.settings == nil || a.messenger == nil {
		return
	}
	channelID, err := a.settings.GetSetting(ctx, storage.SettingAnnounceChannel)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logf("announce: load channel setting: %v", err)
		}
		return
	}
	if channelID == "" {
		return
	}
	if err := a.messenger.SendMessage(ctx, channelID, content); err != nil {
		a.logf("announce: send to channel %s: %v", channelID, err)
	}
}
