// Package sqlite provides SQLite-backed persistence for advancement state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mthorley/ascension/internal/advancement/storage"
	"github.com/mthorley/ascension/internal/advancement/storage/sqlite/migrations"
	"github.com/mthorley/ascension/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for advancement state.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens an advancement SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: time.Now}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS)
}

func (s *Store) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// GetLedger loads one user's ledger entry.
func (s *Store) GetLedger(ctx context.Context, userID string) (storage.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.LedgerRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LedgerRecord{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.LedgerRecord{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, xp, pathway, sequence
FROM ledger
WHERE user_id = ?
`, userID)
	record, err := scanLedger(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LedgerRecord{}, storage.ErrNotFound
		}
		return storage.LedgerRecord{}, fmt.Errorf("get ledger: %w", err)
	}
	return record, nil
}

// PutLedger upserts the full mutable state of one ledger entry.
func (s *Store) PutLedger(ctx context.Context, record storage.LedgerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.UserID = strings.TrimSpace(record.UserID)
	if record.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	now := toMillis(s.now())
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO ledger (user_id, xp, pathway, sequence, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	xp = excluded.xp,
	pathway = excluded.pathway,
	sequence = excluded.sequence,
	updated_at = excluded.updated_at
`, record.UserID, record.XP, record.Pathway, record.Sequence, now, now)
	if err != nil {
		return fmt.Errorf("put ledger: %w", err)
	}
	return nil
}

// AddXP creates a default entry when absent, atomically adds delta to its XP,
// and returns the resulting entry. The create-or-adjust runs inside a single
// transaction so concurrent deltas for one user cannot lose updates.
func (s *Store) AddXP(ctx context.Context, userID string, delta int64) (storage.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.LedgerRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LedgerRecord{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.LedgerRecord{}, fmt.Errorf("user id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.LedgerRecord{}, fmt.Errorf("begin xp adjustment: %w", err)
	}
	rollbackWith := func(cause error) (storage.LedgerRecord, error) {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return storage.LedgerRecord{}, fmt.Errorf("%w: rollback xp adjustment: %v", cause, rollbackErr)
		}
		return storage.LedgerRecord{}, cause
	}

	now := toMillis(s.now())
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO ledger (user_id, created_at, updated_at) VALUES (?, ?, ?)
`, userID, now, now); err != nil {
		return rollbackWith(fmt.Errorf("ensure ledger row: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE ledger SET xp = xp + ?, updated_at = ? WHERE user_id = ?
`, delta, now, userID); err != nil {
		return rollbackWith(fmt.Errorf("add xp: %w", err))
	}

	row := tx.QueryRowContext(ctx, `
SELECT user_id, xp, pathway, sequence FROM ledger WHERE user_id = ?
`, userID)
	record, err := scanLedger(row.Scan)
	if err != nil {
		return rollbackWith(fmt.Errorf("read adjusted ledger: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return storage.LedgerRecord{}, fmt.Errorf("commit xp adjustment: %w", err)
	}
	return record, nil
}

// ListTopByXP lists up to limit ledger entries ranked by XP descending.
func (s *Store) ListTopByXP(ctx context.Context, limit int) ([]storage.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id, xp, pathway, sequence
FROM ledger
ORDER BY xp DESC, user_id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger by xp: %w", err)
	}
	defer rows.Close()

	results := make([]storage.LedgerRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanLedger(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan ledger row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return results, nil
}

// GetThreshold loads the stored XP requirement override for one sequence.
func (s *Store) GetThreshold(ctx context.Context, sequence int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var xpRequired int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT xp_required FROM thresholds WHERE sequence = ?
`, sequence).Scan(&xpRequired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get threshold: %w", err)
	}
	return xpRequired, nil
}

// SetThreshold upserts the XP requirement for one sequence.
func (s *Store) SetThreshold(ctx context.Context, sequence int, xpRequired int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO thresholds (sequence, xp_required) VALUES (?, ?)
ON CONFLICT(sequence) DO UPDATE SET xp_required = excluded.xp_required
`, sequence, xpRequired); err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}
	return nil
}

// GetRoleBinding loads the role bound to one (pathway, sequence) pair.
func (s *Store) GetRoleBinding(ctx context.Context, pathway int, sequence int) (storage.RoleBindingRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RoleBindingRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RoleBindingRecord{}, fmt.Errorf("storage is not configured")
	}

	record := storage.RoleBindingRecord{Pathway: pathway, Sequence: sequence}
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT role_id FROM role_bindings WHERE pathway = ? AND sequence = ?
`, pathway, sequence).Scan(&record.RoleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RoleBindingRecord{}, storage.ErrNotFound
		}
		return storage.RoleBindingRecord{}, fmt.Errorf("get role binding: %w", err)
	}
	return record, nil
}

// SetRoleBinding upserts the role bound to one (pathway, sequence) pair.
func (s *Store) SetRoleBinding(ctx context.Context, record storage.RoleBindingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.RoleID = strings.TrimSpace(record.RoleID)
	if record.RoleID == "" {
		return fmt.Errorf("role id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO role_bindings (pathway, sequence, role_id) VALUES (?, ?, ?)
ON CONFLICT(pathway, sequence) DO UPDATE SET role_id = excluded.role_id
`, record.Pathway, record.Sequence, record.RoleID); err != nil {
		return fmt.Errorf("set role binding: %w", err)
	}
	return nil
}

// GetPathwayRole loads the per-guild display role for one pathway.
func (s *Store) GetPathwayRole(ctx context.Context, guildID string, pathway int) (storage.PathwayRoleRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.PathwayRoleRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PathwayRoleRecord{}, fmt.Errorf("storage is not configured")
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return storage.PathwayRoleRecord{}, fmt.Errorf("guild id is required")
	}

	record := storage.PathwayRoleRecord{GuildID: guildID, Pathway: pathway}
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT role_id FROM pathway_roles WHERE guild_id = ? AND pathway = ?
`, guildID, pathway).Scan(&record.RoleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PathwayRoleRecord{}, storage.ErrNotFound
		}
		return storage.PathwayRoleRecord{}, fmt.Errorf("get pathway role: %w", err)
	}
	return record, nil
}

// SetPathwayRole upserts the per-guild display role for one pathway.
func (s *Store) SetPathwayRole(ctx context.Context, record storage.PathwayRoleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.GuildID = strings.TrimSpace(record.GuildID)
	record.RoleID = strings.TrimSpace(record.RoleID)
	if record.GuildID == "" {
		return fmt.Errorf("guild id is required")
	}
	if record.RoleID == "" {
		return fmt.Errorf("role id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pathway_roles (guild_id, pathway, role_id) VALUES (?, ?, ?)
ON CONFLICT(guild_id, pathway) DO UPDATE SET role_id = excluded.role_id
`, record.GuildID, record.Pathway, record.RoleID); err != nil {
		return fmt.Errorf("set pathway role: %w", err)
	}
	return nil
}

// GetIdentityLink resolves one task-service identity to its chat identity.
func (s *Store) GetIdentityLink(ctx context.Context, taskUserID string) (storage.IdentityLinkRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdentityLinkRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.IdentityLinkRecord{}, fmt.Errorf("storage is not configured")
	}
	taskUserID = strings.TrimSpace(taskUserID)
	if taskUserID == "" {
		return storage.IdentityLinkRecord{}, fmt.Errorf("task user id is required")
	}

	record := storage.IdentityLinkRecord{TaskUserID: taskUserID}
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT chat_user_id FROM identity_links WHERE task_user_id = ?
`, taskUserID).Scan(&record.ChatUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.IdentityLinkRecord{}, storage.ErrNotFound
		}
		return storage.IdentityLinkRecord{}, fmt.Errorf("get identity link: %w", err)
	}
	return record, nil
}

// SetIdentityLink upserts one task-service identity link.
func (s *Store) SetIdentityLink(ctx context.Context, record storage.IdentityLinkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.TaskUserID = strings.TrimSpace(record.TaskUserID)
	record.ChatUserID = strings.TrimSpace(record.ChatUserID)
	if record.TaskUserID == "" {
		return fmt.Errorf("task user id is required")
	}
	if record.ChatUserID == "" {
		return fmt.Errorf("chat user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO identity_links (task_user_id, chat_user_id) VALUES (?, ?)
ON CONFLICT(task_user_id) DO UPDATE SET chat_user_id = excluded.chat_user_id
`, record.TaskUserID, record.ChatUserID); err != nil {
		return fmt.Errorf("set identity link: %w", err)
	}
	return nil
}

// GetXPRule loads the XP award for one (task type, difficulty) pair.
func (s *Store) GetXPRule(ctx context.Context, taskType string, difficulty string) (storage.XPRuleRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.XPRuleRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.XPRuleRecord{}, fmt.Errorf("storage is not configured")
	}
	taskType = strings.TrimSpace(taskType)
	difficulty = strings.TrimSpace(difficulty)

	record := storage.XPRuleRecord{TaskType: taskType, Difficulty: difficulty}
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT xp FROM xp_rules WHERE task_type = ? AND difficulty = ?
`, taskType, difficulty).Scan(&record.XP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.XPRuleRecord{}, storage.ErrNotFound
		}
		return storage.XPRuleRecord{}, fmt.Errorf("get xp rule: %w", err)
	}
	return record, nil
}

// SetXPRule upserts the XP award for one (task type, difficulty) pair.
func (s *Store) SetXPRule(ctx context.Context, record storage.XPRuleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.TaskType = strings.TrimSpace(record.TaskType)
	record.Difficulty = strings.TrimSpace(record.Difficulty)
	if record.TaskType == "" {
		return fmt.Errorf("task type is required")
	}
	if record.Difficulty == "" {
		return fmt.Errorf("difficulty is required")
	}
	if record.XP < 0 {
		return fmt.Errorf("xp award must be non-negative")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO xp_rules (task_type, difficulty, xp) VALUES (?, ?, ?)
ON CONFLICT(task_type, difficulty) DO UPDATE SET xp = excluded.xp
`, record.TaskType, record.Difficulty, record.XP); err != nil {
		return fmt.Errorf("set xp rule: %w", err)
	}
	return nil
}

// GetSetting loads one service setting value.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("setting key is required")
	}

	var value string
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT value FROM settings WHERE key = ?
`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts one service setting value.
func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("setting key is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

type scanner func(dest ...any) error

func scanLedger(scan scanner) (storage.LedgerRecord, error) {
	var record storage.LedgerRecord
	if err := scan(
		&record.UserID,
		&record.XP,
		&record.Pathway,
		&record.Sequence,
	); err != nil {
		return storage.LedgerRecord{}, err
	}
	return record, nil
}
