package app

import (
	"context"
	"errors"

	"github.com/mthorley/ascension/internal/advancement/domain"
	"github.com/mthorley/ascension/internal/advancement/ingest"
	"github.com/mthorley/ascension/internal/advancement/rolesync"
	"github.com/mthorley/ascension/internal/advancement/storage"
)

// ledgerAdapter exposes storage records through the engine's store contract.
type ledgerAdapter struct {
	store storage.Store
}

func (a ledgerAdapter) GetEntry(ctx context.Context, userID string) (domain.Entry, error) {
	record, err := a.store.GetLedger(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Entry{}, domain.ErrNotFound
		}
		return domain.Entry{}, err
	}
	return entryFromRecord(record), nil
}

func (a ledgerAdapter) PutEntry(ctx context.Context, entry domain.Entry) error {
	return a.store.PutLedger(ctx, storage.LedgerRecord{
		UserID:   entry.UserID,
		XP:       entry.XP,
		Pathway:  entry.Pathway,
		Sequence: entry.Sequence,
	})
}

func (a ledgerAdapter) AddXP(ctx context.Context, userID string, delta int64) (domain.Entry, error) {
	record, err := a.store.AddXP(ctx, userID, delta)
	if err != nil {
		return domain.Entry{}, err
	}
	return entryFromRecord(record), nil
}

func (a ledgerAdapter) ThresholdOverride(ctx context.Context, sequence int) (int64, error) {
	required, err := a.store.GetThreshold(ctx, sequence)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return required, nil
}

func entryFromRecord(record storage.LedgerRecord) domain.Entry {
	return domain.Entry{
		UserID:   record.UserID,
		XP:       record.XP,
		Pathway:  record.Pathway,
		Sequence: record.Sequence,
	}
}

// ingestAdapter exposes identity links and award rules to the ingestor.
type ingestAdapter struct {
	store storage.Store
}

func (a ingestAdapter) ChatUserID(ctx context.Context, taskUserID string) (string, error) {
	link, err := a.store.GetIdentityLink(ctx, taskUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ingest.ErrNotLinked
		}
		return "", err
	}
	return link.ChatUserID, nil
}

func (a ingestAdapter) XPAward(ctx context.Context, taskType string, difficulty string) (int64, error) {
	rule, err := a.store.GetXPRule(ctx, taskType, difficulty)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return rule.XP, nil
}

// rolesyncAdapter exposes ledger pathways and role bindings to the synchronizer.
type rolesyncAdapter struct {
	store storage.Store
}

func (a rolesyncAdapter) Pathway(ctx context.Context, userID string) (int, error) {
	record, err := a.store.GetLedger(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, rolesync.ErrUserNotFound
		}
		return 0, err
	}
	return record.Pathway, nil
}

func (a rolesyncAdapter) BoundRole(ctx context.Context, pathway int, sequence int) (string, error) {
	binding, err := a.store.GetRoleBinding(ctx, pathway, sequence)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", rolesync.ErrRoleNotBound
		}
		return "", err
	}
	return binding.RoleID, nil
}
