package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/models"
	"access-service/internal/util"
)

type ScyllaLoginHistoryRepository struct {
	client *ScyllaClient
}

func NewLoginHistoryRepository(client *ScyllaClient) *ScyllaLoginHistoryRepository {
	return &ScyllaLoginHistoryRepository{client: client}
}

func (r *ScyllaLoginHistoryRepository) Append(ctx context.Context, rec *models.LoginRecord) error {
	if rec.RecordID == (gocql.UUID{}) {
		rec.RecordID = gocql.UUIDFromTime(rec.ObservedAt)
	}

	err := r.client.Query(ctx, Statements.InsertLogin,
		rec.AccountID, rec.ObservedAt.UTC(), rec.RecordID, rec.Browser, rec.OS, rec.DeviceType,
		rec.ScreenResolution, rec.Locale, rec.SourceAddressCT, rec.SourceAddressDEK, rec.SourceKeyID,
	).Exec()
	if err != nil {
		util.Error("Failed to append login record",
			util.Identifier("account_id", rec.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to append login record: %w", err)
	}
	return nil
}

func (r *ScyllaLoginHistoryRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]*models.LoginRecord, error) {
	iter := r.client.Query(ctx, Statements.ListRecentLogins, accountID, limit).Iter()

	records := make([]*models.LoginRecord, 0, limit)
	for {
		rec := &models.LoginRecord{}
		if !iter.Scan(&rec.AccountID, &rec.ObservedAt, &rec.RecordID, &rec.Browser, &rec.OS,
			&rec.DeviceType, &rec.ScreenResolution, &rec.Locale,
			&rec.SourceAddressCT, &rec.SourceAddressDEK, &rec.SourceKeyID) {
			break
		}
		records = append(records, rec)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list login history",
			util.Identifier("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list login history: %w", err)
	}
	return records, nil
}
