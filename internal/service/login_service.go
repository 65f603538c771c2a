package service

import (
	"context"
	"strings"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/device"
	"access-service/internal/encryption"
	"access-service/internal/models"
	"access-service/internal/repository/scylla"
	"access-service/internal/util"
)

// LoginService appends login records and lists them back. It decides
// nothing; admission is the gateway's job.
type LoginService struct {
	history   scylla.LoginHistoryRepository
	encryptor *encryption.EncryptionManager
	logger    *zap.Logger
	now       Clock
}

func NewLoginService(history scylla.LoginHistoryRepository, encryptor *encryption.EncryptionManager, logger *zap.Logger, now Clock) *LoginService {
	return &LoginService{
		history:   history,
		encryptor: encryptor,
		logger:    logger,
		now:       clockOrSystem(now),
	}
}

// RecordLogin appends one record stamped with the current instant.
func (s *LoginService) RecordLogin(ctx context.Context, accountID string, info device.Info, class device.Classification) (*models.LoginRecord, error) {
	accountID = util.NormalizeEmail(accountID)
	if accountID == "" {
		return nil, invalidInput("email is required")
	}

	now := s.now()
	rec := &models.LoginRecord{
		AccountID:        accountID,
		RecordID:         gocql.UUIDFromTime(now),
		Browser:          class.Browser,
		OS:               class.OS,
		DeviceType:       string(class.DeviceType),
		SourceAddress:    strings.TrimSpace(info.SourceAddress),
		ScreenResolution: info.ScreenResolution,
		Locale:           info.Language,
		ObservedAt:       now,
	}

	if rec.SourceAddress != "" {
		enc, err := s.encryptor.EncryptField(ctx, rec.SourceAddress, encryption.PurposeSourceAddress)
		if err != nil {
			return nil, err
		}
		rec.SourceAddressCT = enc.EncryptedValue
		rec.SourceAddressDEK = enc.EncryptedDEK
		rec.SourceKeyID = enc.KeyID
	}

	if err := s.history.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLogins returns at most MaxLoginHistory records, newest first.
func (s *LoginService) ListLogins(ctx context.Context, accountID string) ([]*models.LoginRecord, error) {
	accountID = util.NormalizeEmail(accountID)
	if accountID == "" {
		return nil, invalidInput("email is required")
	}

	records, err := s.history.ListRecent(ctx, accountID, models.MaxLoginHistory)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.SourceAddressCT == "" {
			continue
		}
		addr, err := s.encryptor.DecryptField(ctx, &encryption.EncryptedData{
			EncryptedValue: rec.SourceAddressCT,
			EncryptedDEK:   rec.SourceAddressDEK,
			KeyID:          rec.SourceKeyID,
		})
		if err != nil {
			s.logger.Warn("Could not decrypt login source address",
				zap.String("record_id", rec.RecordID.String()),
				zap.Error(err))
			continue
		}
		rec.SourceAddress = addr
	}
	return records, nil
}
