package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/bucketing"
	"access-service/internal/models"
	"access-service/internal/util"
)

var ErrAccountNotFound = errors.New("account not found")

type ScyllaAccountRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewAccountRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *ScyllaAccountRepository {
	return &ScyllaAccountRepository{
		client:    client,
		bucketing: bm,
	}
}

func (r *ScyllaAccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	account.Email = util.NormalizeEmail(account.Email)
	account.AccountBucket = r.bucketing.AccountBucket(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(Statements.InsertAccount,
		account.AccountBucket, account.Email, account.Phone, account.PasswordHash,
		account.CreatedAt, account.UpdatedAt)
	if account.Phone != "" {
		batch.Query(Statements.InsertPhoneToAccount, account.Phone, account.Email, now)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create account",
			util.Identifier("email", account.Email),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *ScyllaAccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = util.NormalizeEmail(email)
	account := &models.Account{}

	err := r.client.Query(ctx, Statements.GetAccountByEmail, r.bucketing.AccountBucket(email), email).
		Scan(&account.AccountBucket, &account.Email, &account.Phone, &account.PasswordHash,
			&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to get account by email",
			util.Identifier("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return account, nil
}

func (r *ScyllaAccountRepository) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	phone = util.NormalizePhone(phone)

	var email string
	err := r.client.Query(ctx, Statements.GetEmailByPhone, phone).Scan(&email)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to get account by phone",
			util.Identifier("phone", phone),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account by phone: %w", err)
	}
	return r.FindByEmail(ctx, email)
}

// UpdatePassword only touches an existing row.
func (r *ScyllaAccountRepository) UpdatePassword(ctx context.Context, email, passwordHash string, at time.Time) error {
	email = util.NormalizeEmail(email)

	applied, err := r.client.Query(ctx, Statements.UpdatePasswordHash,
		passwordHash, at.UTC(), r.bucketing.AccountBucket(email), email).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to update password",
			util.Identifier("email", email),
			zap.Error(err))
		return fmt.Errorf("failed to update password: %w", err)
	}
	if !applied {
		return ErrAccountNotFound
	}

	util.Info("Account password updated", util.Identifier("email", email))
	return nil
}
