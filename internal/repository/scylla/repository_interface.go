package scylla

import (
	"context"
	"time"

	"access-service/internal/models"
)

// AccountRepository resolves accounts by either identifier and updates the
// password hash.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByPhone(ctx context.Context, phone string) (*models.Account, error)
	UpdatePassword(ctx context.Context, email, passwordHash string, at time.Time) error
}

// LoginHistoryRepository is append-only. ListRecent is newest first.
type LoginHistoryRepository interface {
	Append(ctx context.Context, record *models.LoginRecord) error
	ListRecent(ctx context.Context, accountID string, limit int) ([]*models.LoginRecord, error)
}

// PasswordResetRepository stores reset requests keyed by IST civil day.
type PasswordResetRepository interface {
	ExistsOnDay(ctx context.Context, identifier string, typ models.IdentifierType, civilDay string) (bool, error)
	Append(ctx context.Context, req *models.PasswordResetRequest) error
}

// PostRepository holds post metadata used to derive free-tier usage.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	CountSince(ctx context.Context, accountID string, kind models.PostKind, since time.Time) (int, error)
}

var (
	_ AccountRepository       = (*ScyllaAccountRepository)(nil)
	_ LoginHistoryRepository  = (*ScyllaLoginHistoryRepository)(nil)
	_ PasswordResetRepository = (*ScyllaPasswordResetRepository)(nil)
	_ PostRepository          = (*ScyllaPostRepository)(nil)
)
