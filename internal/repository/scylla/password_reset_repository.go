package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/models"
	"access-service/internal/util"
)

type ScyllaPasswordResetRepository struct {
	client *ScyllaClient
}

func NewPasswordResetRepository(client *ScyllaClient) *ScyllaPasswordResetRepository {
	return &ScyllaPasswordResetRepository{client: client}
}

func (r *ScyllaPasswordResetRepository) ExistsOnDay(ctx context.Context, identifier string, typ models.IdentifierType, civilDay string) (bool, error) {
	var requestedAt time.Time
	err := r.client.Query(ctx, Statements.ResetExistsDay, identifier, string(typ), civilDay).Scan(&requestedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		util.Error("Failed to check password reset requests",
			util.Identifier("identifier", identifier),
			zap.String("civil_day", civilDay),
			zap.Error(err))
		return false, fmt.Errorf("failed to check password reset requests: %w", err)
	}
	return true, nil
}

func (r *ScyllaPasswordResetRepository) Append(ctx context.Context, req *models.PasswordResetRequest) error {
	err := r.client.Query(ctx, Statements.InsertReset,
		req.Identifier, string(req.Type), req.CivilDay, req.RequestedAt.UTC()).Exec()
	if err != nil {
		util.Error("Failed to record password reset request",
			util.Identifier("identifier", req.Identifier),
			zap.Error(err))
		return fmt.Errorf("failed to record password reset request: %w", err)
	}

	util.Info("Password reset request recorded",
		util.Identifier("identifier", req.Identifier),
		zap.String("type", string(req.Type)),
		zap.String("civil_day", req.CivilDay))
	return nil
}
