package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"access-service/internal/hashing"
	"access-service/internal/models"
	"access-service/internal/policy"
	"access-service/internal/repository/scylla"
	"access-service/internal/util"
)

// MinPasswordLength applies to ResetPassword.
const MinPasswordLength = 8

// ResetService supplies the once-per-civil-day fact about reset requests and
// performs the challenge-gated password change.
type ResetService struct {
	resets     scylla.PasswordResetRepository
	accounts   scylla.AccountRepository
	challenges *ChallengeService
	hasher     *hashing.Hasher
	audit      *Auditor
	logger     *zap.Logger
	now        Clock
}

func NewResetService(
	resets scylla.PasswordResetRepository,
	accounts scylla.AccountRepository,
	challenges *ChallengeService,
	hasher *hashing.Hasher,
	audit *Auditor,
	logger *zap.Logger,
	now Clock,
) *ResetService {
	return &ResetService{
		resets:     resets,
		accounts:   accounts,
		challenges: challenges,
		hasher:     hasher,
		audit:      audit,
		logger:     logger,
		now:        clockOrSystem(now),
	}
}

func normalizeTyped(identifier string, typ models.IdentifierType) (string, error) {
	switch typ {
	case models.IdentifierEmail:
		identifier = util.NormalizeEmail(identifier)
	case models.IdentifierPhone:
		identifier = util.NormalizePhone(identifier)
	default:
		return "", invalidInput("type must be email or phone")
	}
	if identifier == "" {
		return "", invalidInput("identifier is required")
	}
	return identifier, nil
}

// RequestedToday reports whether a reset was already requested for
// (identifier, type) on the current IST civil day.
func (s *ResetService) RequestedToday(ctx context.Context, identifier string, typ models.IdentifierType) (bool, error) {
	identifier, err := normalizeTyped(identifier, typ)
	if err != nil {
		return false, err
	}
	return s.resets.ExistsOnDay(ctx, identifier, typ, policy.CivilDay(s.now()))
}

// CheckResetAllowed is the negation of RequestedToday.
func (s *ResetService) CheckResetAllowed(ctx context.Context, identifier string, typ models.IdentifierType) (bool, error) {
	requested, err := s.RequestedToday(ctx, identifier, typ)
	if err != nil {
		return false, err
	}
	return !requested, nil
}

// RecordResetRequest appends one request for today.
func (s *ResetService) RecordResetRequest(ctx context.Context, identifier string, typ models.IdentifierType) error {
	identifier, err := normalizeTyped(identifier, typ)
	if err != nil {
		return err
	}
	now := s.now()
	return s.resets.Append(ctx, &models.PasswordResetRequest{
		Identifier:  identifier,
		Type:        typ,
		CivilDay:    policy.CivilDay(now),
		RequestedAt: now,
	})
}

// ResetPassword sets a new password once the forgot_password code checks out.
func (s *ResetService) ResetPassword(ctx context.Context, identifier string, typ models.IdentifierType, newPassword, code string) error {
	identifier, err := normalizeTyped(identifier, typ)
	if err != nil {
		return err
	}
	if len(newPassword) < MinPasswordLength {
		return invalidInput("password must be at least %d characters", MinPasswordLength)
	}

	var account *models.Account
	if typ == models.IdentifierEmail {
		account, err = s.accounts.FindByEmail(ctx, identifier)
	} else {
		account, err = s.accounts.FindByPhone(ctx, identifier)
	}
	if errors.Is(err, scylla.ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}

	if err := s.challenges.Require(ctx, identifier, models.PurposeForgotPassword, code); err != nil {
		return err
	}

	hashed, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.Email, hashed.Encode(), s.now()); err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	s.audit.Record(ctx, &models.SecurityEvent{
		AccountID: account.Email,
		EventType: models.EventPasswordReset,
		Action:    string(policy.ActionForgotPassword),
		Decision:  "completed",
	})
	return nil
}
