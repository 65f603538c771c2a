package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"access-service/internal/models"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/repository/scylla"
	"access-service/internal/util"
)

// UsageResult is the outcome of one RecordUsage call.
type UsageResult struct {
	Consumed    bool               `json:"consumed"`
	Entitlement models.Entitlement `json:"entitlement"`
}

// ActivateRequest is a tier change. Allowance and Price are optional; when
// given they must agree with the catalog.
type ActivateRequest struct {
	AccountID  string
	Tier       string
	Allowance  *int
	Price      *int64
	OrderRef   string
	PaymentRef string
}

// EntitlementService answers "may this account post" and keeps the monthly
// counter. Every increment goes through one atomic conditional script.
type EntitlementService struct {
	quota  *redisrepo.QuotaStore
	posts  scylla.PostRepository
	audit  *Auditor
	logger *zap.Logger
	now    Clock
}

func NewEntitlementService(quota *redisrepo.QuotaStore, posts scylla.PostRepository, audit *Auditor, logger *zap.Logger, now Clock) *EntitlementService {
	return &EntitlementService{
		quota:  quota,
		posts:  posts,
		audit:  audit,
		logger: logger,
		now:    clockOrSystem(now),
	}
}

// GetEntitlement reads the live subscription, or derives the implicit free
// tier from the trailing-period post count when none is stored.
func (s *EntitlementService) GetEntitlement(ctx context.Context, accountID string) (models.Entitlement, *models.Subscription, error) {
	accountID = util.NormalizeEmail(accountID)
	if accountID == "" {
		return models.Entitlement{}, nil, invalidInput("email is required")
	}
	now := s.now()

	sub, err := s.quota.Get(ctx, accountID, now)
	if err == nil {
		return models.EntitlementOf(sub), sub, nil
	}
	if !errors.Is(err, redisrepo.ErrSubscriptionNotFound) {
		return models.Entitlement{}, nil, err
	}

	used, err := s.recentPosts(ctx, accountID, now)
	if err != nil {
		return models.Entitlement{}, nil, err
	}
	free, _ := models.LookupTier(string(models.TierFree))
	e := models.NewEntitlement(accountID, models.TierFree, free.Allowance, used)
	e.Implicit = true
	return e, nil, nil
}

func (s *EntitlementService) recentPosts(ctx context.Context, accountID string, now time.Time) (int, error) {
	n, err := s.posts.CountSince(ctx, accountID, models.PostKindText, now.Add(-models.SubscriptionPeriod))
	if err != nil {
		return 0, fmt.Errorf("failed to derive free-tier usage: %w", err)
	}
	return n, nil
}

// RecordUsage takes one unit of allowance. Consumed is false when the
// allowance is exhausted; the count is never pushed past the allowance.
func (s *EntitlementService) RecordUsage(ctx context.Context, accountID string) (*UsageResult, error) {
	accountID = util.NormalizeEmail(accountID)
	if accountID == "" {
		return nil, invalidInput("email is required")
	}
	now := s.now()

	res, err := s.quota.Consume(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	if res.Status == redisrepo.ConsumeMissing {
		used, err := s.recentPosts(ctx, accountID, now)
		if err != nil {
			return nil, err
		}
		if _, err := s.quota.SeedFree(ctx, accountID, used, now); err != nil {
			return nil, err
		}
		res, err = s.quota.Consume(ctx, accountID, now)
		if err != nil {
			return nil, err
		}
		if res.Status == redisrepo.ConsumeMissing {
			return nil, fmt.Errorf("%w: subscription vanished after seeding", ErrStoreUnavailable)
		}
	}

	sub, err := s.quota.Get(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	result := &UsageResult{
		Consumed:    res.Status == redisrepo.ConsumeOK,
		Entitlement: models.EntitlementOf(sub),
	}
	if !result.Consumed {
		s.logger.Info("Post allowance exhausted",
			util.Identifier("email", accountID),
			zap.String("plan", string(sub.Tier)),
			zap.Int("used", res.Used),
			zap.Int("allowance", res.Allowance))
	}
	return result, nil
}

// Activate replaces the account's subscription with a fresh period.
func (s *EntitlementService) Activate(ctx context.Context, req *ActivateRequest) (*models.Subscription, error) {
	accountID := util.NormalizeEmail(req.AccountID)
	if accountID == "" {
		return nil, invalidInput("email is required")
	}
	spec, err := ResolveTier(req.Tier, req.Allowance, req.Price)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &models.Subscription{
		AccountID:        accountID,
		Tier:             spec.Tier,
		MonthlyAllowance: spec.Allowance,
		UsedThisPeriod:   0,
		Price:            spec.Price,
		PeriodStart:      now,
		PeriodEnd:        now.Add(models.SubscriptionPeriod),
		OrderRef:         req.OrderRef,
		PaymentRef:       req.PaymentRef,
	}
	if err := s.quota.Activate(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("Subscription activated",
		util.Identifier("email", accountID),
		zap.String("plan", string(sub.Tier)),
		zap.Time("period_end", sub.PeriodEnd))
	s.audit.Record(ctx, &models.SecurityEvent{
		AccountID: accountID,
		EventType: models.EventSubscriptionChanged,
		Action:    string(sub.Tier),
		Decision:  "activated",
	})
	return sub, nil
}

// ResolveTier checks a tier name and optional explicit values against the
// catalog.
func ResolveTier(name string, allowance *int, price *int64) (models.TierSpec, error) {
	spec, ok := models.LookupTier(name)
	if !ok {
		return models.TierSpec{}, invalidInput("unknown plan %q", name)
	}
	if allowance != nil && *allowance != spec.Allowance {
		return models.TierSpec{}, invalidInput("plan %s allows %d posts per month, not %d", spec.Tier, spec.Allowance, *allowance)
	}
	if price != nil && *price != spec.Price {
		return models.TierSpec{}, invalidInput("plan %s costs %d, not %d", spec.Tier, spec.Price, *price)
	}
	return spec, nil
}
