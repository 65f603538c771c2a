package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"access-service/internal/config"
	"access-service/internal/models"
	"access-service/internal/policy"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/util"
)

// MinorUnitsPerRupee converts catalog prices to processor amounts.
const MinorUnitsPerRupee = 100

type CreateOrderRequest struct {
	AccountID string
	Tier      string
	Amount    int64
	Currency  string
	Receipt   string
}

type VerifyPaymentRequest struct {
	OrderRef   string
	PaymentRef string
	Signature  string
	AccountID  string
	Tier       string
	Allowance  *int
	Price      *int64
}

// PaymentService opens processor orders inside the payment window and turns
// signed payment confirmations into tier activations.
type PaymentService struct {
	entitlements *EntitlementService
	orders       *redisrepo.OrderStore
	notifier     Notifier
	audit        *Auditor
	cfg          config.PaymentConfig
	logger       *zap.Logger
	now          Clock
}

func NewPaymentService(entitlements *EntitlementService, orders *redisrepo.OrderStore, notifier Notifier, audit *Auditor, cfg config.PaymentConfig, logger *zap.Logger, now Clock) *PaymentService {
	return &PaymentService{
		entitlements: entitlements,
		orders:       orders,
		notifier:     notifier,
		audit:        audit,
		cfg:          cfg,
		logger:       logger,
		now:          clockOrSystem(now),
	}
}

func (s *PaymentService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	now := s.now()
	if ok, reason := policy.IsAllowed(policy.ActionSubscriptionPayment, now); !ok {
		s.audit.Record(ctx, &models.SecurityEvent{
			AccountID: util.NormalizeEmail(req.AccountID),
			EventType: models.EventPolicyDenied,
			Action:    string(policy.ActionSubscriptionPayment),
			Decision:  "denied",
			Reason:    reason,
		})
		return nil, denied(reason)
	}

	if req.Amount <= 0 {
		return nil, invalidInput("amount must be positive")
	}
	order := &models.Order{
		ID:        "order_" + uuid.NewString(),
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
		Receipt:   req.Receipt,
		Status:    models.OrderCreated,
		AccountID: util.NormalizeEmail(req.AccountID),
		CreatedAt: now,
	}
	if order.Currency == "" {
		order.Currency = s.cfg.Currency
	}
	if req.Tier != "" {
		spec, err := ResolveTier(req.Tier, nil, nil)
		if err != nil {
			return nil, err
		}
		if spec.Price*MinorUnitsPerRupee != req.Amount {
			return nil, invalidInput("amount %d does not match plan %s", req.Amount, spec.Tier)
		}
		order.Tier = spec.Tier
	}
	if order.Receipt == "" {
		order.Receipt = "receipt_" + order.ID
	}
	if err := s.orders.Save(ctx, order, s.cfg.OrderTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info("Payment order created",
		zap.String("order_id", order.ID),
		zap.Int64("amount", order.Amount),
		zap.String("currency", order.Currency),
		zap.String("plan", string(order.Tier)))
	return order, nil
}

// Sign computes the processor signature for an order/payment pair.
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares in constant time.
func (s *PaymentService) ValidSignature(orderRef, paymentRef, signature string) bool {
	if s.cfg.KeySecret == "" || orderRef == "" || paymentRef == "" {
		return false
	}
	expected := Sign(s.cfg.KeySecret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// VerifyPayment activates the paid tier only when the signature checks out
// and the stored order matches the account and plan being activated. Any
// rejection changes nothing; an order pays for at most one activation.
func (s *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*models.Subscription, error) {
	accountID := util.NormalizeEmail(req.AccountID)
	if !s.ValidSignature(req.OrderRef, req.PaymentRef, req.Signature) {
		s.reject(ctx, accountID, req.OrderRef, "invalid signature")
		return nil, ErrInvalidSignature
	}

	order, err := s.orders.Load(ctx, req.OrderRef)
	if errors.Is(err, redisrepo.ErrOrderNotFound) {
		s.reject(ctx, accountID, req.OrderRef, "unknown order")
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	spec, err := ResolveTier(req.Tier, req.Allowance, req.Price)
	if err != nil {
		return nil, err
	}
	if reason := orderMismatch(order, accountID, spec); reason != "" {
		s.reject(ctx, accountID, req.OrderRef, reason)
		return nil, fmt.Errorf("%w: %s", ErrOrderMismatch, reason)
	}

	claimed, err := s.orders.Transition(ctx, order.ID, models.OrderCreated, models.OrderPaid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !claimed {
		s.reject(ctx, accountID, req.OrderRef, "order already paid")
		return nil, fmt.Errorf("%w: order already paid", ErrOrderMismatch)
	}

	sub, err := s.entitlements.Activate(ctx, &ActivateRequest{
		AccountID:  accountID,
		Tier:       string(spec.Tier),
		OrderRef:   req.OrderRef,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		if _, rerr := s.orders.Transition(ctx, order.ID, models.OrderPaid, models.OrderCreated); rerr != nil {
			s.logger.Error("Failed to reopen order after activation error",
				zap.String("order_id", order.ID),
				zap.Error(rerr))
		}
		return nil, err
	}

	invoice := &models.Invoice{
		AccountID:  sub.AccountID,
		Tier:       sub.Tier,
		Price:      sub.Price,
		Currency:   s.cfg.Currency,
		OrderRef:   sub.OrderRef,
		PaymentRef: sub.PaymentRef,
		IssuedAt:   s.now(),
	}
	if err := s.notifier.SendInvoice(ctx, invoice); err != nil {
		// The tier is already active; a lost invoice is resent by support.
		s.logger.Error("Failed to send invoice",
			zap.String("order_id", sub.OrderRef),
			zap.Error(err))
	}
	return sub, nil
}

func (s *PaymentService) reject(ctx context.Context, accountID, orderRef, reason string) {
	s.logger.Warn("Payment rejected",
		zap.String("order_id", orderRef),
		zap.String("reason", reason),
		util.Identifier("email", accountID))
	s.audit.Record(ctx, &models.SecurityEvent{
		AccountID: accountID,
		EventType: models.EventPaymentRejected,
		Action:    string(policy.ActionSubscriptionPayment),
		Decision:  "rejected",
		Reason:    reason,
	})
}

// orderMismatch reports why a stored order cannot pay for spec, or "".
func orderMismatch(order *models.Order, accountID string, spec models.TierSpec) string {
	switch {
	case order.AccountID != "" && order.AccountID != accountID:
		return "order belongs to another account"
	case order.Tier != "" && order.Tier != spec.Tier:
		return fmt.Sprintf("order is for plan %s, not %s", order.Tier, spec.Tier)
	case order.Amount != spec.Price*MinorUnitsPerRupee:
		return fmt.Sprintf("order amount %d does not cover plan %s", order.Amount, spec.Tier)
	}
	return ""
}
