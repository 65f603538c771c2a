package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"access-service/internal/device"
	"access-service/internal/models"
	"access-service/internal/util"
)

// ChallengeDelivery is a one-time code on its way to the account holder.
type ChallengeDelivery struct {
	Channel     device.Channel `json:"channel"`
	Destination string         `json:"destination"`
	Purpose     models.Purpose `json:"purpose"`
	Code        string         `json:"code"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Notifier hands messages to whatever delivers email and SMS.
type Notifier interface {
	DeliverChallenge(ctx context.Context, d *ChallengeDelivery) error
	SendInvoice(ctx context.Context, inv *models.Invoice) error
}

// LogNotifier only logs. The code itself is logged only when revealCodes is
// set, which the factory does in development.
type LogNotifier struct {
	logger      *zap.Logger
	revealCodes bool
}

func NewLogNotifier(logger *zap.Logger, revealCodes bool) *LogNotifier {
	return &LogNotifier{logger: logger, revealCodes: revealCodes}
}

func (n *LogNotifier) DeliverChallenge(ctx context.Context, d *ChallengeDelivery) error {
	fields := []zap.Field{
		zap.String("channel", string(d.Channel)),
		util.Identifier("destination", d.Destination),
		zap.String("purpose", string(d.Purpose)),
		zap.Time("expires_at", d.ExpiresAt),
	}
	if n.revealCodes {
		fields = append(fields, zap.String("code", d.Code))
	}
	n.logger.Info("One-time code issued", fields...)
	return nil
}

func (n *LogNotifier) SendInvoice(ctx context.Context, inv *models.Invoice) error {
	n.logger.Info("Invoice issued",
		util.Identifier("email", inv.AccountID),
		zap.String("plan", string(inv.Tier)),
		zap.Int64("price", inv.Price),
		zap.String("currency", inv.Currency),
		zap.String("order_id", inv.OrderRef))
	return nil
}

// KafkaPublisher is the producer surface the Kafka notifier and audit sink use.
type KafkaPublisher interface {
	ProduceJSON(ctx context.Context, topic, key string, v interface{}, headers map[string]string) error
}

// KafkaNotifier writes deliveries and invoices to outbox topics consumed by
// the mail and SMS workers.
type KafkaNotifier struct {
	producer      KafkaPublisher
	deliveryTopic string
	invoiceTopic  string
	logger        *zap.Logger
}

func NewKafkaNotifier(producer KafkaPublisher, deliveryTopic, invoiceTopic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		producer:      producer,
		deliveryTopic: deliveryTopic,
		invoiceTopic:  invoiceTopic,
		logger:        logger,
	}
}

func (n *KafkaNotifier) DeliverChallenge(ctx context.Context, d *ChallengeDelivery) error {
	err := n.producer.ProduceJSON(ctx, n.deliveryTopic, d.Destination, d, map[string]string{
		"channel": string(d.Channel),
		"purpose": string(d.Purpose),
	})
	if err != nil {
		n.logger.Error("Failed to publish challenge delivery",
			util.Identifier("destination", d.Destination),
			zap.Error(err))
		return err
	}
	return nil
}

func (n *KafkaNotifier) SendInvoice(ctx context.Context, inv *models.Invoice) error {
	if err := n.producer.ProduceJSON(ctx, n.invoiceTopic, inv.AccountID, inv, nil); err != nil {
		n.logger.Error("Failed to publish invoice",
			util.Identifier("email", inv.AccountID),
			zap.String("order_id", inv.OrderRef),
			zap.Error(err))
		return err
	}
	return nil
}
