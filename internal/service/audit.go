package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"access-service/internal/bucketing"
	"access-service/internal/models"
)

const auditTimeout = 2 * time.Second

// AuditSink receives security events. Sinks are best effort.
type AuditSink interface {
	Name() string
	Write(ctx context.Context, event *models.SecurityEvent) error
}

// Auditor stamps events and fans them out to every sink. A sink failure is
// logged and never reaches the caller.
type Auditor struct {
	sinks     []AuditSink
	bucketing *bucketing.BucketingManager
	logger    *zap.Logger
	now       Clock
}

func NewAuditor(bm *bucketing.BucketingManager, logger *zap.Logger, now Clock, sinks ...AuditSink) *Auditor {
	return &Auditor{
		sinks:     sinks,
		bucketing: bm,
		logger:    logger,
		now:       clockOrSystem(now),
	}
}

func (a *Auditor) Record(ctx context.Context, event *models.SecurityEvent) {
	if a == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}
	if a.bucketing != nil {
		event.EventBucket = a.bucketing.EventBucket(event.AccountID)
	}
	if len(a.sinks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range a.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, event); err != nil {
				a.logger.Warn("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", string(event.EventType)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SecurityEventWriter is the ClickHouse client surface.
type SecurityEventWriter interface {
	InsertSecurityEvents(ctx context.Context, events ...*models.SecurityEvent) error
}

type ClickHouseAuditSink struct {
	writer SecurityEventWriter
}

func NewClickHouseAuditSink(w SecurityEventWriter) *ClickHouseAuditSink {
	return &ClickHouseAuditSink{writer: w}
}

func (s *ClickHouseAuditSink) Name() string { return "clickhouse" }

func (s *ClickHouseAuditSink) Write(ctx context.Context, event *models.SecurityEvent) error {
	return s.writer.InsertSecurityEvents(ctx, event)
}

// DocumentIndexer is the Elasticsearch client surface.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

type ElasticsearchAuditSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchAuditSink(indexer DocumentIndexer, index string) *ElasticsearchAuditSink {
	return &ElasticsearchAuditSink{indexer: indexer, index: index}
}

func (s *ElasticsearchAuditSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchAuditSink) Write(ctx context.Context, event *models.SecurityEvent) error {
	return s.indexer.IndexDocument(ctx, s.index, event.EventID, event)
}

type KafkaAuditSink struct {
	producer KafkaPublisher
	topic    string
}

func NewKafkaAuditSink(producer KafkaPublisher, topic string) *KafkaAuditSink {
	return &KafkaAuditSink{producer: producer, topic: topic}
}

func (s *KafkaAuditSink) Name() string { return "kafka" }

func (s *KafkaAuditSink) Write(ctx context.Context, event *models.SecurityEvent) error {
	return s.producer.ProduceJSON(ctx, s.topic, event.AccountID, event, map[string]string{
		"event_type": string(event.EventType),
	})
}
