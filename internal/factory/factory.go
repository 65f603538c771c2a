package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"access-service/internal/bucketing"
	"access-service/internal/client"
	"access-service/internal/config"
	"access-service/internal/encryption"
	"access-service/internal/hashing"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/repository/scylla"
	"access-service/internal/service"
	"access-service/internal/tls"
	"access-service/internal/util"
)

const healthCheckTimeout = 5 * time.Second

// Factory owns every client the process opens and the service graph built
// on top of them.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	s3Client         *client.S3Client

	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads config, starts the logger, connects the stores and
// builds the services. Redis and Scylla are required; the analytics,
// outbox and object storage backends are optional and skipped on failure
// outside production.
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}
	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg)
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := f.initializeStores(initCtx); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.initializeOptional(initCtx); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.initializeManagers(initCtx); err != nil {
		f.Close()
		return nil, err
	}
	f.serviceFactory = service.NewServiceFactory(cfg, f.dependencies(), util.Get())

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", f.clickhouseClient != nil),
		util.Bool("elasticsearch_enabled", f.esClient != nil),
		util.Bool("s3_enabled", f.s3Client != nil),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeStores(ctx context.Context) error {
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")
	return nil
}

func (f *Factory) initializeOptional(ctx context.Context) error {
	var initErrors []error

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			util.Info("Elasticsearch client initialized")
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			util.Info("ClickHouse client initialized")
		}
	}

	if f.config.S3.Enabled {
		if s3c, err := client.NewS3Client(ctx, f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("s3: %w", err))
		} else {
			f.s3Client = s3c
			util.Info("S3 client initialized", util.String("bucket", f.config.S3.Bucket))
		}
	}

	if len(initErrors) == 0 {
		return nil
	}
	if f.config.IsProduction() {
		return fmt.Errorf("optional backend initialization failed: %w", errors.Join(initErrors...))
	}
	for _, err := range initErrors {
		util.Warn("Backend disabled after initialization failure", util.ErrorField(err))
	}
	return nil
}

func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("kms: failed to load AWS config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)

	util.Info("Managers initialized successfully",
		util.Int("pepper_version", f.hasher.CurrentPepperVersion()),
		util.Bool("kms_enabled", kmsClient != nil),
	)
	return nil
}

func (f *Factory) dependencies() *service.Dependencies {
	deps := &service.Dependencies{
		Challenges:   redisrepo.NewChallengeStore(f.redisClient),
		RateLimits:   redisrepo.NewRateLimitCache(f.redisClient),
		Quota:        redisrepo.NewQuotaStore(f.redisClient),
		Preferences:  redisrepo.NewPreferenceStore(f.redisClient),
		Orders:       redisrepo.NewOrderStore(f.redisClient),
		Accounts:     scylla.NewAccountRepository(f.scyllaClient, f.bucketingManager),
		LoginHistory: scylla.NewLoginHistoryRepository(f.scyllaClient),
		Resets:       scylla.NewPasswordResetRepository(f.scyllaClient),
		Posts:        scylla.NewPostRepository(f.scyllaClient),
		Hasher:       f.hasher,
		Encryption:   f.encryptionManager,
		Bucketing:    f.bucketingManager,
	}

	if f.kafkaProducer != nil {
		deps.Notifier = service.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.DeliveryTopic, f.config.Kafka.InvoiceTopic, util.Get())
		deps.AuditSinks = append(deps.AuditSinks, service.NewKafkaAuditSink(f.kafkaProducer, f.config.Kafka.SecurityTopic))
	} else {
		deps.Notifier = service.NewLogNotifier(util.Get(), !f.config.IsProduction())
	}
	if f.clickhouseClient != nil {
		deps.AuditSinks = append(deps.AuditSinks, service.NewClickHouseAuditSink(f.clickhouseClient))
	}
	if f.esClient != nil {
		deps.AuditSinks = append(deps.AuditSinks, service.NewElasticsearchAuditSink(f.esClient, f.esClient.SecurityIndex()))
	}
	// A nil *S3Client must not end up inside the interface.
	if f.s3Client != nil {
		deps.AudioStore = f.s3Client
	}
	return deps
}

// Ready checks every connected backend concurrently. It backs the /ready
// endpoint.
func (f *Factory) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	check := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	check("redis", f.redisClient.HealthCheck)
	check("scylla", f.scyllaClient.HealthCheck)
	if f.kafkaProducer != nil {
		check("kafka", f.kafkaProducer.HealthCheck)
	}
	if f.esClient != nil {
		check("elasticsearch", f.esClient.HealthCheck)
	}
	if f.clickhouseClient != nil {
		check("clickhouse", f.clickhouseClient.HealthCheck)
	}
	if f.s3Client != nil {
		check("s3", f.s3Client.HealthCheck)
	}
	return g.Wait()
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
