package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process-wide configuration, read from the environment.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"access-service"`

	Server        ServerConfig        `envconfig:"SERVER"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Scylla        ScyllaConfig        `envconfig:"SCYLLA"`
	Kafka         KafkaConfig         `envconfig:"KAFKA"`
	Elasticsearch ElasticsearchConfig `envconfig:"ELASTICSEARCH"`
	Clickhouse    ClickhouseConfig    `envconfig:"CLICKHOUSE"`
	S3            S3Config            `envconfig:"S3"`
	KMS           KMSConfig           `envconfig:"KMS"`
	Hashing       HashingConfig       `envconfig:"HASHING"`
	Bucketing     BucketingConfig     `envconfig:"BUCKETING"`
	Payment       PaymentConfig       `envconfig:"PAYMENT"`
	Policy        PolicyConfig        `envconfig:"POLICY"`
	Logging       LoggingConfig       `envconfig:"LOG"`
}

type ServerConfig struct {
	Host         string        `envconfig:"HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"PORT" default:"8080"`
	TLSPort      int           `envconfig:"TLS_PORT" default:"8443"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	EnableTLS    bool          `envconfig:"ENABLE_TLS" default:"false"`
	RequireTLS   bool          `envconfig:"REQUIRE_TLS" default:"false"`
	AutoCert     bool          `envconfig:"AUTO_CERT" default:"false"`
	Domain       string        `envconfig:"DOMAIN" default:"localhost"`
	CertFile     string        `envconfig:"CERT_FILE"`
	KeyFile      string        `envconfig:"KEY_FILE"`
	AutoCertDir  string        `envconfig:"AUTO_CERT_DIR" default:"./certs"`
	Email        string        `envconfig:"EMAIL"`
	CORSOrigins  []string      `envconfig:"CORS_ORIGINS" default:"https://*,http://localhost:3000"`
}

type RedisConfig struct {
	URL      string `envconfig:"URL" default:"redis://localhost:6379/0"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
	PoolSize int    `envconfig:"POOL_SIZE" default:"50"`

	// Used only for rediss:// URLs.
	TLSCAFile   string `envconfig:"TLS_CA_FILE" default:"/app/certs/ca.crt"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE" default:"/app/certs/redis.crt"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE" default:"/app/certs/redis.key"`
}

type ScyllaConfig struct {
	Nodes       []string `envconfig:"NODES" default:"localhost:9042"`
	Keyspace    string   `envconfig:"KEYSPACE" default:"access_service"`
	Username    string   `envconfig:"USERNAME"`
	Password    string   `envconfig:"PASSWORD"`
	Consistency string   `envconfig:"CONSISTENCY" default:"LOCAL_QUORUM"`
	AutoMigrate bool     `envconfig:"AUTO_MIGRATE" default:"false"`
	TLSCAPath   string   `envconfig:"TLS_CA_PATH"`
}

type KafkaConfig struct {
	Enabled           bool     `envconfig:"ENABLED" default:"false"`
	Brokers           []string `envconfig:"BROKERS" default:"localhost:9092"`
	ClientID          string   `envconfig:"CLIENT_ID" default:"access-service"`
	DeliveryTopic     string   `envconfig:"DELIVERY_TOPIC" default:"access.challenge.delivery"`
	InvoiceTopic      string   `envconfig:"INVOICE_TOPIC" default:"access.invoice"`
	SecurityTopic     string   `envconfig:"SECURITY_TOPIC" default:"access.security_events"`
	EnableTLS         bool     `envconfig:"ENABLE_TLS" default:"false"`
	RequiredAcks      int      `envconfig:"REQUIRED_ACKS" default:"-1"`
	BatchSize         int      `envconfig:"BATCH_SIZE" default:"100"`
	BatchTimeoutMilli int      `envconfig:"BATCH_TIMEOUT_MS" default:"10"`
}

type ElasticsearchConfig struct {
	Enabled       bool   `envconfig:"ENABLED" default:"false"`
	URL           string `envconfig:"URL" default:"http://localhost:9200"`
	Username      string `envconfig:"USERNAME"`
	Password      string `envconfig:"PASSWORD"`
	SecurityIndex string `envconfig:"SECURITY_INDEX" default:"security-events"`
}

type ClickhouseConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	URL      string `envconfig:"URL" default:"tcp://localhost:9000"`
	Username string `envconfig:"USERNAME" default:"default"`
	Password string `envconfig:"PASSWORD"`
	Database string `envconfig:"DATABASE" default:"access_analytics"`
	CAFile   string `envconfig:"CA_FILE"`
}

type S3Config struct {
	Enabled   bool   `envconfig:"ENABLED" default:"false"`
	Endpoint  string `envconfig:"ENDPOINT"`
	Region    string `envconfig:"REGION" default:"us-east-1"`
	Bucket    string `envconfig:"BUCKET" default:"audio-posts"`
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
}

type KMSConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"false"`
	KeyID   string `envconfig:"KEY_ID"`
	Region  string `envconfig:"REGION" default:"us-east-1"`
}

type HashingConfig struct {
	Argon2MemoryCost  int      `envconfig:"ARGON2_MEMORY_COST" default:"65536"`
	Argon2TimeCost    int      `envconfig:"ARGON2_TIME_COST" default:"3"`
	Argon2Parallelism int      `envconfig:"ARGON2_PARALLELISM" default:"2"`
	Peppers           []string `envconfig:"PEPPERS"`
}

type BucketingConfig struct {
	AccountBuckets int `envconfig:"ACCOUNT_BUCKETS" default:"256"`
	EventBuckets   int `envconfig:"EVENT_BUCKETS" default:"64"`
}

type PaymentConfig struct {
	KeyID     string        `envconfig:"KEY_ID"`
	KeySecret string        `envconfig:"KEY_SECRET"`
	Currency  string        `envconfig:"CURRENCY" default:"INR"`
	OrderTTL  time.Duration `envconfig:"ORDER_TTL" default:"24h"`
}

type PolicyConfig struct {
	ChallengeTTL         time.Duration `envconfig:"CHALLENGE_TTL" default:"10m"`
	ChallengeMaxAttempts int           `envconfig:"CHALLENGE_MAX_ATTEMPTS" default:"5"`
	IssueLimit           int           `envconfig:"ISSUE_LIMIT" default:"5"`
	IssueWindow          time.Duration `envconfig:"ISSUE_WINDOW" default:"10m"`
	AlertKeywords        []string      `envconfig:"ALERT_KEYWORDS" default:"cricket,science"`
}

type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

var (
	global   *Config
	loadOnce sync.Once
)

// LoadConfig reads an optional .env file, then the environment. It panics on
// malformed values; the server cannot start with a half-parsed config.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		cfg, err := Load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		global = cfg
	})
	return global
}

// Load parses the environment without touching the process-wide config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the config loaded by LoadConfig.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) validate() error {
	if c.IsProduction() {
		if c.Payment.KeySecret == "" {
			return fmt.Errorf("PAYMENT_KEY_SECRET is required in production")
		}
		if len(c.Hashing.Peppers) == 0 {
			return fmt.Errorf("HASHING_PEPPERS is required in production")
		}
		if c.KMS.Enabled && c.KMS.KeyID == "" {
			return fmt.Errorf("KMS_KEY_ID is required when KMS is enabled")
		}
	}
	if c.Bucketing.AccountBuckets <= 0 || c.Bucketing.EventBuckets <= 0 {
		return fmt.Errorf("bucket counts must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
