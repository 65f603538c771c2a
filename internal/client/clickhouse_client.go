package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"access-service/internal/config"
	"access-service/internal/models"
	"access-service/internal/util"
)

const securityEventsDDL = `
CREATE TABLE IF NOT EXISTS security_events (
    event_id     String,
    event_bucket Int32,
    account_id   String,
    event_type   LowCardinality(String),
    action       LowCardinality(String),
    decision     LowCardinality(String),
    reason       String,
    device_type  LowCardinality(String),
    browser      LowCardinality(String),
    occurred_at  DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(occurred_at)
ORDER BY (event_type, event_bucket, occurred_at)`

type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
	mu     sync.RWMutex
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	addr, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if secure || cfg.IsProduction() {
		host, _, _ := net.SplitHostPort(addr)
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
		if chConfig.CAFile != "" {
			caCert, err := os.ReadFile(chConfig.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append CA cert")
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, securityEventsDDL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create security_events table: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("addr", addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

// InsertSecurityEvents writes events in one batch.
func (c *ClickHouseClient) InsertSecurityEvents(ctx context.Context, events ...*models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO security_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, e := range events {
		if err := batch.AppendStruct(e); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append security event: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send security events: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			util.Error("Failed to close ClickHouse connection", zap.Error(err))
			return err
		}
		util.Info("ClickHouse connection closed")
	}
	return nil
}

// clickhouseAddr turns tcp://host[:port] or https://host[:port] into a
// native-protocol address.
func clickhouseAddr(raw string) (string, bool, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, fmt.Errorf("invalid ClickHouse URL %q", raw)
	}
	secure := u.Scheme == "https" || u.Scheme == "tls"
	if u.Port() != "" {
		return u.Host, secure, nil
	}
	if secure {
		return net.JoinHostPort(u.Hostname(), "9440"), true, nil
	}
	return net.JoinHostPort(u.Hostname(), "9000"), false, nil
}
