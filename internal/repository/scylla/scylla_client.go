package scylla

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/config"
	"access-service/internal/util"
)

// Statements are the CQL strings the repositories use. Queries are built per
// call from these because a *gocql.Query is not safe for concurrent use.
var Statements = struct {
	InsertAccount        string
	InsertPhoneToAccount string
	GetAccountByEmail    string
	GetEmailByPhone      string
	UpdatePasswordHash   string

	InsertLogin      string
	ListRecentLogins string

	InsertReset    string
	ResetExistsDay string

	InsertPost     string
	CountPostSince string
}{
	InsertAccount: `
        INSERT INTO accounts (account_bucket, email, phone, password_hash, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
	InsertPhoneToAccount: `
        INSERT INTO phone_to_account (phone, email, created_at) VALUES (?, ?, ?)`,
	GetAccountByEmail: `
        SELECT account_bucket, email, phone, password_hash, created_at, updated_at
        FROM accounts WHERE account_bucket = ? AND email = ?`,
	GetEmailByPhone: `
        SELECT email FROM phone_to_account WHERE phone = ?`,
	UpdatePasswordHash: `
        UPDATE accounts SET password_hash = ?, updated_at = ?
        WHERE account_bucket = ? AND email = ? IF EXISTS`,

	InsertLogin: `
        INSERT INTO login_history (
            account_id, observed_at, record_id, browser, os, device_type,
            screen_resolution, locale, source_address_ct, source_address_dek, source_key_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	ListRecentLogins: `
        SELECT account_id, observed_at, record_id, browser, os, device_type,
            screen_resolution, locale, source_address_ct, source_address_dek, source_key_id
        FROM login_history WHERE account_id = ? LIMIT ?`,

	InsertReset: `
        INSERT INTO password_resets (identifier, identifier_type, civil_day, requested_at)
        VALUES (?, ?, ?, ?)`,
	ResetExistsDay: `
        SELECT requested_at FROM password_resets
        WHERE identifier = ? AND identifier_type = ? AND civil_day = ? LIMIT 1`,

	InsertPost: `
        INSERT INTO posts (
            account_id, created_at, post_id, kind, object_key, content_type,
            duration_seconds, size_bytes
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	CountPostSince: `
        SELECT COUNT(*) FROM posts WHERE account_id = ? AND kind = ? AND created_at >= ?`,
}

// Schema creates the tables above. Applied on startup when
// SCYLLA_AUTO_MIGRATE is set.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        account_bucket int,
        email text,
        phone text,
        password_hash text,
        created_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((account_bucket), email)
    )`,
	`CREATE TABLE IF NOT EXISTS phone_to_account (
        phone text PRIMARY KEY,
        email text,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS login_history (
        account_id text,
        observed_at timestamp,
        record_id timeuuid,
        browser text,
        os text,
        device_type text,
        screen_resolution text,
        locale text,
        source_address_ct text,
        source_address_dek text,
        source_key_id text,
        PRIMARY KEY ((account_id), observed_at, record_id)
    ) WITH CLUSTERING ORDER BY (observed_at DESC, record_id DESC)`,
	`CREATE TABLE IF NOT EXISTS password_resets (
        identifier text,
        identifier_type text,
        civil_day text,
        requested_at timestamp,
        PRIMARY KEY ((identifier, identifier_type, civil_day), requested_at)
    ) WITH default_time_to_live = 2592000`,
	`CREATE TABLE IF NOT EXISTS posts (
        account_id text,
        created_at timestamp,
        post_id timeuuid,
        kind text,
        object_key text,
        content_type text,
        duration_seconds double,
        size_bytes bigint,
        PRIMARY KEY ((account_id, kind), created_at, post_id)
    ) WITH CLUSTERING ORDER BY (created_at DESC, post_id DESC)`,
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = parseConsistency(scyllaConfig.Consistency)
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.TLSCAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.TLSCAPath,
			EnableHostVerification: !cfg.IsDevelopment(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if scyllaConfig.AutoMigrate {
		if err := client.EnsureSchema(context.Background()); err != nil {
			session.Close()
			return nil, err
		}
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.String("consistency", cluster.Consistency.String()))

	return client, nil
}

func parseConsistency(name string) gocql.Consistency {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "ALL":
		return gocql.All
	default:
		return gocql.LocalQuorum
	}
}

// EnsureSchema applies Schema statement by statement.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema applied", zap.Int("statements", len(Schema)))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

// Query builds a fresh query bound to ctx.
func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
