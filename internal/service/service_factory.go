package service

import (
	"go.uber.org/zap"

	"access-service/internal/bucketing"
	"access-service/internal/config"
	"access-service/internal/encryption"
	"access-service/internal/hashing"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/repository/scylla"
)

// Dependencies are the stores and clients the services are built from.
type Dependencies struct {
	Challenges  *redisrepo.ChallengeStore
	RateLimits  *redisrepo.RateLimitCache
	Quota       *redisrepo.QuotaStore
	Preferences *redisrepo.PreferenceStore
	Orders      *redisrepo.OrderStore

	Accounts     scylla.AccountRepository
	LoginHistory scylla.LoginHistoryRepository
	Resets       scylla.PasswordResetRepository
	Posts        scylla.PostRepository

	Hasher     *hashing.Hasher
	Encryption *encryption.EncryptionManager
	Bucketing  *bucketing.BucketingManager
	Notifier   Notifier
	AudioStore AudioStore
	AuditSinks []AuditSink
	Clock      Clock
}

// ServiceFactory wires every service once and hands out the instances.
type ServiceFactory struct {
	auditor      *Auditor
	challenges   *ChallengeService
	entitlements *EntitlementService
	payments     *PaymentService
	logins       *LoginService
	resets       *ResetService
	preferences  *PreferenceService
	gateway      *Gateway
}

func NewServiceFactory(cfg *config.Config, deps *Dependencies, logger *zap.Logger) *ServiceFactory {
	now := clockOrSystem(deps.Clock)
	f := &ServiceFactory{}

	f.auditor = NewAuditor(deps.Bucketing, logger, now, deps.AuditSinks...)
	f.challenges = NewChallengeService(deps.Challenges, deps.RateLimits, deps.Hasher, deps.Notifier, f.auditor, cfg.Policy, logger, now)
	f.entitlements = NewEntitlementService(deps.Quota, deps.Posts, f.auditor, logger, now)
	f.payments = NewPaymentService(f.entitlements, deps.Orders, deps.Notifier, f.auditor, cfg.Payment, logger, now)
	f.logins = NewLoginService(deps.LoginHistory, deps.Encryption, logger, now)
	f.resets = NewResetService(deps.Resets, deps.Accounts, f.challenges, deps.Hasher, f.auditor, logger, now)
	f.preferences = NewPreferenceService(deps.Preferences, cfg.Policy.AlertKeywords, logger, now)
	f.gateway = NewGateway(f.challenges, f.logins, f.preferences, deps.Posts, deps.AudioStore, f.auditor, logger, now)
	return f
}

func (f *ServiceFactory) Challenges() *ChallengeService     { return f.challenges }
func (f *ServiceFactory) Entitlements() *EntitlementService { return f.entitlements }
func (f *ServiceFactory) Payments() *PaymentService         { return f.payments }
func (f *ServiceFactory) Logins() *LoginService             { return f.logins }
func (f *ServiceFactory) Resets() *ResetService             { return f.resets }
func (f *ServiceFactory) Preferences() *PreferenceService   { return f.preferences }
func (f *ServiceFactory) Gateway() *Gateway                 { return f.gateway }
