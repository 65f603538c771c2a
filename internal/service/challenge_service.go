package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"access-service/internal/config"
	"access-service/internal/device"
	"access-service/internal/hashing"
	"access-service/internal/models"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/util"
)

var codeSpace = big.NewInt(1_000_000)

// ChallengeService issues and verifies one-time codes. Verification is done
// here against the stored hash; nothing the client holds is trusted.
type ChallengeService struct {
	store    *redisrepo.ChallengeStore
	limiter  *redisrepo.RateLimitCache
	hasher   *hashing.Hasher
	notifier Notifier
	audit    *Auditor
	policy   config.PolicyConfig
	logger   *zap.Logger
	now      Clock
}

func NewChallengeService(
	store *redisrepo.ChallengeStore,
	limiter *redisrepo.RateLimitCache,
	hasher *hashing.Hasher,
	notifier Notifier,
	audit *Auditor,
	policy config.PolicyConfig,
	logger *zap.Logger,
	now Clock,
) *ChallengeService {
	return &ChallengeService{
		store:    store,
		limiter:  limiter,
		hasher:   hasher,
		notifier: notifier,
		audit:    audit,
		policy:   policy,
		logger:   logger,
		now:      clockOrSystem(now),
	}
}

// ChannelFor is where a code for identifier goes.
func ChannelFor(identifier string) device.Channel {
	if util.IsEmail(identifier) {
		return device.ChannelEmail
	}
	return device.ChannelPhone
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", models.ChallengeCodeLength, n.Int64()), nil
}

// Issue creates a fresh code for (identifier, purpose), replacing any live
// one, and hands it to the notifier. The code is returned for the caller's
// own bookkeeping and must never be echoed to the client.
func (s *ChallengeService) Issue(ctx context.Context, identifier string, purpose models.Purpose) (string, error) {
	identifier = util.NormalizeIdentifier(identifier)
	if identifier == "" {
		return "", invalidInput("identifier is required")
	}
	if _, ok := models.ParsePurpose(string(purpose)); !ok {
		return "", invalidInput("invalid purpose %q", purpose)
	}

	now := s.now()
	if s.limiter != nil && s.policy.IssueLimit > 0 {
		allowed, _, err := s.limiter.SlidingWindow(ctx, "challenge:"+identifier, s.policy.IssueLimit, s.policy.IssueWindow, now)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", ErrRateLimited
		}
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}
	hashed, err := s.hasher.HashChallengeCode(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	challenge := &models.Challenge{
		Identifier: identifier,
		Purpose:    purpose,
		CodeHash:   hashed.Encode(),
		Nonce:      uuid.NewString(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.policy.ChallengeTTL),
	}
	if err := s.store.Save(ctx, challenge); err != nil {
		return "", err
	}

	channel := ChannelFor(identifier)
	if err := s.notifier.DeliverChallenge(ctx, &ChallengeDelivery{
		Channel:     channel,
		Destination: identifier,
		Purpose:     purpose,
		Code:        code,
		ExpiresAt:   challenge.ExpiresAt,
	}); err != nil {
		return "", fmt.Errorf("failed to deliver code: %w", err)
	}

	s.audit.Record(ctx, &models.SecurityEvent{
		AccountID: identifier,
		EventType: models.EventChallengeIssued,
		Action:    string(purpose),
		Decision:  string(channel),
	})
	return code, nil
}

// Verify reports whether code matches the live challenge and, if so,
// consumes it. Of concurrent verifications of the same code at most one
// returns true. Missing, expired, wrong and already-used codes all give false.
func (s *ChallengeService) Verify(ctx context.Context, identifier string, purpose models.Purpose, code string) (bool, error) {
	challenge, err := s.claim(ctx, identifier, purpose, code)
	return challenge != nil, err
}

// Require is Verify with a false result mapped to ErrChallengeInvalid.
func (s *ChallengeService) Require(ctx context.Context, identifier string, purpose models.Purpose, code string) error {
	_, err := s.Claim(ctx, identifier, purpose, code)
	return err
}

// Claim is Require that also hands back the consumed challenge, so a caller
// whose follow-up work fails can Release it.
func (s *ChallengeService) Claim(ctx context.Context, identifier string, purpose models.Purpose, code string) (*models.Challenge, error) {
	challenge, err := s.claim(ctx, identifier, purpose, code)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrChallengeInvalid
	}
	return challenge, nil
}

// Release gives a claimed challenge back for the rest of its lifetime. A
// code issued in the meantime wins.
func (s *ChallengeService) Release(ctx context.Context, challenge *models.Challenge) {
	restored, err := s.store.Restore(ctx, challenge, s.now())
	if err != nil {
		s.logger.Error("Failed to release challenge",
			util.Identifier("identifier", challenge.Identifier),
			zap.String("purpose", string(challenge.Purpose)),
			zap.Error(err))
		return
	}
	s.logger.Info("Challenge released",
		util.Identifier("identifier", challenge.Identifier),
		zap.String("purpose", string(challenge.Purpose)),
		zap.Bool("restored", restored))
}

func (s *ChallengeService) claim(ctx context.Context, identifier string, purpose models.Purpose, code string) (*models.Challenge, error) {
	identifier = util.NormalizeIdentifier(identifier)
	if !wellFormedCode(code) {
		return nil, nil
	}

	challenge, err := s.store.Load(ctx, identifier, purpose)
	if errors.Is(err, redisrepo.ErrChallengeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !challenge.Live(s.now()) {
		return nil, nil
	}

	stored, err := hashing.ParseHashResult(challenge.CodeHash)
	if err != nil {
		s.logger.Error("Stored challenge hash is unreadable",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil, nil
	}
	match, err := s.hasher.VerifyChallengeCode(code, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}
	if !match {
		attempts, discarded, err := s.store.RecordFailure(ctx, identifier, purpose, challenge.Nonce, s.policy.ChallengeMaxAttempts)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Challenge verification failed",
			util.Identifier("identifier", identifier),
			zap.String("purpose", string(purpose)),
			zap.Int("attempts", attempts),
			zap.Bool("discarded", discarded))
		s.audit.Record(ctx, &models.SecurityEvent{
			AccountID: identifier,
			EventType: models.EventChallengeFailed,
			Action:    string(purpose),
			Decision:  "rejected",
		})
		return nil, nil
	}

	consumed, err := s.store.Consume(ctx, identifier, purpose, challenge.Nonce)
	if err != nil || !consumed {
		return nil, err
	}
	return challenge, nil
}

func wellFormedCode(code string) bool {
	if len(code) != models.ChallengeCodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExpiresIn is the configured challenge lifetime.
func (s *ChallengeService) ExpiresIn() time.Duration {
	return s.policy.ChallengeTTL
}
