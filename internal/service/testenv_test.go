package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"access-service/internal/bucketing"
	"access-service/internal/client"
	"access-service/internal/config"
	"access-service/internal/encryption"
	"access-service/internal/hashing"
	"access-service/internal/models"
	"access-service/internal/policy"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/repository/scylla"
)

// ist builds an instant from an IST wall-clock time on a fixed day.
func ist(hour, minute int) time.Time {
	return time.Date(2025, 6, 2, hour, minute, 0, 0, policy.IST).UTC()
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakePosts struct {
	mu    sync.Mutex
	posts []*models.Post
	err   error
}

func (f *fakePosts) Create(_ context.Context, p *models.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, p)
	return nil
}

func (f *fakePosts) CountSince(_ context.Context, accountID string, kind models.PostKind, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, p := range f.posts {
		if p.AccountID == accountID && p.Kind == kind && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakePosts) add(accountID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, &models.Post{AccountID: accountID, Kind: models.PostKindText, CreatedAt: at})
}

type fakeLoginHistory struct {
	mu      sync.Mutex
	records []*models.LoginRecord
}

func (f *fakeLoginHistory) Append(_ context.Context, rec *models.LoginRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.SourceAddress = ""
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeLoginHistory) ListRecent(_ context.Context, accountID string, limit int) ([]*models.LoginRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LoginRecord
	for _, r := range f.records {
		if r.AccountID == accountID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeResets struct {
	mu   sync.Mutex
	rows []*models.PasswordResetRequest
}

func (f *fakeResets) ExistsOnDay(_ context.Context, identifier string, typ models.IdentifierType, day string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.Identifier == identifier && r.Type == typ && r.CivilDay == day {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeResets) Append(_ context.Context, req *models.PasswordResetRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, req)
	return nil
}

type fakeAccounts struct {
	mu      sync.Mutex
	byEmail map[string]*models.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byEmail: map[string]*models.Account{}}
}

func (f *fakeAccounts) CreateAccount(_ context.Context, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byEmail[a.Email] = a
	return nil
}

func (f *fakeAccounts) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byEmail[email]
	if !ok {
		return nil, scylla.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) FindByPhone(_ context.Context, phone string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byEmail {
		if a.Phone == phone {
			cp := *a
			return &cp, nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (f *fakeAccounts) UpdatePassword(_ context.Context, email, hash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byEmail[email]
	if !ok {
		return scylla.ErrAccountNotFound
	}
	a.PasswordHash = hash
	a.UpdatedAt = at
	return nil
}

type fakeAudio struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeAudio) PutAudio(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = buf.Bytes()
	return nil
}

func (f *fakeAudio) DeleteAudio(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []*ChallengeDelivery
	invoices   []*models.Invoice
	invoiceErr error
}

func (n *recordingNotifier) DeliverChallenge(_ context.Context, d *ChallengeDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *recordingNotifier) SendInvoice(_ context.Context, inv *models.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.invoiceErr != nil {
		return n.invoiceErr
	}
	n.invoices = append(n.invoices, inv)
	return nil
}

func (n *recordingNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.deliveries) == 0 {
		return ""
	}
	return n.deliveries[len(n.deliveries)-1].Code
}

type recordingSink struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, e *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) types() []models.SecurityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SecurityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

var errSinkDown = errors.New("sink down")

type testEnv struct {
	cfg      *config.Config
	clock    *testClock
	mr       *miniredis.Miniredis
	quota    *redisrepo.QuotaStore
	posts    *fakePosts
	logins   *fakeLoginHistory
	resets   *fakeResets
	accounts *fakeAccounts
	audio    *fakeAudio
	notifier *recordingNotifier
	sink     *recordingSink
	hasher   *hashing.Hasher
	factory  *ServiceFactory
}

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "test"}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Peppers = []string{"test-pepper"}
	cfg.Bucketing.AccountBuckets = 16
	cfg.Bucketing.EventBuckets = 8
	cfg.Payment.KeySecret = "test_secret"
	cfg.Payment.Currency = "INR"
	cfg.Payment.OrderTTL = 24 * time.Hour
	cfg.Policy.ChallengeTTL = 10 * time.Minute
	cfg.Policy.ChallengeMaxAttempts = 5
	cfg.Policy.IssueLimit = 5
	cfg.Policy.IssueWindow = 10 * time.Minute
	cfg.Policy.AlertKeywords = []string{"cricket", "science"}
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()

	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	redisClient := client.NewRedisClientFrom(rc)

	env := &testEnv{
		cfg:      cfg,
		clock:    &testClock{t: ist(15, 0)},
		mr:       mr,
		quota:    redisrepo.NewQuotaStore(redisClient),
		posts:    &fakePosts{},
		logins:   &fakeLoginHistory{},
		resets:   &fakeResets{},
		accounts: newFakeAccounts(),
		audio:    &fakeAudio{},
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
		hasher:   hashing.NewHasher(cfg),
	}

	env.factory = NewServiceFactory(cfg, &Dependencies{
		Challenges:   redisrepo.NewChallengeStore(redisClient),
		RateLimits:   redisrepo.NewRateLimitCache(redisClient),
		Quota:        env.quota,
		Preferences:  redisrepo.NewPreferenceStore(redisClient),
		Orders:       redisrepo.NewOrderStore(redisClient),
		Accounts:     env.accounts,
		LoginHistory: env.logins,
		Resets:       env.resets,
		Posts:        env.posts,
		Hasher:       env.hasher,
		Encryption:   encryption.NewEncryptionManager(cfg, nil),
		Bucketing:    bucketing.NewBucketingManager(cfg),
		Notifier:     env.notifier,
		AudioStore:   env.audio,
		AuditSinks:   []AuditSink{env.sink},
		Clock:        env.clock.Now,
	}, zap.NewNop())

	require.NotNil(t, env.factory.Gateway())
	return env
}
