package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
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
	"access-service/internal/service"
)

type memPosts struct {
	mu    sync.Mutex
	posts []*models.Post
}

func (m *memPosts) Create(_ context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, p)
	return nil
}

func (m *memPosts) CountSince(_ context.Context, accountID string, kind models.PostKind, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.posts {
		if p.AccountID == accountID && p.Kind == kind && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type memLogins struct {
	mu      sync.Mutex
	records []*models.LoginRecord
}

func (m *memLogins) Append(_ context.Context, rec *models.LoginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append([]*models.LoginRecord{&cp}, m.records...)
	return nil
}

func (m *memLogins) ListRecent(_ context.Context, accountID string, limit int) ([]*models.LoginRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LoginRecord
	for _, r := range m.records {
		if r.AccountID == accountID && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memResets struct {
	mu   sync.Mutex
	rows []*models.PasswordResetRequest
}

func (m *memResets) ExistsOnDay(_ context.Context, identifier string, typ models.IdentifierType, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Identifier == identifier && r.Type == typ && r.CivilDay == day {
			return true, nil
		}
	}
	return false, nil
}

func (m *memResets) Append(_ context.Context, req *models.PasswordResetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, req)
	return nil
}

type memAccounts struct{}

func (memAccounts) CreateAccount(context.Context, *models.Account) error { return nil }
func (memAccounts) FindByEmail(context.Context, string) (*models.Account, error) {
	return nil, scylla.ErrAccountNotFound
}
func (memAccounts) FindByPhone(context.Context, string) (*models.Account, error) {
	return nil, scylla.ErrAccountNotFound
}
func (memAccounts) UpdatePassword(context.Context, string, string, time.Time) error {
	return scylla.ErrAccountNotFound
}

type memAudio struct {
	mu   sync.Mutex
	keys []string
}

func (m *memAudio) PutAudio(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	m.keys = append(m.keys, key)
	return nil
}

func (m *memAudio) DeleteAudio(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return nil
}

type codeNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *codeNotifier) DeliverChallenge(_ context.Context, d *service.ChallengeDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[d.Destination+"/"+string(d.Purpose)] = d.Code
	return nil
}

func (n *codeNotifier) SendInvoice(context.Context, *models.Invoice) error { return nil }

func (n *codeNotifier) code(destination string, purpose models.Purpose) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[destination+"/"+string(purpose)]
}

type server struct {
	router   chi.Router
	now      time.Time
	mu       sync.Mutex
	notifier *codeNotifier
	audio    *memAudio
}

func (s *server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *server) setIST(hour, minute int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = time.Date(2025, 6, 2, hour, minute, 0, 0, policy.IST)
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := &config.Config{Environment: "test", ServiceName: "access-service"}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Peppers = []string{"test-pepper"}
	cfg.Bucketing.AccountBuckets = 16
	cfg.Bucketing.EventBuckets = 8
	cfg.Payment.KeySecret = "test_secret"
	cfg.Payment.Currency = "INR"
	cfg.Payment.OrderTTL = time.Hour
	cfg.Policy.ChallengeTTL = 10 * time.Minute
	cfg.Policy.ChallengeMaxAttempts = 5
	cfg.Policy.AlertKeywords = []string{"cricket", "science"}
	cfg.Server.CORSOrigins = []string{"*"}

	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	redisClient := client.NewRedisClientFrom(rc)

	s := &server{notifier: &codeNotifier{codes: map[string]string{}}, audio: &memAudio{}}
	s.setIST(15, 0)

	factory := service.NewServiceFactory(cfg, &service.Dependencies{
		Challenges:   redisrepo.NewChallengeStore(redisClient),
		RateLimits:   redisrepo.NewRateLimitCache(redisClient),
		Quota:        redisrepo.NewQuotaStore(redisClient),
		Preferences:  redisrepo.NewPreferenceStore(redisClient),
		Orders:       redisrepo.NewOrderStore(redisClient),
		Accounts:     memAccounts{},
		LoginHistory: &memLogins{},
		Resets:       &memResets{},
		Posts:        &memPosts{},
		Hasher:       hashing.NewHasher(cfg),
		Encryption:   encryption.NewEncryptionManager(cfg, nil),
		Bucketing:    bucketing.NewBucketingManager(cfg),
		Notifier:     s.notifier,
		AudioStore:   s.audio,
		Clock:        s.clock,
	}, zap.NewNop())

	s.router = NewRouter(NewAccessHandler(factory, zap.NewNop()), cfg, nil, zap.NewNop())
	return s
}

func (s *server) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendAndVerifyOTP(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/send-otp", map[string]string{"email": "ana@example.com", "purpose": "wire_transfer"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = s.do(t, http.MethodPost, "/send-otp", map[string]string{"purpose": "login"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/api/v1/send-otp", map[string]string{"email": "ana@example.com", "purpose": "login"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), s.notifier.code("ana@example.com", models.PurposeLogin))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "email", data["channel"])
	assert.Equal(t, float64(600), data["expiresIn"])

	rec, body = s.do(t, http.MethodPost, "/verify-otp", map[string]string{"email": "ana@example.com", "purpose": "login", "otp": "abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid OTP", body["error"])

	code := s.notifier.code("ana@example.com", models.PurposeLogin)
	rec, _ = s.do(t, http.MethodPost, "/verify-otp", map[string]string{"email": "ana@example.com", "purpose": "login", "otp": code})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/verify-otp", map[string]string{"email": "ana@example.com", "purpose": "login", "otp": code})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a code verifies once")
}

func TestEvaluate(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/access/evaluate", map[string]interface{}{
		"action": "audio_upload",
		"email":  "ana@example.com",
		"device": map[string]string{"browser": "Edge", "deviceType": "desktop"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, true, body["requiresChallenge"])
	assert.Equal(t, "email", body["channel"])

	s.setIST(19, 0)
	rec, body = s.do(t, http.MethodPost, "/access/evaluate", map[string]interface{}{
		"action": "audio_upload",
		"email":  "ana@example.com",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "Audio uploads only allowed between 2 PM - 7 PM IST", body["error"])
}

func TestPostLimitFlow(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodGet, "/check-tweet-limit?email=ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["canPost"])
	assert.Equal(t, float64(1), body["remaining"])

	rec, body = s.do(t, http.MethodPost, "/increment-tweet-count", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["consumed"])
	assert.Equal(t, float64(0), body["remaining"])

	rec, body = s.do(t, http.MethodPost, "/increment-tweet-count", map[string]string{"email": "ana@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, body["canPost"])

	rec, _ = s.do(t, http.MethodPost, "/increment-tweet-count", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionRoutes(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodGet, "/subscription?email=ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "free", data["plan"])
	assert.Equal(t, true, data["implicit"])

	rec, _ = s.do(t, http.MethodPost, "/subscription", map[string]interface{}{"email": "ana@example.com", "plan": "gold"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/subscription", map[string]interface{}{"email": "ana@example.com", "plan": "platinum"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/subscription", map[string]interface{}{"email": "ana@example.com", "plan": "free", "tweetsPerMonth": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "free", body["data"].(map[string]interface{})["plan"])

	rec, body = s.do(t, http.MethodGet, "/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 4)
}

func TestPaymentRoutes(t *testing.T) {
	s := newServer(t)
	order := map[string]interface{}{"amount": 100000, "currency": "INR", "email": "ana@example.com", "planId": "gold"}

	rec, body := s.do(t, http.MethodPost, "/create-order", order)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Payments only allowed between 10 AM - 11 AM IST", body["error"])

	s.setIST(10, 30)
	rec, body = s.do(t, http.MethodPost, "/create-order", order)
	require.Equal(t, http.StatusOK, rec.Code)
	orderID, _ := body["id"].(string)
	assert.True(t, strings.HasPrefix(orderID, "order_"))
	assert.Equal(t, "created", body["status"])

	verify := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  service.Sign("other_secret", orderID, "pay_1"),
		"email":               "ana@example.com",
		"plan":                "gold",
	}
	rec, body = s.do(t, http.MethodPost, "/verify-payment", verify)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid payment signature", body["error"])

	verify["razorpay_signature"] = service.Sign("test_secret", orderID, "pay_1")
	rec, _ = s.do(t, http.MethodPost, "/verify-payment", verify)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/verify-payment", verify)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	verify["razorpay_order_id"] = "order_unknown"
	verify["razorpay_signature"] = service.Sign("test_secret", "order_unknown", "pay_1")
	rec, _ = s.do(t, http.MethodPost, "/verify-payment", verify)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/check-tweet-limit?email=ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(-1), body["remaining"])
	assert.Equal(t, true, body["canPost"])
}

func TestRecordLogin(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodPost, "/record-login", map[string]string{
		"email": "ana@example.com", "browser": "Edge", "deviceType": "mobile",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "Mobile access only allowed between 10 AM - 1 PM IST", body["error"])

	rec, body = s.do(t, http.MethodPost, "/record-login", map[string]string{
		"email": "ana@example.com", "browser": "Chrome", "deviceType": "desktop",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, true, body["requiresChallenge"])
	assert.Equal(t, "email", body["channel"])

	rec, body = s.do(t, http.MethodPost, "/record-login", map[string]string{
		"email": "ana@example.com", "browser": "Edge", "deviceType": "desktop", "ip": "198.51.100.4",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["allowed"])

	rec, body = s.do(t, http.MethodGet, "/login-history?email=ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := body["data"].([]interface{})
	require.Len(t, history, 1)
	entry := history[0].(map[string]interface{})
	assert.Equal(t, "Microsoft Edge", entry["browser"])
	assert.Equal(t, "198.51.100.4", entry["ip"])
}

func TestForgotPasswordRoutes(t *testing.T) {
	s := newServer(t)
	req := map[string]string{"identifier": "ana@example.com", "type": "email"}

	rec, body := s.do(t, http.MethodPost, "/forgot-password/check", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["requestedToday"])

	rec, _ = s.do(t, http.MethodPost, "/forgot-password/record", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/forgot-password/check", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["requestedToday"])

	rec, _ = s.do(t, http.MethodPost, "/forgot-password/check", map[string]string{"identifier": "x", "type": "fax"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/reset-password", map[string]string{
		"identifier": "ana@example.com", "type": "email", "newPassword": "long-enough-1", "otp": "123456",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationSettings(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, http.MethodGet, "/notification-settings/ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["notificationsEnabled"])

	rec, _ = s.do(t, http.MethodPatch, "/notification-settings/ana@example.com", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPatch, "/notification-settings/ana@example.com", map[string]bool{"notificationsEnabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/notification-settings/ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["notificationsEnabled"])

	rec, body = s.do(t, http.MethodPost, "/keyword-alerts/ana@example.com", map[string]interface{}{
		"posts": []map[string]string{{"id": "p1", "text": "cricket"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["data"])
}

func TestKeywordAlerts(t *testing.T) {
	s := newServer(t)
	posts := map[string]interface{}{
		"posts": []map[string]string{{"id": "p1", "text": "Science fair today"}, {"id": "p2", "text": "scientific"}},
	}

	rec, body := s.do(t, http.MethodPost, "/keyword-alerts/ana@example.com", posts)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := body["data"].([]interface{})
	require.Len(t, alerts, 1)
	assert.Equal(t, "New science post", alerts[0].(map[string]interface{})["title"])

	rec, body = s.do(t, http.MethodPost, "/keyword-alerts/ana@example.com", posts)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["data"])
}

func TestLanguageChange(t *testing.T) {
	s := newServer(t)

	rec, _ := s.do(t, http.MethodPost, "/language-change", map[string]string{"email": "ana@example.com", "language": "de"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/language-change", map[string]string{"email": "ana@example.com", "language": "fr"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "email", body["data"].(map[string]interface{})["channel"])

	code := s.notifier.code("ana@example.com", models.PurposeLanguageChange)
	rec, body = s.do(t, http.MethodPost, "/language-change", map[string]string{"email": "ana@example.com", "language": "fr", "otp": code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["data"].(map[string]interface{})["changed"])

	rec, body = s.do(t, http.MethodGet, "/languages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 6)
}

func audioForm(t *testing.T, fields map[string]string, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="clip.mp3"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *server) postAudio(t *testing.T, fields map[string]string, contentType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := audioForm(t, fields, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, "/post-audio", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestPostAudio(t *testing.T) {
	s := newServer(t)

	s.setIST(13, 59)
	rec := s.postAudio(t, map[string]string{"email": "ana@example.com", "duration": "30"}, "audio/mpeg", []byte("sound"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s.setIST(14, 0)
	rec = s.postAudio(t, map[string]string{"email": "ana@example.com", "duration": "301"}, "audio/mpeg", []byte("sound"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Audio must be 5 minutes or less")

	rec = s.postAudio(t, map[string]string{"email": "ana@example.com", "duration": "30", "otp": "123456"}, "audio/mpeg", []byte("sound"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	issue, _ := s.do(t, http.MethodPost, "/send-otp", map[string]string{"email": "ana@example.com", "purpose": "audio_upload"})
	require.Equal(t, http.StatusOK, issue.Code)
	code := s.notifier.code("ana@example.com", models.PurposeAudioUpload)

	rec = s.postAudio(t, map[string]string{"email": "ana@example.com", "duration": "30", "otp": code}, "audio/mpeg", []byte("sound"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, s.audio.keys, 1)
	assert.True(t, strings.HasPrefix(s.audio.keys[0], "audio/2025-06-02/"))

	rec, body := s.do(t, http.MethodGet, "/check-tweet-limit?email=ana@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["canPost"])
	assert.Equal(t, float64(1), body["remaining"])
}
