package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"access-service/internal/device"
	"access-service/internal/models"
	"access-service/internal/policy"
	"access-service/internal/repository/scylla"
	"access-service/internal/util"
)

// AudioStore keeps audio post blobs.
type AudioStore interface {
	PutAudio(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	DeleteAudio(ctx context.Context, key string) error
}

// AccessRequest is one question put to the gateway.
type AccessRequest struct {
	Action         policy.Action
	AccountID      string
	Phone          string
	Identifier     string
	IdentifierType models.IdentifierType
	Device         device.Info
	TargetLocale   string
	IssueChallenge bool
}

// Verdict is the gateway's answer. Allowed with RequiresChallenge means the
// action may proceed once a code on Channel is verified.
type Verdict struct {
	Allowed           bool                   `json:"allowed"`
	RequiresChallenge bool                   `json:"requiresChallenge"`
	Channel           device.Channel         `json:"channel,omitempty"`
	Reason            string                 `json:"reason,omitempty"`
	ChallengeIssued   bool                   `json:"challengeIssued"`
	Device            *device.Classification `json:"device,omitempty"`
}

type LoginRequest struct {
	Email  string
	Device device.Info
	Code   string
}

type LoginAdmission struct {
	Record         *models.LoginRecord
	Classification device.Classification
}

type AudioUpload struct {
	Email           string
	Code            string
	DurationSeconds float64
	SizeBytes       int64
	ContentType     string
	Body            io.Reader
}

type LanguageChangeRequest struct {
	Email  string
	Phone  string
	Locale string
	Code   string
}

type LanguageChangeResult struct {
	Changed bool           `json:"changed"`
	Locale  string         `json:"language"`
	Channel device.Channel `json:"channel"`
}

// Gateway composes time windows, device classification and challenges into
// allow/deny decisions, and runs the gated operations behind them.
type Gateway struct {
	challenges  *ChallengeService
	logins      *LoginService
	preferences *PreferenceService
	posts       scylla.PostRepository
	audio       AudioStore
	audit       *Auditor
	logger      *zap.Logger
	now         Clock
}

func NewGateway(
	challenges *ChallengeService,
	logins *LoginService,
	preferences *PreferenceService,
	posts scylla.PostRepository,
	audio AudioStore,
	audit *Auditor,
	logger *zap.Logger,
	now Clock,
) *Gateway {
	return &Gateway{
		challenges:  challenges,
		logins:      logins,
		preferences: preferences,
		posts:       posts,
		audio:       audio,
		audit:       audit,
		logger:      logger,
		now:         clockOrSystem(now),
	}
}

var actionPurpose = map[policy.Action]models.Purpose{
	policy.ActionLogin:          models.PurposeLogin,
	policy.ActionAudioUpload:    models.PurposeAudioUpload,
	policy.ActionForgotPassword: models.PurposeForgotPassword,
	policy.ActionLanguageChange: models.PurposeLanguageChange,
}

func (g *Gateway) deny(ctx context.Context, accountID string, action policy.Action, class *device.Classification, reason string) {
	event := &models.SecurityEvent{
		AccountID: accountID,
		EventType: models.EventPolicyDenied,
		Action:    string(action),
		Decision:  "denied",
		Reason:    reason,
	}
	if class != nil {
		event.DeviceType = string(class.DeviceType)
		event.Browser = class.Browser
	}
	g.audit.Record(ctx, event)
}

// Evaluate decides whether req.Action may proceed right now. The mobile
// window is checked before anything else, then the action's own window,
// then the challenge requirement.
func (g *Gateway) Evaluate(ctx context.Context, req *AccessRequest) (*Verdict, error) {
	now := g.now()
	email := util.NormalizeEmail(req.AccountID)
	class := device.Classify(req.Device)
	verdict := &Verdict{Device: &class}

	if class.DeviceType == device.TypeMobile {
		if ok, reason := policy.IsAllowed(policy.ActionMobileSession, now); !ok {
			verdict.Reason = reason
			g.deny(ctx, email, req.Action, &class, reason)
			return verdict, nil
		}
	}
	if ok, reason := policy.IsAllowed(req.Action, now); !ok {
		verdict.Reason = reason
		g.deny(ctx, email, req.Action, &class, reason)
		return verdict, nil
	}

	destination := ""
	switch req.Action {
	case policy.ActionLogin:
		verdict.RequiresChallenge = class.RequiresChallenge
		verdict.Channel = class.Channel
		destination = email
	case policy.ActionAudioUpload:
		verdict.RequiresChallenge = true
		verdict.Channel = device.ChannelEmail
		destination = email
	case policy.ActionForgotPassword:
		identifier, err := normalizeTyped(req.Identifier, req.IdentifierType)
		if err != nil {
			return nil, err
		}
		verdict.RequiresChallenge = true
		verdict.Channel = device.ChannelEmail
		if req.IdentifierType == models.IdentifierPhone {
			verdict.Channel = device.ChannelPhone
		}
		destination = identifier
	case policy.ActionLanguageChange:
		channel, err := device.ChannelForLocale(req.TargetLocale)
		if err != nil {
			return nil, invalidInput("unsupported language %q", req.TargetLocale)
		}
		verdict.RequiresChallenge = true
		verdict.Channel = channel
		destination = email
		if channel == device.ChannelPhone {
			destination = util.NormalizePhone(req.Phone)
		}
	case policy.ActionSubscriptionPayment, policy.ActionMobileSession:
	default:
		return nil, invalidInput("unknown action %q", req.Action)
	}
	verdict.Allowed = true

	if verdict.RequiresChallenge && req.IssueChallenge {
		if destination == "" {
			return nil, invalidInput("%s is required for a %s code", verdict.Channel, req.Action)
		}
		if _, err := g.challenges.Issue(ctx, destination, actionPurpose[req.Action]); err != nil {
			return nil, err
		}
		verdict.ChallengeIssued = true
	}
	return verdict, nil
}

// AdmitLogin applies the mobile window and the device's challenge
// requirement, then records the login.
func (g *Gateway) AdmitLogin(ctx context.Context, req *LoginRequest) (*LoginAdmission, error) {
	email := util.NormalizeEmail(req.Email)
	if email == "" {
		return nil, invalidInput("email is required")
	}
	class := device.Classify(req.Device)

	if class.DeviceType == device.TypeMobile {
		if ok, reason := policy.IsAllowed(policy.ActionMobileSession, g.now()); !ok {
			g.deny(ctx, email, policy.ActionLogin, &class, reason)
			return nil, denied(reason)
		}
	}

	if class.RequiresChallenge {
		if strings.TrimSpace(req.Code) == "" {
			return nil, &ChallengeRequiredError{Channel: class.Channel}
		}
		if err := g.challenges.Require(ctx, email, models.PurposeLogin, req.Code); err != nil {
			return nil, err
		}
	}

	rec, err := g.logins.RecordLogin(ctx, email, req.Device, class)
	if err != nil {
		return nil, err
	}

	g.audit.Record(ctx, &models.SecurityEvent{
		AccountID:  email,
		EventType:  models.EventLoginAdmitted,
		Action:     string(policy.ActionLogin),
		Decision:   "allowed",
		DeviceType: string(class.DeviceType),
		Browser:    class.Browser,
	})
	return &LoginAdmission{Record: rec, Classification: class}, nil
}

// CheckWindow returns a PolicyError when action is outside its window right
// now. Handlers call it before reading large request bodies.
func (g *Gateway) CheckWindow(ctx context.Context, accountID string, action policy.Action) error {
	return g.checkWindow(ctx, util.NormalizeEmail(accountID), action, g.now())
}

func (g *Gateway) checkWindow(ctx context.Context, email string, action policy.Action, now time.Time) error {
	if ok, reason := policy.IsAllowed(action, now); !ok {
		g.deny(ctx, email, action, nil, reason)
		return denied(reason)
	}
	return nil
}

func validateAudio(up *AudioUpload) error {
	if up.DurationSeconds <= 0 {
		return invalidInput("audio duration is required")
	}
	if up.DurationSeconds > models.MaxAudioDurationSeconds {
		return invalidInput("Audio must be 5 minutes or less")
	}
	if up.SizeBytes <= 0 {
		return invalidInput("audio file is empty")
	}
	if up.SizeBytes > models.MaxAudioSizeBytes {
		return invalidInput("Audio file must be 100MB or less")
	}
	if !strings.HasPrefix(strings.ToLower(up.ContentType), "audio/") {
		return invalidInput("unsupported content type %q", up.ContentType)
	}
	return nil
}

// PostAudio checks the upload window, then the file limits, then the
// audio_upload code, and only then stores the blob and the post row.
// Audio posts do not count against the monthly allowance.
func (g *Gateway) PostAudio(ctx context.Context, up *AudioUpload) (*models.Post, error) {
	email := util.NormalizeEmail(up.Email)
	now := g.now()

	if err := g.checkWindow(ctx, email, policy.ActionAudioUpload, now); err != nil {
		return nil, err
	}
	if email == "" {
		return nil, invalidInput("email is required")
	}
	if err := validateAudio(up); err != nil {
		return nil, err
	}
	if g.audio == nil {
		return nil, fmt.Errorf("%w: audio storage is not configured", ErrStoreUnavailable)
	}
	challenge, err := g.challenges.Claim(ctx, email, models.PurposeAudioUpload, up.Code)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		AccountID:       email,
		PostID:          gocql.UUIDFromTime(now),
		Kind:            models.PostKindAudio,
		ContentType:     up.ContentType,
		DurationSeconds: up.DurationSeconds,
		SizeBytes:       up.SizeBytes,
		CreatedAt:       now,
	}
	post.ObjectKey = fmt.Sprintf("audio/%s/%s", policy.CivilDay(now), post.PostID.String())

	// A failed store hands the code back; the caller may retry with it.
	if err := g.audio.PutAudio(ctx, post.ObjectKey, up.ContentType, up.Body, up.SizeBytes); err != nil {
		g.challenges.Release(ctx, challenge)
		return nil, err
	}
	if err := g.posts.Create(ctx, post); err != nil {
		if derr := g.audio.DeleteAudio(ctx, post.ObjectKey); derr != nil {
			g.logger.Error("Failed to remove orphaned audio object",
				zap.String("object_key", post.ObjectKey),
				zap.Error(derr))
		}
		g.challenges.Release(ctx, challenge)
		return nil, err
	}

	g.logger.Info("Audio post stored",
		util.Identifier("email", email),
		zap.String("post_id", post.PostID.String()),
		zap.Float64("duration", post.DurationSeconds),
		zap.Int64("size", post.SizeBytes))
	return post, nil
}

// ChangeLanguage is two-step: without a code it sends one on the locale's
// channel, with a code it verifies and stores the new language.
func (g *Gateway) ChangeLanguage(ctx context.Context, req *LanguageChangeRequest) (*LanguageChangeResult, error) {
	email := util.NormalizeEmail(req.Email)
	if email == "" {
		return nil, invalidInput("email is required")
	}
	locale, err := device.LookupLocale(req.Locale)
	if errors.Is(err, device.ErrUnsupportedLocale) {
		return nil, invalidInput("unsupported language %q", req.Locale)
	}
	if err != nil {
		return nil, err
	}

	destination := email
	if locale.Channel == device.ChannelPhone {
		destination = util.NormalizePhone(req.Phone)
		if destination == "" {
			return nil, invalidInput("phone is required to switch to %s", locale.Name)
		}
	}
	result := &LanguageChangeResult{Locale: locale.Code, Channel: locale.Channel}

	if strings.TrimSpace(req.Code) == "" {
		if _, err := g.challenges.Issue(ctx, destination, models.PurposeLanguageChange); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := g.challenges.Require(ctx, destination, models.PurposeLanguageChange, req.Code); err != nil {
		return nil, err
	}
	if err := g.preferences.SetLanguage(ctx, email, locale.Code); err != nil {
		return nil, err
	}
	g.audit.Record(ctx, &models.SecurityEvent{
		AccountID: email,
		EventType: models.EventLanguageChanged,
		Action:    string(policy.ActionLanguageChange),
		Decision:  locale.Code,
	})
	result.Changed = true
	return result, nil
}
