package service

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"access-service/internal/models"
	redisrepo "access-service/internal/repository/redis"
	"access-service/internal/util"
)

type keywordMatcher struct {
	keyword string
	re      *regexp.Regexp
}

// PreferenceService owns per-account notification settings and keyword
// alerts. State lives in Redis so every instance sees the same thing.
type PreferenceService struct {
	store    *redisrepo.PreferenceStore
	keywords []keywordMatcher
	logger   *zap.Logger
	now      Clock
}

func NewPreferenceService(store *redisrepo.PreferenceStore, keywords []string, logger *zap.Logger, now Clock) *PreferenceService {
	s := &PreferenceService{store: store, logger: logger, now: clockOrSystem(now)}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		s.keywords = append(s.keywords, keywordMatcher{
			keyword: k,
			re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`),
		})
	}
	return s
}

func (s *PreferenceService) NotificationsEnabled(ctx context.Context, email string) (bool, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return false, invalidInput("email is required")
	}
	return s.store.NotificationsEnabled(ctx, email)
}

func (s *PreferenceService) SetNotificationsEnabled(ctx context.Context, email string, enabled bool) error {
	email = util.NormalizeEmail(email)
	if email == "" {
		return invalidInput("email is required")
	}
	return s.store.SetNotificationsEnabled(ctx, email, enabled)
}

func (s *PreferenceService) Language(ctx context.Context, email string) (string, error) {
	return s.store.Language(ctx, util.NormalizeEmail(email))
}

func (s *PreferenceService) SetLanguage(ctx context.Context, email, code string) error {
	return s.store.SetLanguage(ctx, util.NormalizeEmail(email), code)
}

// matchKeyword returns the first configured keyword found as a whole word.
func (s *PreferenceService) matchKeyword(text string) (string, bool) {
	for _, m := range s.keywords {
		if m.re.MatchString(text) {
			return m.keyword, true
		}
	}
	return "", false
}

// KeywordAlerts returns an alert for each post that mentions a keyword and
// was not alerted to this account before, and marks those posts alerted.
// Nothing is returned, or recorded, when the account turned alerts off.
func (s *PreferenceService) KeywordAlerts(ctx context.Context, email string, posts []models.AlertPost) ([]models.KeywordAlert, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return nil, invalidInput("email is required")
	}
	enabled, err := s.store.NotificationsEnabled(ctx, email)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return []models.KeywordAlert{}, nil
	}

	candidates := make(map[string]models.KeywordAlert)
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		text := strings.TrimSpace(p.Text)
		if p.ID == "" || text == "" {
			continue
		}
		if _, seen := candidates[p.ID]; seen {
			continue
		}
		// Alert bodies are rendered by the client as-is.
		if util.ContainsSuspicious(text) {
			s.logger.Warn("Skipping alert for post with markup",
				zap.String("post_id", p.ID))
			continue
		}
		keyword, ok := s.matchKeyword(text)
		if !ok {
			continue
		}
		candidates[p.ID] = models.KeywordAlert{
			PostID:  p.ID,
			Keyword: keyword,
			Title:   "New " + keyword + " post",
			Body:    text,
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return []models.KeywordAlert{}, nil
	}

	claimed, err := s.store.ClaimNotified(ctx, email, ids, s.now())
	if err != nil {
		return nil, err
	}
	alerts := make([]models.KeywordAlert, 0, len(claimed))
	for _, id := range claimed {
		alerts = append(alerts, candidates[id])
	}
	return alerts, nil
}
