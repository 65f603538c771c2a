package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/models"
)

func TestPreferences_NotificationToggle(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.Preferences()
	ctx := context.Background()

	on, err := svc.NotificationsEnabled(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, svc.SetNotificationsEnabled(ctx, "Ana@Example.com", false))
	on, err = svc.NotificationsEnabled(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestPreferences_KeywordAlerts(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.Preferences()
	ctx := context.Background()

	posts := []models.AlertPost{
		{ID: "p1", Text: "Who watched the CRICKET final?"},
		{ID: "p2", Text: "scientific method"},
		{ID: "p3", Text: "science, obviously"},
		{ID: "p4", Text: "   "},
		{ID: "", Text: "cricket without id"},
		{ID: "p1", Text: "cricket again"},
	}

	alerts, err := svc.KeywordAlerts(ctx, "ana@example.com", posts)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "p1", alerts[0].PostID)
	assert.Equal(t, "cricket", alerts[0].Keyword)
	assert.Equal(t, "New cricket post", alerts[0].Title)
	assert.Equal(t, "p3", alerts[1].PostID)
	assert.Equal(t, "science", alerts[1].Keyword)

	alerts, err = svc.KeywordAlerts(ctx, "ana@example.com", posts)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Another account is alerted independently.
	alerts, err = svc.KeywordAlerts(ctx, "bo@example.com", posts)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestPreferences_KeywordAlertsSkipMarkup(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.Preferences()

	alerts, err := svc.KeywordAlerts(context.Background(), "ana@example.com", []models.AlertPost{
		{ID: "p1", Text: `cricket <img src=x onerror="alert(1)">`},
		{ID: "p2", Text: "cricket {{.Secret}}"},
		{ID: "p3", Text: "cricket scores"},
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "p3", alerts[0].PostID)
	assert.Equal(t, "cricket scores", alerts[0].Body)
}

func TestPreferences_KeywordAlertsOff(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.Preferences()
	ctx := context.Background()
	require.NoError(t, svc.SetNotificationsEnabled(ctx, "ana@example.com", false))

	alerts, err := svc.KeywordAlerts(ctx, "ana@example.com", []models.AlertPost{{ID: "p1", Text: "cricket"}})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Nothing was claimed while off.
	require.NoError(t, svc.SetNotificationsEnabled(ctx, "ana@example.com", true))
	alerts, err = svc.KeywordAlerts(ctx, "ana@example.com", []models.AlertPost{{ID: "p1", Text: "cricket"}})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
