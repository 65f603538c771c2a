package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ist builds an instant from an IST wall clock and returns it in UTC so the
// tests exercise the projection.
func ist(hour, minute int) time.Time {
	return time.Date(2025, 3, 14, hour, minute, 0, 0, IST).UTC()
}

func TestIsAllowed_Windows(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		at      time.Time
		allowed bool
	}{
		{"audio before window", ActionAudioUpload, ist(13, 59), false},
		{"audio at open", ActionAudioUpload, ist(14, 0), true},
		{"audio late in window", ActionAudioUpload, ist(18, 59), true},
		{"audio at close", ActionAudioUpload, ist(19, 0), false},
		{"payment at open", ActionSubscriptionPayment, ist(10, 0), true},
		{"payment at close", ActionSubscriptionPayment, ist(11, 0), false},
		{"payment early morning", ActionSubscriptionPayment, ist(9, 59), false},
		{"mobile inside", ActionMobileSession, ist(12, 30), true},
		{"mobile at close", ActionMobileSession, ist(13, 0), false},
		{"unrestricted login", ActionLogin, ist(3, 0), true},
		{"unrestricted reset", ActionForgotPassword, ist(23, 59), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := IsAllowed(tt.action, tt.at)
			assert.Equal(t, tt.allowed, allowed)
			if tt.allowed {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestIsAllowed_ReasonNamesWindow(t *testing.T) {
	_, reason := IsAllowed(ActionAudioUpload, ist(20, 0))
	assert.Equal(t, "Audio uploads only allowed between 2 PM - 7 PM IST", reason)

	_, reason = IsAllowed(ActionSubscriptionPayment, ist(20, 0))
	assert.Equal(t, "Payments only allowed between 10 AM - 11 AM IST", reason)

	_, reason = IsAllowed(ActionMobileSession, ist(20, 0))
	assert.Equal(t, "Mobile access only allowed between 10 AM - 1 PM IST", reason)
}

func TestIsAllowed_IgnoresHostZone(t *testing.T) {
	// 08:45 UTC is 14:15 IST.
	utc := time.Date(2025, 3, 14, 8, 45, 0, 0, time.UTC)
	newYork := utc.In(time.FixedZone("EST", -5*60*60))

	a, _ := IsAllowed(ActionAudioUpload, utc)
	b, _ := IsAllowed(ActionAudioUpload, newYork)
	assert.True(t, a)
	assert.Equal(t, a, b)
}

func TestCivilDay(t *testing.T) {
	// 18:29 UTC is 23:59 IST on the same day; 18:30 UTC rolls to the next.
	before := time.Date(2025, 3, 14, 18, 29, 0, 0, time.UTC)
	after := time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-14", CivilDay(before))
	assert.Equal(t, "2025-03-15", CivilDay(after))
}

func TestWindowString(t *testing.T) {
	w, ok := windows[ActionMobileSession]
	assert.True(t, ok)
	assert.Equal(t, "[10:00, 13:00) IST", w.String())

	_, ok = windows[ActionLanguageChange]
	assert.False(t, ok)
}
