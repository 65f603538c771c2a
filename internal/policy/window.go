// Package policy holds the fixed catalog of time-of-day windows that gate
// sensitive actions. Every check projects the instant into a fixed UTC+5:30
// civil time, so results never depend on the host timezone.
package policy

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionLogin               Action = "login"
	ActionAudioUpload         Action = "audio_upload"
	ActionSubscriptionPayment Action = "subscription_payment"
	ActionMobileSession       Action = "mobile_session"
	ActionForgotPassword      Action = "forgot_password"
	ActionLanguageChange      Action = "language_change"
)

// IST is the civil-time zone every window is expressed in.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Window is a half-open [StartHour, EndHour) interval of civil hours.
type Window struct {
	StartHour int
	EndHour   int
	Reason    string
}

// Contains reports whether the civil hour of at falls inside the window.
func (w Window) Contains(at time.Time) bool {
	hour := at.In(IST).Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

func (w Window) String() string {
	return fmt.Sprintf("[%02d:00, %02d:00) IST", w.StartHour, w.EndHour)
}

var windows = map[Action]Window{
	ActionAudioUpload: {
		StartHour: 14, EndHour: 19,
		Reason: "Audio uploads only allowed between 2 PM - 7 PM IST",
	},
	ActionSubscriptionPayment: {
		StartHour: 10, EndHour: 11,
		Reason: "Payments only allowed between 10 AM - 11 AM IST",
	},
	ActionMobileSession: {
		StartHour: 10, EndHour: 13,
		Reason: "Mobile access only allowed between 10 AM - 1 PM IST",
	},
}

// IsAllowed reports whether action may run at the given instant. When it
// may not, the returned reason is meant to be shown to the caller verbatim.
func IsAllowed(action Action, at time.Time) (bool, string) {
	w, ok := windows[action]
	if !ok {
		return true, ""
	}
	if w.Contains(at) {
		return true, ""
	}
	return false, w.Reason
}

// CivilDay is the IST calendar date of at, formatted YYYY-MM-DD.
func CivilDay(at time.Time) string {
	return at.In(IST).Format("2006-01-02")
}
