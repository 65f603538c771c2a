package models

import "time"

type SecurityEventType string

const (
	EventLoginAdmitted       SecurityEventType = "login_admitted"
	EventPolicyDenied        SecurityEventType = "policy_denied"
	EventChallengeIssued     SecurityEventType = "challenge_issued"
	EventChallengeFailed     SecurityEventType = "challenge_failed"
	EventPasswordReset       SecurityEventType = "password_reset"
	EventSubscriptionChanged SecurityEventType = "subscription_activated"
	EventPaymentRejected     SecurityEventType = "payment_rejected"
	EventLanguageChanged     SecurityEventType = "language_changed"
)

// SecurityEvent is what the audit sinks receive. It never carries a code,
// password or signature.
type SecurityEvent struct {
	EventID     string            `json:"event_id" ch:"event_id"`
	EventBucket int               `json:"event_bucket" ch:"event_bucket"`
	AccountID   string            `json:"account_id" ch:"account_id"`
	EventType   SecurityEventType `json:"event_type" ch:"event_type"`
	Action      string            `json:"action" ch:"action"`
	Decision    string            `json:"decision" ch:"decision"`
	Reason      string            `json:"reason,omitempty" ch:"reason"`
	DeviceType  string            `json:"device_type,omitempty" ch:"device_type"`
	Browser     string            `json:"browser,omitempty" ch:"browser"`
	OccurredAt  time.Time         `json:"occurred_at" ch:"occurred_at"`
}
