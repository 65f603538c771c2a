package models

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree   Tier = "free"
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// UnlimitedAllowance marks a tier with no monthly cap. It is also what
// Remaining reports for such a tier; never compare it against usage.
const UnlimitedAllowance = -1

// SubscriptionPeriod is the length of every billing period.
const SubscriptionPeriod = 30 * 24 * time.Hour

// TierSpec is a catalog entry. Price is in whole rupees.
type TierSpec struct {
	Tier      Tier  `json:"plan"`
	Allowance int   `json:"tweetsPerMonth"`
	Price     int64 `json:"price"`
}

var tierCatalog = map[Tier]TierSpec{
	TierFree:   {Tier: TierFree, Allowance: 1, Price: 0},
	TierBronze: {Tier: TierBronze, Allowance: 3, Price: 100},
	TierSilver: {Tier: TierSilver, Allowance: 5, Price: 300},
	TierGold:   {Tier: TierGold, Allowance: UnlimitedAllowance, Price: 1000},
}

// LookupTier resolves a tier name case-insensitively.
func LookupTier(name string) (TierSpec, bool) {
	spec, ok := tierCatalog[Tier(strings.ToLower(strings.TrimSpace(name)))]
	return spec, ok
}

func TierCatalog() []TierSpec {
	return []TierSpec{
		tierCatalog[TierFree],
		tierCatalog[TierBronze],
		tierCatalog[TierSilver],
		tierCatalog[TierGold],
	}
}

// Subscription is replaced wholesale on every activation. JSON names follow
// the web client's existing contract.
type Subscription struct {
	AccountID        string    `json:"email"`
	Tier             Tier      `json:"plan"`
	MonthlyAllowance int       `json:"tweetsPerMonth"`
	UsedThisPeriod   int       `json:"tweetsUsed"`
	Price            int64     `json:"price"`
	PeriodStart      time.Time `json:"startDate"`
	PeriodEnd        time.Time `json:"endDate"`
	OrderRef         string    `json:"orderId,omitempty"`
	PaymentRef       string    `json:"paymentId,omitempty"`
}

func (s *Subscription) Unlimited() bool {
	return s.MonthlyAllowance == UnlimitedAllowance
}

// Expired reports whether the billing period is over at now.
func (s *Subscription) Expired(now time.Time) bool {
	return !now.Before(s.PeriodEnd)
}

// Entitlement is the read-side view of what an account may still post.
type Entitlement struct {
	AccountID string `json:"email"`
	Tier      Tier   `json:"plan"`
	Allowance int    `json:"tweetsPerMonth"`
	Used      int    `json:"tweetsUsed"`
	Remaining int    `json:"remaining"`
	CanPost   bool   `json:"canPost"`
	// Implicit is true when no subscription is stored and the free tier
	// was derived from recent post activity.
	Implicit  bool       `json:"implicit"`
	PeriodEnd *time.Time `json:"endDate,omitempty"`
}

// NewEntitlement derives Remaining and CanPost from allowance and usage.
func NewEntitlement(accountID string, tier Tier, allowance, used int) Entitlement {
	e := Entitlement{AccountID: accountID, Tier: tier, Allowance: allowance, Used: used}
	if allowance == UnlimitedAllowance {
		e.Remaining = UnlimitedAllowance
		e.CanPost = true
		return e
	}
	e.Remaining = allowance - used
	if e.Remaining < 0 {
		e.Remaining = 0
	}
	e.CanPost = used < allowance
	return e
}

// EntitlementOf builds the view for a stored subscription.
func EntitlementOf(s *Subscription) Entitlement {
	e := NewEntitlement(s.AccountID, s.Tier, s.MonthlyAllowance, s.UsedThisPeriod)
	end := s.PeriodEnd
	e.PeriodEnd = &end
	return e
}
