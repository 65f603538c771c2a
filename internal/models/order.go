package models

import "time"

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
)

// Order is a payment-processor order. It is kept until it expires so that a
// signed confirmation can be checked against what was ordered.
type Order struct {
	ID        string      `json:"id"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
	Receipt   string      `json:"receipt"`
	Status    OrderStatus `json:"status"`
	AccountID string      `json:"email"`
	Tier      Tier        `json:"plan"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Invoice is handed to the notifier after a tier is activated.
type Invoice struct {
	AccountID  string    `json:"email"`
	Tier       Tier      `json:"plan"`
	Price      int64     `json:"price"`
	Currency   string    `json:"currency"`
	OrderRef   string    `json:"orderId"`
	PaymentRef string    `json:"paymentId"`
	IssuedAt   time.Time `json:"issuedAt"`
}
