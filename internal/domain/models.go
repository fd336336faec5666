package domain

import (
	"strings"
	"time"
)

const (
	StatusCreated = "created"
	StatusUnknown = "unknown"
)

// successStatuses are the provider spellings of a completed payment.
var successStatuses = []string{"SUCCESS", "PAID", "COMPLETED"}

// IsSuccessStatus reports whether a provider status means the payment went through.
func IsSuccessStatus(status string) bool {
	s := strings.TrimSpace(status)
	for _, ok := range successStatuses {
		if strings.EqualFold(s, ok) {
			return true
		}
	}
	return false
}

// Recharge is one wallet top-up attempt. ProviderPayload holds the last
// provider document seen for it and is replaced wholesale on every update.
type Recharge struct {
	ID              string         `json:"id"`
	StudentID       string         `json:"studentId"`
	AmountCents     int64          `json:"amount_cents"`
	Status          string         `json:"status"`
	ProviderTxn     string         `json:"provider_txn"`
	Slug            string         `json:"slug,omitempty"`
	ProviderPayload map[string]any `json:"provider_payload"`
	CreditedAt      *time.Time     `json:"credited_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (r *Recharge) Credited() bool {
	return r.CreditedAt != nil
}

// Observation is a provider status seen through one of the ingestion paths.
type Observation struct {
	Status  string
	Payload map[string]any
}

// Parent is an authorized contact a student may call.
type Parent struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Student owns a balance. Balance only moves through recharge credits.
type Student struct {
	StudentID    string    `json:"studentId"`
	Name         string    `json:"name"`
	Room         string    `json:"room"`
	BalanceCents int64     `json:"balance_cents"`
	Parents      []Parent  `json:"parents"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type AdminUser struct {
	Username     string
	PasswordHash string
}

// CallRecord is read-only here; the telephony side writes it.
type CallRecord struct {
	StudentID       string    `json:"studentId"`
	ParentPhone     string    `json:"parent_phone"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Direction       string    `json:"direction"`
}
