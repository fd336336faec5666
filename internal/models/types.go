package models

import "github.com/punchamoorthee/hostelpay/internal/domain"

// CreateRechargeRequest is the payload for starting a top-up.
type CreateRechargeRequest struct {
	StudentID   string         `json:"studentId"`
	AmountCents int64          `json:"amount_cents"`
	Customer    map[string]any `json:"customer,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// ProviderRef is what the client needs to drive the checkout widget.
type ProviderRef struct {
	ProviderTxn string         `json:"provider_txn"`
	Slug        string         `json:"slug"`
	Raw         map[string]any `json:"raw"`
}

type CreateRechargeResponse struct {
	OK       bool             `json:"ok"`
	Recharge *domain.Recharge `json:"recharge"`
	Provider ProviderRef      `json:"provider"`
}

// VerifyRechargeRequest needs at least one identifier.
type VerifyRechargeRequest struct {
	ProviderTxn string `json:"provider_txn,omitempty"`
	Slug        string `json:"slug,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
}

type VerifyRechargeResponse struct {
	OK       bool           `json:"ok"`
	Status   string         `json:"status"`
	Provider map[string]any `json:"provider"`
}

type ValidateRechargeRequest struct {
	Slug        string `json:"slug"`
	AmountCents int64  `json:"amount_cents"`
}

type ValidateRechargeResponse struct {
	OK       bool           `json:"ok"`
	Provider map[string]any `json:"provider"`
}

type WebhookResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StudentLoginRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// CreateStudentRequest carries no balance: balances only move through recharges.
type CreateStudentRequest struct {
	StudentID string          `json:"studentId"`
	Name      string          `json:"name"`
	Room      string          `json:"room"`
	Parents   []domain.Parent `json:"parents"`
	Password  string          `json:"password,omitempty"`
}

type StudentOverview struct {
	Student   *domain.Student     `json:"student"`
	Calls     []domain.CallRecord `json:"calls"`
	Recharges []*domain.Recharge  `json:"recharges"`
}
