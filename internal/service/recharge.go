package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/hostelpay/internal/clock"
	"github.com/punchamoorthee/hostelpay/internal/domain"
	"github.com/punchamoorthee/hostelpay/internal/provider"
	"github.com/punchamoorthee/hostelpay/internal/store"
	"go.uber.org/zap"
)

var (
	ErrValidation       = errors.New("missing required input")
	ErrRechargeNotFound = errors.New("recharge not found")
)

const webhookPath = "/api/recharge/webhook"

var (
	rechargesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostelpay_recharges_created_total",
		Help: "Recharge orders created with the provider",
	})
	observationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostelpay_recharge_observations_total",
		Help: "Provider status observations applied, by ingestion path and outcome",
	}, []string{"source", "outcome"})
	creditsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostelpay_recharge_credits_applied_total",
		Help: "Balance credits applied",
	})
	creditsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostelpay_recharge_credits_suppressed_total",
		Help: "Success observations on an already credited recharge",
	})
	webhooksUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostelpay_recharge_webhooks_unmatched_total",
		Help: "Webhooks acknowledged without a matching recharge",
	})
)

// PaymentProvider is the subset of the provider client the engine drives.
type PaymentProvider interface {
	CreateOrder(ctx context.Context, req provider.OrderRequest) (provider.Payload, error)
	CheckStatus(ctx context.Context, q provider.StatusQuery) (provider.Payload, error)
	ValidateOrder(ctx context.Context, slug string, amountCents int64) (provider.Payload, error)
}

// RechargeLedger persists recharges. ApplyObservation must credit the
// balance at most once per recharge, in the same unit of work as the update.
type RechargeLedger interface {
	CreateRecharge(ctx context.Context, r *domain.Recharge) error
	FindRecharge(ctx context.Context, keys ...domain.MatchKey) (*domain.Recharge, error)
	ApplyObservation(ctx context.Context, id string, obs domain.Observation) (*domain.Recharge, bool, error)
	ListRechargesByStudent(ctx context.Context, studentID string, limit int) ([]*domain.Recharge, error)
}

// RechargeService reconciles recharges across the create, verify and webhook paths.
type RechargeService struct {
	provider PaymentProvider
	ledger   RechargeLedger
	clock    clock.Clock
	logger   *zap.Logger
}

func NewRechargeService(p PaymentProvider, l RechargeLedger, clk clock.Clock, logger *zap.Logger) *RechargeService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RechargeService{provider: p, ledger: l, clock: clk, logger: logger}
}

type CreateInput struct {
	StudentID   string
	AmountCents int64
	Customer    map[string]any
	// CallbackURL overrides the default webhook target.
	CallbackURL string
	// BaseURL is this service's externally reachable origin.
	BaseURL string
}

type CreateResult struct {
	Recharge    *domain.Recharge
	ProviderTxn string
	Slug        string
	Raw         provider.Payload
}

// Create opens an order with the provider and records it.
func (s *RechargeService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if in.StudentID == "" || in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: studentId and amount_cents are required", ErrValidation)
	}

	now := s.clock.Now()
	orderID := fmt.Sprintf("EXT-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	callback := in.CallbackURL
	if callback == "" {
		callback = strings.TrimRight(in.BaseURL, "/") + webhookPath
	}

	raw, err := s.provider.CreateOrder(ctx, provider.OrderRequest{
		StudentID:       in.StudentID,
		AmountCents:     in.AmountCents,
		OrderID:         orderID,
		CallbackURL:     callback,
		CustomerDetails: in.Customer,
	})
	if err != nil {
		s.logger.Error("create provider order", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	env := provider.Normalize(raw)
	txn := env.OrderID
	if txn == "" {
		txn = env.Slug
	}
	if txn == "" {
		txn = uuid.NewString()
	}
	status := env.Status
	if status == "" {
		status = domain.StatusCreated
	}

	r := &domain.Recharge{
		ID:              uuid.NewString(),
		StudentID:       in.StudentID,
		AmountCents:     in.AmountCents,
		Status:          status,
		ProviderTxn:     txn,
		Slug:            env.Slug,
		ProviderPayload: raw,
		CreatedAt:       now,
	}
	if err := s.ledger.CreateRecharge(ctx, r); err != nil {
		return nil, fmt.Errorf("save recharge: %w", err)
	}
	rechargesCreated.Inc()
	s.logger.Info("recharge created",
		zap.String("recharge_id", r.ID),
		zap.String("student_id", r.StudentID),
		zap.Int64("amount_cents", r.AmountCents),
		zap.String("provider_txn", txn),
		zap.String("slug", env.Slug),
		zap.String("callback_url", callback))

	if domain.IsSuccessStatus(status) {
		updated, err := s.apply(ctx, "create", r, status, raw)
		if err != nil {
			return nil, err
		}
		r = updated
	}

	return &CreateResult{Recharge: r, ProviderTxn: txn, Slug: env.Slug, Raw: raw}, nil
}

type VerifyInput struct {
	ProviderTxn string
	Slug        string
	OrderID     string
}

type VerifyResult struct {
	Recharge *domain.Recharge
	Status   string
	Provider provider.Payload
}

// Verify re-reads the order status from the provider and applies it.
func (s *RechargeService) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	if in.ProviderTxn == "" && in.Slug == "" && in.OrderID == "" {
		return nil, fmt.Errorf("%w: one of provider_txn, slug or order_id is required", ErrValidation)
	}

	payload, err := s.provider.CheckStatus(ctx, provider.StatusQuery{
		OrderID: in.OrderID,
		Slug:    in.Slug,
		RefID:   in.ProviderTxn,
	})
	if err != nil {
		return nil, err
	}

	keys := domain.MatchKeys{}.
		Add(domain.MatchProviderTxn, in.ProviderTxn).
		Add(domain.MatchPayloadOrderSlug, in.Slug).
		Add(domain.MatchPayloadOrderID, in.OrderID).
		Add(domain.MatchSlug, in.Slug)
	r, err := s.ledger.FindRecharge(ctx, keys...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRechargeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recharge: %w", err)
	}

	status := provider.Normalize(payload).Status
	if status == "" {
		status = r.Status
	}
	updated, err := s.apply(ctx, "verify", r, status, payload)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Recharge: updated, Status: updated.Status, Provider: payload}, nil
}

type WebhookResult struct {
	Matched  bool
	Recharge *domain.Recharge
}

// Webhook applies a provider push. An unknown order is acknowledged, not
// rejected: the provider would otherwise keep retrying it.
func (s *RechargeService) Webhook(ctx context.Context, payload provider.Payload) (*WebhookResult, error) {
	if payload == nil {
		payload = provider.Payload{}
	}
	env := provider.Normalize(payload)

	keys := domain.MatchKeys{}.
		Add(domain.MatchPayloadOrderID, env.OrderID).
		Add(domain.MatchProviderTxn, env.OrderID).
		Add(domain.MatchPayloadOrderSlug, env.Slug).
		Add(domain.MatchPayloadSlug, env.Slug).
		Add(domain.MatchSlug, env.Slug)

	var r *domain.Recharge
	if len(keys) > 0 {
		var err error
		r, err = s.ledger.FindRecharge(ctx, keys...)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find recharge: %w", err)
		}
	}
	if r == nil {
		webhooksUnmatched.Inc()
		s.logger.Warn("webhook for unknown recharge",
			zap.String("order_id", env.OrderID),
			zap.String("slug", env.Slug),
			zap.String("status", env.Status))
		return &WebhookResult{Matched: false}, nil
	}

	status := env.Status
	if status == "" {
		status = r.Status
	}
	if status == "" {
		status = domain.StatusUnknown
	}
	updated, err := s.apply(ctx, "webhook", r, status, payload)
	if err != nil {
		return nil, err
	}
	return &WebhookResult{Matched: true, Recharge: updated}, nil
}

// Validate asks the provider to confirm the amount bound to a checkout slug.
func (s *RechargeService) Validate(ctx context.Context, slug string, amountCents int64) (provider.Payload, error) {
	if slug == "" || amountCents <= 0 {
		return nil, fmt.Errorf("%w: slug and amount_cents are required", ErrValidation)
	}
	return s.provider.ValidateOrder(ctx, slug, amountCents)
}

func (s *RechargeService) ListRecharges(ctx context.Context, studentID string, limit int) ([]*domain.Recharge, error) {
	return s.ledger.ListRechargesByStudent(ctx, studentID, limit)
}

// apply is where every ingestion path converges.
func (s *RechargeService) apply(ctx context.Context, source string, r *domain.Recharge, status string, payload provider.Payload) (*domain.Recharge, error) {
	updated, credited, err := s.ledger.ApplyObservation(ctx, r.ID, domain.Observation{
		Status:  status,
		Payload: payload,
	})
	if err != nil {
		observationsTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("apply %s observation: %w", source, err)
	}

	success := domain.IsSuccessStatus(status)
	switch {
	case credited:
		creditsApplied.Inc()
		s.logger.Info("recharge credited",
			zap.String("source", source),
			zap.String("recharge_id", r.ID),
			zap.String("student_id", r.StudentID),
			zap.Int64("amount_cents", r.AmountCents))
	case success:
		creditsSuppressed.Inc()
		s.logger.Debug("recharge already credited", zap.String("source", source), zap.String("recharge_id", r.ID))
	}

	outcome := "non_success"
	if success {
		outcome = "success"
	}
	observationsTotal.WithLabelValues(source, outcome).Inc()
	return updated, nil
}
