package api

import (
	"net/http"

	"github.com/punchamoorthee/hostelpay/internal/auth"
	"github.com/punchamoorthee/hostelpay/internal/models"
	"github.com/punchamoorthee/hostelpay/internal/provider"
	"github.com/punchamoorthee/hostelpay/internal/service"
	"go.uber.org/zap"
)

func (h *Handler) CreateRechargeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRechargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	// Students top up their own balance only.
	actor, _ := auth.ActorFromContext(r.Context())
	if req.StudentID != "" && !actor.CanAccessStudent(req.StudentID) {
		respondWithError(w, http.StatusForbidden, auth.ErrForbidden.Error())
		return
	}

	res, err := h.recharges.Create(r.Context(), service.CreateInput{
		StudentID:   req.StudentID,
		AmountCents: req.AmountCents,
		Customer:    req.Customer,
		CallbackURL: req.CallbackURL,
		BaseURL:     h.baseURL(r),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, models.CreateRechargeResponse{
		OK:       true,
		Recharge: res.Recharge,
		Provider: models.ProviderRef{
			ProviderTxn: res.ProviderTxn,
			Slug:        res.Slug,
			Raw:         res.Raw,
		},
	})
}

func (h *Handler) VerifyRechargeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRechargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	res, err := h.recharges.Verify(r.Context(), service.VerifyInput{
		ProviderTxn: req.ProviderTxn,
		Slug:        req.Slug,
		OrderID:     req.OrderID,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.VerifyRechargeResponse{
		OK:       true,
		Status:   res.Status,
		Provider: res.Provider,
	})
}

func (h *Handler) ValidateRechargeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRechargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	payload, err := h.recharges.Validate(r.Context(), req.Slug, req.AmountCents)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ValidateRechargeResponse{OK: true, Provider: payload})
}

// RechargeWebhookHandler acknowledges every delivery with 200 unless the
// update itself could not be stored.
func (h *Handler) RechargeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload := provider.Payload{}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.logger.Warn("webhook body is not a JSON object", zap.Error(err))
		payload = provider.Payload{}
	}

	res, err := h.recharges.Webhook(r.Context(), payload)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if !res.Matched {
		respondWithJSON(w, http.StatusOK, models.WebhookResponse{OK: true, Message: "no matching recharge"})
		return
	}
	respondWithJSON(w, http.StatusOK, models.WebhookResponse{OK: true})
}
