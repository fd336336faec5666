package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/hostelpay/internal/auth"
	"github.com/punchamoorthee/hostelpay/internal/domain"
	"github.com/punchamoorthee/hostelpay/internal/models"
	"github.com/punchamoorthee/hostelpay/internal/store"
)

const (
	overviewCallLimit     = 50
	overviewRechargeLimit = 20
)

func (h *Handler) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AdminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	tok, err := h.login.AdminLogin(r.Context(), req.Username, req.Password)
	h.respondLogin(w, r, tok, err)
}

func (h *Handler) StudentLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StudentLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	tok, err := h.login.StudentLogin(r.Context(), req.StudentID, req.Password)
	h.respondLogin(w, r, tok, err)
}

func (h *Handler) respondLogin(w http.ResponseWriter, r *http.Request, tok string, err error) {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.TokenResponse{Token: tok})
}

// GetStudentHandler returns the profile with recent calls and recharges.
func (h *Handler) GetStudentHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor, _ := auth.ActorFromContext(r.Context())
	if !actor.CanAccessStudent(id) {
		respondWithError(w, http.StatusForbidden, auth.ErrForbidden.Error())
		return
	}

	st, err := h.students.GetStudent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Student not found")
		return
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	calls, err := h.students.ListCallsByStudent(r.Context(), id, overviewCallLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	recharges, err := h.recharges.ListRecharges(r.Context(), id, overviewRechargeLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if calls == nil {
		calls = []domain.CallRecord{}
	}
	if recharges == nil {
		recharges = []*domain.Recharge{}
	}
	respondWithJSON(w, http.StatusOK, models.StudentOverview{Student: st, Calls: calls, Recharges: recharges})
}

func (h *Handler) CreateStudentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		respondWithError(w, http.StatusBadRequest, "studentId is required")
		return
	}

	st := &domain.Student{
		StudentID: req.StudentID,
		Name:      req.Name,
		Room:      req.Room,
		Parents:   req.Parents,
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		st.PasswordHash = hash
	}

	if err := h.students.CreateStudent(r.Context(), st); err != nil {
		if errors.Is(err, store.ErrConflict) {
			respondWithError(w, http.StatusConflict, "Student already exists")
			return
		}
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, st)
}

func (h *Handler) ListStudentsHandler(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.ListStudents(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if students == nil {
		students = []*domain.Student{}
	}
	respondWithJSON(w, http.StatusOK, students)
}

func (h *Handler) ListStudentRechargesHandler(w http.ResponseWriter, r *http.Request) {
	recharges, err := h.recharges.ListRecharges(r.Context(), mux.Vars(r)["id"], 0)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if recharges == nil {
		recharges = []*domain.Recharge{}
	}
	respondWithJSON(w, http.StatusOK, recharges)
}
