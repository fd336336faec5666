package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/hostelpay/internal/auth"
)

func NewRouter(h *Handler, verifier *auth.JWTVerifier) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/admin/login", h.AdminLoginHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/student/login", h.StudentLoginHandler).Methods(http.MethodPost)
	// The provider cannot present a session token.
	api.HandleFunc("/recharge/webhook", h.RechargeWebhookHandler).Methods(http.MethodPost)

	recharge := api.PathPrefix("/recharge").Subrouter()
	recharge.Use(auth.RequireRoles(verifier, auth.RoleStudent, auth.RoleAdmin))
	recharge.HandleFunc("/create", h.CreateRechargeHandler).Methods(http.MethodPost)
	recharge.HandleFunc("/verify", h.VerifyRechargeHandler).Methods(http.MethodPost)
	recharge.HandleFunc("/validate", h.ValidateRechargeHandler).Methods(http.MethodPost)

	students := api.PathPrefix("/students").Subrouter()
	students.Use(auth.RequireRoles(verifier, auth.RoleStudent, auth.RoleAdmin))
	students.HandleFunc("/{id}", h.GetStudentHandler).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireRoles(verifier, auth.RoleAdmin))
	admin.HandleFunc("/students", h.CreateStudentHandler).Methods(http.MethodPost)
	admin.HandleFunc("/students", h.ListStudentsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/students/{id}/recharges", h.ListStudentRechargesHandler).Methods(http.MethodGet)

	return r
}
