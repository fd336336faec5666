package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/hostelpay/internal/auth"
	"github.com/punchamoorthee/hostelpay/internal/domain"
	"github.com/punchamoorthee/hostelpay/internal/provider"
	"github.com/punchamoorthee/hostelpay/internal/service"
	"github.com/punchamoorthee/hostelpay/internal/store"
	"go.uber.org/zap/zaptest"
)

const testSecret = "api-test-secret"

type stubProvider struct {
	mu        sync.Mutex
	lastOrder provider.OrderRequest
	create    provider.Payload
	status    provider.Payload
	createErr error
}

func (p *stubProvider) CreateOrder(_ context.Context, req provider.OrderRequest) (provider.Payload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOrder = req
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.create, nil
}

func (p *stubProvider) CheckStatus(_ context.Context, _ provider.StatusQuery) (provider.Payload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

func (p *stubProvider) ValidateOrder(_ context.Context, slug string, amountCents int64) (provider.Payload, error) {
	return provider.Payload{"status": true, "slug": slug, "amount": provider.MajorUnitsNumber(amountCents)}, nil
}

func (p *stubProvider) order() provider.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOrder
}

type testServer struct {
	router   *mux.Router
	store    *store.MemoryStore
	provider *stubProvider
	signer   *auth.JWTSigner
}

func newTestServer(t *testing.T, publicBaseURL string) *testServer {
	t.Helper()
	st := store.NewMemoryStore(nil)
	if err := st.CreateStudent(context.Background(), &domain.Student{StudentID: "S1", Name: "Asha", Room: "B-12"}); err != nil {
		t.Fatalf("seed student: %v", err)
	}
	p := &stubProvider{
		create: provider.Payload{"order_id": "ORD-1", "order_slug": "slug-1", "status": "CREATED"},
		status: provider.Payload{"payment_status": "SUCCESS", "order_id": "ORD-1"},
	}
	logger := zaptest.NewLogger(t)
	signer := auth.NewJWTSigner(testSecret, 0)
	svc := service.NewRechargeService(p, st, nil, logger)
	login := auth.NewLoginService(st, signer, nil)
	h := NewHandler(svc, st, login, logger, publicBaseURL)
	return &testServer{
		router:   NewRouter(h, auth.NewJWTVerifier(testSecret)),
		store:    st,
		provider: p,
		signer:   signer,
	}
}

func (s *testServer) token(t *testing.T, id, role string) string {
	t.Helper()
	tok, _, err := s.signer.SignActor(auth.Actor{ID: id, Role: role}, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func balanceOf(t *testing.T, s *testServer, id string) int64 {
	t.Helper()
	st, err := s.store.GetStudent(context.Background(), id)
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	return st.BalanceCents
}

func TestRechargeFlowCreditsOnce(t *testing.T) {
	s := newTestServer(t, "https://pay.example.edu/")
	studentTok := s.token(t, "S1", auth.RoleStudent)

	rec := s.do(t, http.MethodPost, "/api/recharge/create", studentTok, map[string]any{
		"studentId":    "S1",
		"amount_cents": 25000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		OK       bool            `json:"ok"`
		Recharge domain.Recharge `json:"recharge"`
		Provider struct {
			ProviderTxn string `json:"provider_txn"`
			Slug        string `json:"slug"`
		} `json:"provider"`
	}
	decodeBody(t, rec, &created)
	if !created.OK || created.Provider.ProviderTxn != "ORD-1" || created.Provider.Slug != "slug-1" {
		t.Fatalf("unexpected create response: %s", rec.Body.String())
	}
	if created.Recharge.Status != "CREATED" || created.Recharge.AmountCents != 25000 {
		t.Fatalf("unexpected recharge: %+v", created.Recharge)
	}
	if got := s.provider.order().CallbackURL; got != "https://pay.example.edu/api/recharge/webhook" {
		t.Fatalf("callback url = %q", got)
	}

	webhook := map[string]any{"data": map[string]any{"order_id": "ORD-1", "payment_status": "PAID"}}
	for i := 0; i < 3; i++ {
		rec = s.do(t, http.MethodPost, "/api/recharge/webhook", "", webhook)
		if rec.Code != http.StatusOK {
			t.Fatalf("webhook %d: %d %s", i, rec.Code, rec.Body.String())
		}
		if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
			t.Fatalf("webhook body: %s", rec.Body.String())
		}
	}

	rec = s.do(t, http.MethodPost, "/api/recharge/verify", studentTok, map[string]any{"provider_txn": "ORD-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}
	var verified struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &verified)
	if verified.Status != "SUCCESS" {
		t.Fatalf("verify status = %q", verified.Status)
	}

	if got := balanceOf(t, s, "S1"); got != 25000 {
		t.Fatalf("balance = %d, want 25000", got)
	}

	rec = s.do(t, http.MethodGet, "/api/students/S1", studentTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("overview: %d %s", rec.Code, rec.Body.String())
	}
	var overview struct {
		Student   domain.Student      `json:"student"`
		Calls     []domain.CallRecord `json:"calls"`
		Recharges []domain.Recharge   `json:"recharges"`
	}
	decodeBody(t, rec, &overview)
	if overview.Student.BalanceCents != 25000 || len(overview.Recharges) != 1 || overview.Calls == nil {
		t.Fatalf("unexpected overview: %s", rec.Body.String())
	}
	if overview.Recharges[0].CreditedAt == nil {
		t.Fatal("credited recharge has no credited_at")
	}
}

func TestCallbackURLFromForwardedRequest(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/recharge/create",
		strings.NewReader(`{"studentId":"S1","amount_cents":100}`))
	req.Host = "hostel.internal:8080"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("Authorization", "Bearer "+s.token(t, "admin", auth.RoleAdmin))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	if got := s.provider.order().CallbackURL; got != "https://hostel.internal:8080/api/recharge/webhook" {
		t.Fatalf("callback url = %q", got)
	}
}

func TestRechargeEndpointsAuthorization(t *testing.T) {
	s := newTestServer(t, "http://localhost")
	other := s.token(t, "S2", auth.RoleStudent)
	admin := s.token(t, "admin", auth.RoleAdmin)
	body := map[string]any{"studentId": "S1", "amount_cents": 100}

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"create without token", http.MethodPost, "/api/recharge/create", "", body, http.StatusUnauthorized},
		{"create for another student", http.MethodPost, "/api/recharge/create", other, body, http.StatusForbidden},
		{"create as admin", http.MethodPost, "/api/recharge/create", admin, body, http.StatusOK},
		{"verify without token", http.MethodPost, "/api/recharge/verify", "", map[string]any{"slug": "x"}, http.StatusUnauthorized},
		{"other student's profile", http.MethodGet, "/api/students/S1", other, nil, http.StatusForbidden},
		{"student on admin route", http.MethodGet, "/api/admin/students", other, nil, http.StatusForbidden},
		{"admin lists students", http.MethodGet, "/api/admin/students", admin, nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("got %d want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestRechargeErrorMapping(t *testing.T) {
	s := newTestServer(t, "http://localhost")
	tok := s.token(t, "S1", auth.RoleStudent)

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"malformed json", "/api/recharge/create", `{"studentId":`, http.StatusBadRequest},
		{"missing amount", "/api/recharge/create", map[string]any{"studentId": "S1"}, http.StatusBadRequest},
		{"verify without identifiers", "/api/recharge/verify", map[string]any{}, http.StatusBadRequest},
		{"verify unknown order", "/api/recharge/verify", map[string]any{"order_id": "NOPE"}, http.StatusNotFound},
		{"validate without slug", "/api/recharge/validate", map[string]any{"amount_cents": 100}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tc.path, tok, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("got %d want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] == "" {
				t.Fatalf("missing error message: %s", rec.Body.String())
			}
		})
	}

	s.provider.mu.Lock()
	s.provider.createErr = fmt.Errorf("%w: no token in response", provider.ErrAuth)
	s.provider.mu.Unlock()
	rec := s.do(t, http.MethodPost, "/api/recharge/create", tok, map[string]any{"studentId": "S1", "amount_cents": 100})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("provider auth failure: got %d want 500", rec.Code)
	}
	if list, _ := s.store.ListRechargesByStudent(context.Background(), "S1", 0); len(list) != 0 {
		t.Fatalf("failed create stored %d recharges", len(list))
	}
}

func TestValidateRecharge(t *testing.T) {
	s := newTestServer(t, "http://localhost")
	rec := s.do(t, http.MethodPost, "/api/recharge/validate", s.token(t, "S1", auth.RoleStudent),
		map[string]any{"slug": "slug-1", "amount_cents": 12345})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"amount":123.45`) {
		t.Fatalf("amount not forwarded in major units: %s", rec.Body.String())
	}
}

func TestWebhookAcknowledgesUnknownAndMalformed(t *testing.T) {
	s := newTestServer(t, "http://localhost")
	for _, body := range []any{
		map[string]any{"order_id": "UNKNOWN", "status": "SUCCESS"},
		map[string]any{},
		"not json",
	} {
		rec := s.do(t, http.MethodPost, "/api/recharge/webhook", "", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("body %v: got %d", body, rec.Code)
		}
		var resp struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		}
		decodeBody(t, rec, &resp)
		if !resp.OK || resp.Message != "no matching recharge" {
			t.Fatalf("body %v: unexpected response %s", body, rec.Body.String())
		}
	}
	if got := balanceOf(t, s, "S1"); got != 0 {
		t.Fatalf("balance moved to %d", got)
	}
}

func TestAdminStudentManagementAndLogin(t *testing.T) {
	s := newTestServer(t, "http://localhost")
	hash, err := auth.HashPassword("admin@123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s.store.EnsureAdmin(context.Background(), "admin", hash)

	rec := s.do(t, http.MethodPost, "/api/auth/admin/login", "", map[string]string{"username": "admin", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad admin password: got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/auth/admin/login", "", map[string]string{"username": "admin", "password": "admin@123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: %d %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &tok)

	newStudent := map[string]any{
		"studentId": "S7",
		"name":      "Ravi",
		"room":      "C-3",
		"parents":   []map[string]string{{"name": "Meena", "phone": "+919800000000"}},
		"password":  "s7-secret",
	}
	rec = s.do(t, http.MethodPost, "/api/admin/students", tok.Token, newStudent)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create student: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "s7-secret") || strings.Contains(rec.Body.String(), "$2a$") {
		t.Fatalf("password material leaked: %s", rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/admin/students", tok.Token, newStudent)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate student: got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/admin/students", tok.Token, map[string]any{"name": "nobody"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("student without id: got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/admin/students", tok.Token, nil)
	var students []domain.Student
	decodeBody(t, rec, &students)
	if len(students) != 2 || students[1].StudentID != "S7" || len(students[1].Parents) != 1 {
		t.Fatalf("unexpected students: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/auth/student/login", "", map[string]string{"studentId": "S7", "password": "S7"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("id fallback must not apply once a password is set: got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/auth/student/login", "", map[string]string{"studentId": "S7", "password": "s7-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("student login: %d %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &tok)
	rec = s.do(t, http.MethodGet, "/api/students/S7", tok.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own profile: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminListsStudentRecharges(t *testing.T) {
	s := newTestServer(t, "http://localhost")
	admin := s.token(t, "admin", auth.RoleAdmin)
	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/api/recharge/create", admin, map[string]any{"studentId": "S1", "amount_cents": 100 * (i + 1)})
		if rec.Code != http.StatusOK {
			t.Fatalf("create %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := s.do(t, http.MethodGet, "/api/admin/students/S1/recharges", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	var list []domain.Recharge
	decodeBody(t, rec, &list)
	if len(list) != 3 || list[0].AmountCents != 300 {
		t.Fatalf("expected newest first, got %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/admin/students/NOBODY/recharges", admin, nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
}
