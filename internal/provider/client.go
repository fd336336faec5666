package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/hostelpay/internal/clock"
	"go.uber.org/zap"
)

// ErrAuth means no bearer credential could be obtained from the provider.
var ErrAuth = errors.New("provider auth failed")

const (
	authPath     = "/wiz/external/auth"
	createPath   = "/wiz/external/order/create"
	statusPath   = "/external/order/status"
	validatePath = "/external/order/validate"
)

var (
	tokenBodyKeys   = []string{"access_token", "token"}
	tokenHeaderKeys = []string{"Authorization", "X-Access-Token"}
	bearerPrefix    = regexp.MustCompile(`(?i)^bearer\s*`)
)

var providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "hostelpay_provider_request_duration_seconds",
	Help:    "Latency of payment provider calls",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"operation", "status"})

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the payment provider. Response bodies are returned as-is
// whatever the HTTP status; only transport failures are errors.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  TokenCache
	clock  clock.Clock
	logger *zap.Logger
}

func NewClient(cfg Config, cache TokenCache, clk clock.Clock, logger *zap.Logger) *Client {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cache == nil {
		cache = NewMemoryTokenCache(clk)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		clock:  clk,
		logger: logger,
	}
}

// OrderRequest is a new order in minor units.
type OrderRequest struct {
	StudentID       string
	AmountCents     int64
	OrderID         string
	CallbackURL     string
	CustomerDetails map[string]any
}

// StatusQuery needs at least one identifier.
type StatusQuery struct {
	OrderID string
	Slug    string
	RefID   string
}

// Credential returns the cached bearer token or exchanges client credentials for a new one.
func (c *Client) Credential(ctx context.Context) (string, error) {
	if tok, ok := c.cache.Get(ctx); ok {
		return tok, nil
	}

	body := map[string]any{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	status, header, raw, err := c.post(ctx, "auth", authPath, "", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}

	tok := tokenFromBody(raw)
	if tok == "" {
		tok = tokenFromHeader(header)
	}
	if tok == "" {
		c.logger.Error("provider auth returned no token",
			zap.Int("http_status", status),
			zap.ByteString("body", raw))
		return "", fmt.Errorf("%w: no token in response (status %d): %s", ErrAuth, status, raw)
	}

	if err := c.cache.Set(ctx, tok, c.clock.Now().Add(TokenTTL)); err != nil {
		c.logger.Warn("cache provider token", zap.Error(err))
	}
	return tok, nil
}

// CreateOrder submits a new order and hands back the provider's body untouched.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Payload, error) {
	tok, err := c.Credential(ctx)
	if err != nil {
		return nil, err
	}
	customer := req.CustomerDetails
	if customer == nil {
		customer = map[string]any{}
	}
	body := map[string]any{
		"client_id":        c.cfg.ClientID,
		"amount":           MajorUnits(req.AmountCents),
		"order_id":         req.OrderID,
		"callback_url":     req.CallbackURL,
		"customer_details": customer,
	}
	status, _, raw, err := c.post(ctx, "create_order", createPath, tok, body)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	c.logger.Info("provider order created",
		zap.String("order_id", req.OrderID),
		zap.String("student_id", req.StudentID),
		zap.Int("http_status", status))
	return decodePayload(raw), nil
}

// CheckStatus queries an order. A payment_status field is mirrored into status.
func (c *Client) CheckStatus(ctx context.Context, q StatusQuery) (Payload, error) {
	if q.OrderID == "" && q.Slug == "" && q.RefID == "" {
		return nil, errors.New("status query needs order_id, slug or ref_id")
	}
	tok, err := c.Credential(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"client_id": c.cfg.ClientID}
	if q.OrderID != "" {
		body["order_id"] = q.OrderID
	}
	if q.Slug != "" {
		body["slug"] = q.Slug
	}
	if q.RefID != "" {
		body["ref_id"] = q.RefID
	}
	status, _, raw, err := c.post(ctx, "check_status", statusPath, tok, body)
	if err != nil {
		return nil, fmt.Errorf("check status: %w", err)
	}
	p := decodePayload(raw)
	if ps, ok := p["payment_status"]; ok && ps != nil && ps != "" {
		out := make(Payload, len(p))
		for k, v := range p {
			out[k] = v
		}
		out["status"] = ps
		p = out
	}
	c.logger.Debug("provider status checked", zap.Int("http_status", status), zap.Any("payload", p))
	return p, nil
}

// ValidateOrder asks the provider to confirm an amount for a checkout session.
func (c *Client) ValidateOrder(ctx context.Context, slug string, amountCents int64) (Payload, error) {
	tok, err := c.Credential(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"client_id": c.cfg.ClientID,
		"amount":    MajorUnitsNumber(amountCents),
		"slug":      slug,
	}
	_, _, raw, err := c.post(ctx, "validate_order", validatePath, tok, body)
	if err != nil {
		return nil, fmt.Errorf("validate order: %w", err)
	}
	return decodePayload(raw), nil
}

func (c *Client) post(ctx context.Context, op, path, token string, body any) (int, http.Header, []byte, error) {
	start := time.Now()
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		providerLatency.WithLabelValues(op, "transport_error").Observe(time.Since(start).Seconds())
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		providerLatency.WithLabelValues(op, "transport_error").Observe(time.Since(start).Seconds())
		return 0, nil, nil, err
	}
	providerLatency.WithLabelValues(op, fmt.Sprintf("%d", resp.StatusCode)).Observe(time.Since(start).Seconds())
	return resp.StatusCode, resp.Header, raw, nil
}

func decodePayload(raw []byte) Payload {
	p := Payload{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil || p == nil {
		return Payload{"raw_body": string(raw)}
	}
	return p
}

func tokenFromBody(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, k := range tokenBodyKeys {
		if s, ok := body[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func tokenFromHeader(h http.Header) string {
	for _, k := range tokenHeaderKeys {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			if tok := bearerPrefix.ReplaceAllString(v, ""); tok != "" {
				return tok
			}
		}
	}
	return ""
}
