package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tradewell/marketplace-backend/pkg/config"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

var (
	errSecretKeyRequired = errors.New("gateway secret key is required")
	errBaseURLRequired   = errors.New("gateway base url is required")
	errLoggerRequired    = errors.New("gateway logger is required")
)

// Client talks to the hosted payment provider over its REST surface with
// centralized auth, timeouts, and error mapping.
type Client struct {
	http          *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	logger        *logger.Logger
}

// NewClient validates the gateway credentials and builds the HTTP client.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		secretKey:     secretKey,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        logg,
	}
	logg.Info(ctx, "payment gateway client initialized")
	return c, nil
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// InitializeParams describes a hosted-checkout session request.
type InitializeParams struct {
	Reference   string
	Amount      int64
	Email       string
	CallbackURL string
}

// InitializeResult carries the redirect URL for a created session.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type initializeRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Email       string `json:"email"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// Initialize creates a hosted-checkout session for the given reference.
func (c *Client) Initialize(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	if strings.TrimSpace(params.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	if params.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction amount must be positive")
	}

	body := initializeRequest{
		Reference:   params.Reference,
		Amount:      params.Amount,
		Email:       params.Email,
		CallbackURL: params.CallbackURL,
	}
	var parsed initializeResponse
	if err := c.post(ctx, "/transaction/initialize", body, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Status {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, gatewayMessage(parsed.Message))
	}
	return &InitializeResult{
		AuthorizationURL: parsed.Data.AuthorizationURL,
		AccessCode:       parsed.Data.AccessCode,
		Reference:        parsed.Data.Reference,
	}, nil
}

// VerifyResult is the provider's authoritative view of a transaction.
type VerifyResult struct {
	Reference string
	Status    string
	Amount    int64
	PaidAt    time.Time
}

// Success reports whether the provider settled the charge.
func (v *VerifyResult) Success() bool {
	return v != nil && v.Status == "success"
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// VerifyByReference re-queries the provider for the transaction state. The
// provider response is the only trusted source; webhook payloads are not.
func (c *Client) VerifyByReference(ctx context.Context, reference string) (*VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}

	var parsed verifyResponse
	if err := c.get(ctx, "/transaction/verify/"+url.PathEscape(reference), &parsed); err != nil {
		return nil, err
	}
	if !parsed.Status {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, gatewayMessage(parsed.Message))
	}

	result := &VerifyResult{
		Reference: parsed.Data.Reference,
		Status:    parsed.Data.Status,
		Amount:    parsed.Data.Amount,
	}
	if parsed.Data.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, parsed.Data.PaidAt); err == nil {
			result.PaidAt = paidAt
		}
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode gateway request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to build gateway request")
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "gateway request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("gateway returned status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return pkgerrors.New(pkgerrors.CodeDependency, "gateway rejected credentials")
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "failed to decode gateway response")
	}
	return nil
}

func gatewayMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "gateway declined the request"
	}
	return msg
}
