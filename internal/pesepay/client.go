package pesepay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client defaults.
const (
	// DefaultBaseURL is the production Pesepay payments engine endpoint.
	DefaultBaseURL = "https://api.pesepay.com"
	// DefaultHTTPTimeout bounds each gateway call.
	DefaultHTTPTimeout = 30 * time.Second

	initiatePath = "/api/payments-engine/v1/payments/initiate"
)

// Opts holds configuration options for the gateway client.
type Opts struct {
	BaseURL        string
	IntegrationKey string
	ResultURL      string
	ReturnURL      string
	HTTPClient     *http.Client
}

// Option defines a configuration option for the gateway client.
type Option func(*Opts)

// WithIntegrationKey sets the merchant integration key.
func WithIntegrationKey(key string) Option {
	return func(o *Opts) { o.IntegrationKey = key }
}

// WithResultURL sets the webhook URL the gateway notifies on settlement.
func WithResultURL(u string) Option {
	return func(o *Opts) { o.ResultURL = u }
}

// WithReturnURL sets the browser return URL, required by the gateway even
// for seamless payments.
func WithReturnURL(u string) Option {
	return func(o *Opts) { o.ReturnURL = u }
}

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		if u != "" {
			o.BaseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		if c != nil {
			o.HTTPClient = c
		}
	}
}

// Client is a Gateway backed by the Pesepay HTTP API.
type Client struct {
	baseURL        string
	integrationKey string
	resultURL      string
	returnURL      string
	httpClient     *http.Client
}

// Compile-time check that Client implements Gateway.
var _ Gateway = (*Client)(nil)

// NewClient creates a Pesepay client. The integration key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IntegrationKey == "" {
		return nil, fmt.Errorf("pesepay: integration key not set")
	}
	slog.Debug("pesepay.NewClient", "baseURL", cfg.BaseURL)
	return &Client{
		baseURL:        cfg.BaseURL,
		integrationKey: cfg.IntegrationKey,
		resultURL:      cfg.ResultURL,
		returnURL:      cfg.ReturnURL,
		httpClient:     cfg.HTTPClient,
	}, nil
}

type initiateRequest struct {
	Amount            float64 `json:"amount"`
	CurrencyCode      string  `json:"currencyCode"`
	PaymentMethodCode string  `json:"paymentMethodCode"`
	CustomerPhone     string  `json:"customerPhoneNumber"`
	CustomerName      string  `json:"customerName,omitempty"`
	CustomerEmail     string  `json:"customerEmail,omitempty"`
	ReasonForPayment  string  `json:"reasonForPayment"`
	ResultURL         string  `json:"resultUrl,omitempty"`
	ReturnURL         string  `json:"returnUrl,omitempty"`
}

type initiateResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
	PollURL         string `json:"pollUrl"`
	Message         string `json:"message"`
}

type statusResponse struct {
	ReferenceNumber   string `json:"referenceNumber"`
	TransactionStatus string `json:"transactionStatus"`
	StatusReason      string `json:"transactionStatusDescription"`
}

func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	methodCode := MethodCode(req.Method)
	if methodCode == "" {
		return nil, fmt.Errorf("pesepay: no method code for %q", req.Method)
	}

	body, err := json.Marshal(initiateRequest{
		Amount:            req.Amount,
		CurrencyCode:      req.Currency,
		PaymentMethodCode: methodCode,
		CustomerPhone:     req.PayerPhone,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		ReasonForPayment:  req.Reason,
		ResultURL:         c.resultURL,
		ReturnURL:         c.returnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("pesepay: encode initiate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+initiatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pesepay: build initiate request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.integrationKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("pesepay.Client.CreatePayment: request failed", "error", err)
		return nil, fmt.Errorf("pesepay: initiate request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pesepay: read initiate response: %w", err)
	}

	var decoded initiateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("pesepay: decode initiate response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("pesepay.Client.CreatePayment: API error", "status", resp.StatusCode, "message", decoded.Message)
		return nil, fmt.Errorf("pesepay: initiate failed with status %d: %s", resp.StatusCode, decoded.Message)
	}
	if decoded.ReferenceNumber == "" || decoded.PollURL == "" {
		return nil, fmt.Errorf("pesepay: initiate response missing reference or poll URL")
	}

	slog.Debug("pesepay.Client.CreatePayment: initiated", "reference", decoded.ReferenceNumber)
	return &CreateResponse{
		ReferenceNumber: decoded.ReferenceNumber,
		PollURL:         decoded.PollURL,
	}, nil
}

func (c *Client) CheckStatus(ctx context.Context, pollURL string) (*StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pesepay: build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.integrationKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("pesepay.Client.CheckStatus: request failed", "error", err)
		return nil, fmt.Errorf("pesepay: status request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pesepay: read status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pesepay: status check failed with status %d", resp.StatusCode)
	}

	var decoded statusResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("pesepay: decode status response: %w", err)
	}

	result := &StatusResponse{
		ReferenceNumber: decoded.ReferenceNumber,
		Status:          mapRawStatus(decoded.TransactionStatus),
		RawStatus:       decoded.TransactionStatus,
		FailureReason:   decoded.StatusReason,
	}
	slog.Debug("pesepay.Client.CheckStatus", "reference", result.ReferenceNumber, "raw", result.RawStatus, "status", result.Status)
	return result, nil
}
