package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

// Graph API client defaults.
const (
	// DefaultGraphBaseURL is the Meta Graph API endpoint.
	DefaultGraphBaseURL = "https://graph.facebook.com"
	// DefaultAPIVersion is the Graph API version used when none is configured.
	DefaultAPIVersion = "v22.0"
	// DefaultHTTPTimeout bounds each outbound API call.
	DefaultHTTPTimeout = 30 * time.Second
)

// Opts holds configuration options for the Graph API client.
type Opts struct {
	BaseURL       string
	APIVersion    string
	Token         string
	PhoneNumberID string
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Graph API client.
type Option func(*Opts)

// WithToken sets the Graph API bearer token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPhoneNumberID sets the business phone number ID messages are sent from.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithAPIVersion overrides the Graph API version.
func WithAPIVersion(v string) Option {
	return func(o *Opts) {
		if v != "" {
			o.APIVersion = v
		}
	}
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

// Client is a Sender backed by the Meta Graph API Cloud endpoint.
type Client struct {
	baseURL       string
	apiVersion    string
	token         string
	phoneNumberID string
	httpClient    *http.Client
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a Graph API client. Token and phone number ID are
// required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:    DefaultGraphBaseURL,
		APIVersion: DefaultAPIVersion,
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("whatsapp: API token not set")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp: business phone number ID not set")
	}
	slog.Debug("whatsapp.NewClient", "apiVersion", cfg.APIVersion, "phoneNumberID", cfg.PhoneNumberID)
	return &Client{
		baseURL:       cfg.BaseURL,
		apiVersion:    cfg.APIVersion,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    cfg.HTTPClient,
	}, nil
}

// Wire payload shapes for the /messages endpoint.

type textPayload struct {
	Body string `json:"body"`
}

type interactivePayload struct {
	Type   string         `json:"type"`
	Body   *bodyPayload   `json:"body,omitempty"`
	Action *actionPayload `json:"action,omitempty"`
}

type bodyPayload struct {
	Text string `json:"text"`
}

type actionPayload struct {
	Buttons  []buttonPayload  `json:"buttons,omitempty"`
	Button   string           `json:"button,omitempty"`
	Sections []sectionPayload `json:"sections,omitempty"`
}

type buttonPayload struct {
	Type  string       `json:"type"`
	Reply replyPayload `json:"reply"`
}

type replyPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sectionPayload struct {
	Title string       `json:"title,omitempty"`
	Rows  []rowPayload `json:"rows"`
}

type rowPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type imagePayload struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type messageRequest struct {
	MessagingProduct string              `json:"messaging_product"`
	RecipientType    string              `json:"recipient_type,omitempty"`
	To               string              `json:"to,omitempty"`
	Type             string              `json:"type,omitempty"`
	Text             *textPayload        `json:"text,omitempty"`
	Interactive      *interactivePayload `json:"interactive,omitempty"`
	Image            *imagePayload       `json:"image,omitempty"`
	Status           string              `json:"status,omitempty"`
	MessageID        string              `json:"message_id,omitempty"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if to == "" {
		return "", models.ErrEmptyRecipient
	}
	req := messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	}
	return c.post(ctx, req)
}

func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if to == "" {
		return "", models.ErrEmptyRecipient
	}
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return "", fmt.Errorf("whatsapp: button count must be 1-%d, got %d", MaxButtons, len(buttons))
	}
	action := &actionPayload{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, buttonPayload{
			Type:  "reply",
			Reply: replyPayload{ID: b.ID, Title: truncate(b.Title, MaxButtonTitleLen)},
		})
	}
	req := messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &interactivePayload{
			Type:   "button",
			Body:   &bodyPayload{Text: body},
			Action: action,
		},
	}
	return c.post(ctx, req)
}

func (c *Client) SendList(ctx context.Context, to, body, buttonLabel string, sections []Section) (string, error) {
	if to == "" {
		return "", models.ErrEmptyRecipient
	}
	total := 0
	action := &actionPayload{Button: truncate(buttonLabel, MaxButtonTitleLen)}
	for _, s := range sections {
		sp := sectionPayload{Title: truncate(s.Title, MaxRowTitleLen)}
		for _, r := range s.Rows {
			total++
			sp.Rows = append(sp.Rows, rowPayload{
				ID:          r.ID,
				Title:       truncate(r.Title, MaxRowTitleLen),
				Description: r.Description,
			})
		}
		action.Sections = append(action.Sections, sp)
	}
	if total == 0 || total > MaxListRows {
		return "", fmt.Errorf("whatsapp: list row count must be 1-%d, got %d", MaxListRows, total)
	}
	req := messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &interactivePayload{
			Type:   "list",
			Body:   &bodyPayload{Text: body},
			Action: action,
		},
	}
	return c.post(ctx, req)
}

func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) (string, error) {
	if to == "" {
		return "", models.ErrEmptyRecipient
	}
	req := messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
		Image:            &imagePayload{Link: imageURL, Caption: caption},
	}
	return c.post(ctx, req)
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	req := messageRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}
	_, err := c.post(ctx, req)
	return err
}

func (c *Client) post(ctx context.Context, payload messageRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("whatsapp: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("whatsapp.Client.post: request failed", "error", err, "to", payload.To)
		return "", fmt.Errorf("whatsapp: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	var decoded messageResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("whatsapp: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decoded.Error != nil {
			slog.Error("whatsapp.Client.post: API error", "status", resp.StatusCode, "code", decoded.Error.Code, "message", decoded.Error.Message)
			return "", fmt.Errorf("whatsapp: API error %d: %s", decoded.Error.Code, decoded.Error.Message)
		}
		return "", fmt.Errorf("whatsapp: unexpected status %d", resp.StatusCode)
	}

	var messageID string
	if len(decoded.Messages) > 0 {
		messageID = decoded.Messages[0].ID
	}
	slog.Debug("whatsapp.Client.post: message sent", "to", payload.To, "type", payload.Type, "messageID", messageID)
	return messageID, nil
}
