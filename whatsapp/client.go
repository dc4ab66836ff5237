// Package whatsapp is the channel layer for the WhatsApp Cloud API: outbound
// message shapes and their format limits, the HTTP client that sends them,
// typed provider errors, webhook payload types and the webhook signature
// check.
//
// The Client performs exactly one HTTP call per send. Callers that want
// retries or a circuit breaker wrap it with Guard.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/horosafe"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v22.0"
)

// Config identifies the business phone number and its credentials.
type Config struct {
	PhoneNumberID string
	AccessToken   string
	APIVersion    string
	BaseURL       string
}

// SendResult is the normalized success result of a send.
type SendResult struct {
	MessageID string `json:"message_id"`
	WaID      string `json:"wa_id,omitempty"`
}

// Sender is the part of the Client the bot and the staff surface depend on.
type Sender interface {
	Send(ctx context.Context, to string, msg Outbound) (*SendResult, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Client sends messages through the Cloud API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (15s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client. PhoneNumberID and AccessToken are required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id is required")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) (*SendResult, error) {
	return c.Send(ctx, to, Text{Body: body})
}

// SendButtons sends an interactive reply-button message.
func (c *Client) SendButtons(ctx context.Context, to string, msg Buttons) (*SendResult, error) {
	return c.Send(ctx, to, msg)
}

// SendList sends an interactive list message.
func (c *Client) SendList(ctx context.Context, to string, msg List) (*SendResult, error) {
	return c.Send(ctx, to, msg)
}

// SendTemplate sends a pre-approved template message.
func (c *Client) SendTemplate(ctx context.Context, to string, msg Template) (*SendResult, error) {
	return c.Send(ctx, to, msg)
}

// SendImage sends an image by link or media id.
func (c *Client) SendImage(ctx context.Context, to string, msg Image) (*SendResult, error) {
	return c.Send(ctx, to, msg)
}

// Send validates msg and posts it to the provider. Validation failures
// return a *ValidationError without any network call.
func (c *Client) Send(ctx context.Context, to string, msg Outbound) (*SendResult, error) {
	if to == "" {
		return nil, invalid("to", "required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	typ := msg.apiType()
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              typ,
		typ:                 msg.apiBody(),
	}

	var resp struct {
		Contacts []struct {
			Input string `json:"input"`
			WaID  string `json:"wa_id"`
		} `json:"contacts"`
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.post(ctx, "send "+msg.Kind(), payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return nil, &APIError{Kind: KindUnknown, StatusCode: http.StatusOK, Message: "response carries no message id"}
	}

	res := &SendResult{MessageID: resp.Messages[0].ID}
	if len(resp.Contacts) > 0 {
		res.WaID = resp.Contacts[0].WaID
	}
	c.logger.Debug("whatsapp: message sent", "kind", msg.Kind(), "to", to, "provider_message_id", res.MessageID)
	return res, nil
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return invalid("message_id", "required")
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.post(ctx, "mark read", payload, nil)
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/%s/%s/messages", c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID)
}

func (c *Client) post(ctx context.Context, op string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("whatsapp: request failed", "op", op, "error", err)
		return &TransportError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return &TransportError{Op: op + ": read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseAPIError(resp.StatusCode, data)
		c.logger.Warn("whatsapp: provider rejected request",
			"op", op,
			"kind", apiErr.Kind,
			"status", apiErr.StatusCode,
			"code", apiErr.Code,
			"subcode", apiErr.Subcode,
			"fbtrace_id", apiErr.TraceID,
			"error", apiErr.Message,
		)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &APIError{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
		}
	}
	return nil
}

func parseAPIError(status int, data []byte) *APIError {
	var body struct {
		Error struct {
			Message   string `json:"message"`
			Type      string `json:"type"`
			Code      int    `json:"code"`
			Subcode   int    `json:"error_subcode"`
			FBTraceID string `json:"fbtrace_id"`
		} `json:"error"`
	}
	e := &APIError{StatusCode: status}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		e.Code = body.Error.Code
		e.Subcode = body.Error.Subcode
		e.Type = body.Error.Type
		e.Message = body.Error.Message
		e.TraceID = body.Error.FBTraceID
	} else {
		e.Message = http.StatusText(status)
		if snippet := strings.TrimSpace(string(data)); snippet != "" {
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			e.Message += ": " + snippet
		}
	}
	e.Kind = classify(status, e.Code)
	return e
}
