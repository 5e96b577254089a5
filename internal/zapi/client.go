// Package zapi wraps the Z-API WhatsApp provider: outbound sends,
// presence signaling, read receipts, and the inbound webhook message
// model.
package zapi

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

// requestTimeout bounds each provider call. Z-API normally answers in
// well under a second; 30s matches the provider's own documented
// gateway timeout.
const requestTimeout = 30 * time.Second

// ClientConfig holds the credentials and endpoint for a Z-API instance.
type ClientConfig struct {
	InstanceID  string
	Token       string
	ClientToken string
	BaseURL     string // Default: https://api.z-api.io
	Logger      *slog.Logger
}

// Client is an HTTP client for one Z-API WhatsApp instance.
type Client struct {
	baseURL     string // Ends with /instances/{id}/token/{token}
	clientToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a Z-API client. The instance ID, token, and client
// token must all be present.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.InstanceID == "" || cfg.Token == "" || cfg.ClientToken == "" {
		return nil, fmt.Errorf("zapi credentials not configured")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.z-api.io"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     fmt.Sprintf("%s/instances/%s/token/%s", base, cfg.InstanceID, cfg.Token),
		clientToken: cfg.ClientToken,
		httpClient:  &http.Client{Timeout: requestTimeout},
		logger:      logger,
	}, nil
}

// SendResult is the provider's acknowledgment of an outbound send.
type SendResult struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// post issues a JSON POST to the given instance endpoint and decodes
// the response into out (which may be nil).
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Token", c.clientToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zapi %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("zapi %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// SendText sends a plain text message to a WhatsApp number. The phone
// must include the country code (e.g. 5511999999999).
func (c *Client) SendText(ctx context.Context, phone, message string) (*SendResult, error) {
	var result SendResult
	err := c.post(ctx, "/send-text", map[string]string{
		"phone":   phone,
		"message": message,
	}, &result)
	if err != nil {
		return nil, err
	}
	c.logger.Info("zapi message sent", "phone", phone, "message_id", result.MessageID)
	return &result, nil
}

// SendImage sends an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, phone, imageURL, caption string) (*SendResult, error) {
	payload := map[string]string{"phone": phone, "image": imageURL}
	if caption != "" {
		payload["caption"] = caption
	}
	var result SendResult
	if err := c.post(ctx, "/send-image", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendDocument sends a file (PDF, document) by URL.
func (c *Client) SendDocument(ctx context.Context, phone, fileURL, fileName, caption string) (*SendResult, error) {
	payload := map[string]string{
		"phone":    phone,
		"document": fileURL,
		"fileName": fileName,
	}
	if caption != "" {
		payload["caption"] = caption
	}
	var result SendResult
	if err := c.post(ctx, "/send-document", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Button is one option in a button list message.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// SendButtonList sends a message with tappable option buttons.
func (c *Client) SendButtonList(ctx context.Context, phone, title, description string, buttons []Button) (*SendResult, error) {
	var result SendResult
	err := c.post(ctx, "/send-button-list", map[string]any{
		"phone":       phone,
		"title":       title,
		"description": description,
		"buttons":     buttons,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkRead marks an inbound message as read on the patient's device.
func (c *Client) MarkRead(ctx context.Context, phone, messageID string) error {
	return c.post(ctx, "/read-message", map[string]string{
		"phone":     phone,
		"messageId": messageID,
	}, nil)
}

// TypingOn shows the "composing" presence indicator in the chat.
func (c *Client) TypingOn(ctx context.Context, phone string) error {
	return c.post(ctx, "/send-presence", map[string]string{
		"phone":  phone,
		"status": "composing",
	}, nil)
}

// TypingOff clears the presence indicator back to available.
func (c *Client) TypingOff(ctx context.Context, phone string) error {
	return c.post(ctx, "/send-presence", map[string]string{
		"phone":  phone,
		"status": "available",
	}, nil)
}

// ProfilePicture returns the contact's profile picture URL, if public.
func (c *Client) ProfilePicture(ctx context.Context, phone string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profile-picture?phone="+phone, nil)
	if err != nil {
		return "", fmt.Errorf("create profile-picture request: %w", err)
	}
	req.Header.Set("Client-Token", c.clientToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("zapi profile-picture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("zapi profile-picture: status %d", resp.StatusCode)
	}

	var out struct {
		Link string `json:"link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode profile-picture response: %w", err)
	}
	return out.Link, nil
}

// Ping verifies the provider is reachable with the configured
// credentials by requesting the instance device status.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Client-Token", c.clientToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zapi status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("zapi status: status %d", resp.StatusCode)
	}
	return nil
}
