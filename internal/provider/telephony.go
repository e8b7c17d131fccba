package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Telephony controls calls living on an external telephony gateway.
type Telephony interface {
	EndCall(ctx context.Context, providerCallID string) error
	Transfer(ctx context.Context, providerCallID, target string) error
	SendDTMF(ctx context.Context, providerCallID, digits string) error
}

// TelephonyConfig configures the gateway control client.
type TelephonyConfig struct {
	BaseURL   string
	AuthToken string
}

// TelephonyClient drives a REST-style telephony gateway.
type TelephonyClient struct {
	cfg  TelephonyConfig
	http *http.Client
}

// NewTelephonyClient builds a gateway control client.
func NewTelephonyClient(cfg TelephonyConfig) *TelephonyClient {
	return &TelephonyClient{
		cfg:  cfg,
		http: newPooledHTTPClient(4, 10*time.Second),
	}
}

// EndCall hangs up the provider side of the call.
func (c *TelephonyClient) EndCall(ctx context.Context, providerCallID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/end", providerCallID), nil)
}

// Transfer moves the caller to another destination.
func (c *TelephonyClient) Transfer(ctx context.Context, providerCallID, target string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/transfer", providerCallID), map[string]string{"target": target})
}

// SendDTMF plays digits into the call.
func (c *TelephonyClient) SendDTMF(ctx context.Context, providerCallID, digits string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/dtmf", providerCallID), map[string]string{"digits": digits})
}

func (c *TelephonyClient) post(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telephony: marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telephony: status %d: %s", resp.StatusCode, b)
	}
	return nil
}
