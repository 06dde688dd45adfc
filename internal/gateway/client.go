// Package gateway talks to the external money-moving collaborators: the KYC
// provider, the payout gateway and the refund gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fundflow/internal/domain"
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// client is a JSON-over-HTTP client with basic auth.
type client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

func newClient(baseURL string, cfg Config) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http:      &http.Client{Timeout: timeout},
	}
}

// apiError is the error body shared by the gateways.
type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

func (r response) description() string {
	var e apiError
	if err := json.Unmarshal(r.body, &e); err == nil && e.Error.Description != "" {
		return e.Error.Description
	}
	text := strings.TrimSpace(string(r.body))
	if text == "" {
		return http.StatusText(r.status)
	}
	return text
}

func (r response) decode(out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends the request. Transport failures come back as *domain.GatewayError;
// any HTTP status is returned to the caller to interpret.
func (c *client) do(ctx context.Context, op, method, path string, body any, headers map[string]string) (response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return response{}, fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, fmt.Errorf("build %s request: %w", op, err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, &domain.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return response{}, &domain.GatewayError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// toMinorUnits converts an amount to paise.
func toMinorUnits(amount domain.Money) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
