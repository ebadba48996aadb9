package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
)

// Client talks to the hedgebot HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Positions returns the status of every monitored position.
func (c *Client) Positions(ctx context.Context) ([]monitor.Status, error) {
	var out struct {
		Positions []monitor.Status `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions", nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// Confirm resolves a pending hedge.
func (c *Client) Confirm(ctx context.Context, pendingID string, approve bool) error {
	body := map[string]bool{"approve": approve}
	return c.do(ctx, http.MethodPost, "/api/v1/confirmations/"+pendingID, body, nil)
}

func (c *Client) EmergencyStop(ctx context.Context) (monitor.EmergencyReport, error) {
	var rep monitor.EmergencyReport
	err := c.do(ctx, http.MethodPost, "/api/v1/emergency-stop", nil, &rep)
	return rep, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
