/**
 * @description
 * This package provides a client for the content launcher, the external
 * surface that presents a promotion's target URL to the user (a browser tab,
 * an embedded webview, or a companion app). The engine only asks the
 * launcher to open the URL; a successful return carries no guarantee the
 * user actually consumed the content. That weakness is part of the trust
 * model, not something this client can fix.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package launcherclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the content launcher API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new launcher client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// openRequest is the payload asking the launcher to present a URL.
type openRequest struct {
	URL       string `json:"url"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
}

// Open asks the launcher to present the target URL for a verification
// session. Non-blocking from the session's point of view: callers invoke it
// from a goroutine and only log failures.
func (c *Client) Open(ctx context.Context, targetURL, accountID, sessionID string) error {
	body, err := json.Marshal(openRequest{URL: targetURL, AccountID: accountID, SessionID: sessionID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/open", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("launcher returned status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
