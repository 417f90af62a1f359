// Package auth obtains and inspects session credentials for the
// marketplace REST API. The realtime layer never validates tokens itself;
// it only needs to know when one is about to expire so it can prompt a
// re-login instead of burning reconnect attempts on a dead credential.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Credentials is a successful login result.
type Credentials struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Client talks to the marketplace auth endpoints.
type Client struct {
	base string
	http *http.Client
	log  *zerolog.Logger
}

// NewClient builds an auth client for the given API base URL.
func NewClient(apiURL string, logger *zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(apiURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
		log:  logger,
	}
}

// Login exchanges an email and password for a session credential.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	return c.post(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// GuestLogin obtains a limited guest credential under a display name.
func (c *Client) GuestLogin(ctx context.Context, name string) (Credentials, error) {
	return c.post(ctx, "/auth/guest", map[string]string{
		"name": name,
	})
}

func (c *Client) post(ctx context.Context, path string, body map[string]string) (Credentials, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Credentials{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, err
	}
	if resp.StatusCode >= 400 {
		return Credentials{}, fmt.Errorf("auth %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var creds Credentials
	if err := json.Unmarshal(respBody, &creds); err != nil {
		return Credentials{}, fmt.Errorf("auth %s: decode response: %w", path, err)
	}
	if creds.Token == "" {
		return Credentials{}, fmt.Errorf("auth %s: response carried no token", path)
	}
	c.log.Info().Str("user_id", creds.UserID).Msg("authenticated")
	return creds, nil
}
