package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"webcall/internal/credentials"
)

// ResponseError is a non-200 answer from the token endpoint.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	}
	return e.Message
}

// Client fetches access tokens from the token endpoint.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: url, http: hc}
}

// Fetch posts the credential set and returns the minted grant.
func (c *Client) Fetch(ctx context.Context, set credentials.Set) (Grant, error) {
	body, err := json.Marshal(mintRequest{
		AccountID:     set.AccountID,
		APIKeyID:      set.APIKeyID,
		APIKeySecret:  set.APIKeySecret,
		ApplicationID: set.ApplicationID,
	})
	if err != nil {
		return Grant{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Grant{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Grant{}, fmt.Errorf("token response read failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return Grant{}, &ResponseError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return Grant{}, fmt.Errorf("token response decode failed: %w", err)
	}
	if g.Token == "" {
		return Grant{}, fmt.Errorf("token response missing token")
	}
	return g, nil
}
