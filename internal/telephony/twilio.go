package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webcall/internal/credentials"
)

var ErrCredentialsRejected = errors.New("telephony: credentials rejected by provider")

// TwilioVerifier confirms an API key against the account it claims to
// belong to by fetching the account resource.
type TwilioVerifier struct {
	baseURL string
	http    *http.Client
}

func NewTwilioVerifier(baseURL string, hc *http.Client) *TwilioVerifier {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioVerifier{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (v *TwilioVerifier) Name() string { return "twilio" }

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (v *TwilioVerifier) Verify(ctx context.Context, set credentials.Set) error {
	if !set.Complete() {
		return fmt.Errorf("%w: incomplete credential set", ErrCredentialsRejected)
	}

	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", v.baseURL, url.PathEscape(set.AccountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(set.APIKeyID, set.APIKeySecret)
	req.Header.Set("Accept", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio account lookup failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		var te twilioError
		_ = json.Unmarshal(raw, &te)
		if te.Message != "" {
			return fmt.Errorf("%w: %s", ErrCredentialsRejected, te.Message)
		}
		return fmt.Errorf("%w: status %d", ErrCredentialsRejected, resp.StatusCode)
	default:
		return fmt.Errorf("telephony: twilio account lookup returned %d", resp.StatusCode)
	}
}
