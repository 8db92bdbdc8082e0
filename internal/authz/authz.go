// Package authz talks to the broker's authorization API: exchanging a
// login code for an access token, and exchanging the access token for the
// one-time websocket endpoint the feed connects to.
package authz

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
)

// ErrInvalidToken is returned when the broker rejects the access token
// itself. Retrying with the same credential cannot succeed, so the feed
// treats this as irrecoverable.
var ErrInvalidToken = errors.New("access token rejected")

// APIError wraps the code and message supplied by the broker's API.
type APIError struct {
	StatusCode int
	Code       string `json:"errorCode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker api: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("broker api: HTTP %d", e.StatusCode)
}

// Client calls the broker's HTTP API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// ClientOpts configures a Client.
type ClientOpts struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

func NewClient(opts ClientOpts) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		accessToken: opts.AccessToken,
		httpClient:  httpClient,
	}
}

// Authorize exchanges the bearer token for a single-use, time-limited
// websocket URI. A 401/403 wraps ErrInvalidToken; everything else is
// transient and counted against the feed's retry budget by the caller.
func (c *Client) Authorize(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/feed/market-data-feed/authorize", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("authorize feed: %w", ErrInvalidToken)
	}
	if err := verify(resp); err != nil {
		return "", fmt.Errorf("authorize feed: %w", err)
	}

	var body struct {
		Data struct {
			AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("authorize feed: decode response: %w", err)
	}
	if body.Data.AuthorizedRedirectURI == "" {
		return "", errors.New("authorize feed: empty redirect URI")
	}
	return body.Data.AuthorizedRedirectURI, nil
}

// ExchangeCode implements the login flow: it trades a one-time
// authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (string, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/login/authorization/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return "", fmt.Errorf("exchange code: %w", ErrInvalidToken)
	}
	if err := verify(resp); err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("exchange code: decode response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("exchange code: empty access token")
	}
	return body.AccessToken, nil
}

func verify(resp *http.Response) error {
	if resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	apiErr := APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		// not in the broker's error format, return the raw response
		return fmt.Errorf("HTTP %s: %s", resp.Status, body)
	}
	return &apiErr
}
