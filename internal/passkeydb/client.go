// ABOUTME: HTTP client for the external passkey credential-storage service
// ABOUTME: Lookups by public key or credential id, challenge issue, credential create

package passkeydb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrUnregistered indicates no stored credential matches the lookup.
var ErrUnregistered = errors.New("passkey is not registered")

// HTTPError is a non-2xx response from the storage service. The service
// returns plain-text error bodies; Body carries them verbatim.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("passkey storage returned status %d", e.StatusCode)
}

// Passkey is a stored credential record.
type Passkey struct {
	CredentialID string `json:"credentialId"`
	Username     string `json:"username"`
	PublicKey    string `json:"publicKey"`

	// Transports is a comma-separated transport list, as stored.
	Transports string `json:"transports,omitempty"`
}

// Client talks to the credential-storage endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a storage client for the given endpoint.
func NewClient(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// ByPublicKey fetches the credential stored for a wallet public key.
func (c *Client) ByPublicKey(ctx context.Context, publicKey string) (*Passkey, error) {
	return c.lookup(ctx, url.Values{"publicKey": {publicKey}})
}

// ByCredentialID fetches the credential stored for a WebAuthn credential id.
func (c *Client) ByCredentialID(ctx context.Context, credentialID string) (*Passkey, error) {
	return c.lookup(ctx, url.Values{"credentialId": {credentialID}})
}

func (c *Client) lookup(ctx context.Context, query url.Values) (*Passkey, error) {
	body, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}

	var passkey Passkey
	if err := json.Unmarshal(body, &passkey); err != nil {
		return nil, fmt.Errorf("decoding passkey record: %w", err)
	}
	if passkey.CredentialID == "" && passkey.PublicKey == "" {
		return nil, ErrUnregistered
	}
	return &passkey, nil
}

// RegistrationChallenge requests a registration challenge for username.
// message optionally carries ceremony context shown to the user.
func (c *Client) RegistrationChallenge(ctx context.Context, username, message string) (string, error) {
	query := url.Values{"username": {username}, "challenge": {"true"}}
	if message != "" {
		query.Set("message", message)
	}

	body, err := c.get(ctx, query)
	if err != nil {
		return "", err
	}

	var result struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding challenge response: %w", err)
	}
	if result.Challenge == "" {
		return "", errors.New("storage returned an empty challenge")
	}
	return result.Challenge, nil
}

// Create persists a newly registered credential and returns the stored record.
// response is the WebAuthn registration response JSON.
func (c *Client) Create(ctx context.Context, username string, response json.RawMessage) (*Passkey, error) {
	payload, err := json.Marshal(map[string]json.RawMessage{
		"username": json.RawMessage(fmt.Sprintf("%q", username)),
		"response": response,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var passkey Passkey
	if err := json.Unmarshal(body, &passkey); err != nil {
		return nil, fmt.Errorf("decoding created passkey: %w", err)
	}
	return &passkey, nil
}

func (c *Client) get(ctx context.Context, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// do runs one request, mapping non-2xx responses to HTTPError with the
// plain-text body as the message.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("passkey storage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading passkey storage response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("passkey storage error", "status", resp.StatusCode, "body", string(body))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
