// ABOUTME: HTTP client for the fee-payer signing service
// ABOUTME: Random payer selection, batch signing, and bot-protection session proof

package payer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession indicates payer use was attempted without a verified session.
var ErrNoSession = errors.New("payer session not verified")

// SessionToken is the proof returned by the bot-protection verification,
// gating use of the payer service.
type SessionToken struct {
	Token     string `json:"token"`
	Signature string `json:"signature"`
}

// Subject extracts the session subject from the token claims. The payer
// service is the verifying party; this parse is a local sanity check only
// and does not validate the signature.
func (s SessionToken) Subject() (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err != nil {
		return "", fmt.Errorf("parsing session token: %w", err)
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

// Expired reports whether the token's exp claim has passed. A token without
// an exp claim is treated as expired.
func (s SessionToken) Expired(now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return now.After(exp.Time)
}

// Client talks to the payer service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a payer client for the given endpoint.
func NewClient(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// RandomPayer fetches the address of an available fee payer.
// The service returns the address as a quoted text body.
func (c *Client) RandomPayer(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return "", err
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	payer := strings.ReplaceAll(strings.TrimSpace(string(body)), `"`, "")
	if payer == "" {
		return "", errors.New("payer service returned an empty address")
	}
	return payer, nil
}

// Sign submits serialized transactions for fee-payer signing.
// Transactions travel base64-encoded; signatures come back base58. When the
// payer service demands a bot-protection session, the proof from
// VerifySession travels with the request.
func (c *Client) Sign(ctx context.Context, publicKey string, wireTxs [][]byte, session *SessionToken) ([]string, error) {
	encoded := make([]string, len(wireTxs))
	for i, tx := range wireTxs {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}

	fields := map[string]any{
		"publicKey":    publicKey,
		"transactions": encoded,
	}
	if session != nil {
		fields["sessionToken"] = session.Token
		fields["sessionSignature"] = session.Signature
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/sign", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result struct {
		Signatures []string `json:"signatures"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding sign response: %w", err)
	}
	if len(result.Signatures) != len(wireTxs) {
		return nil, fmt.Errorf("payer returned %d signatures for %d transactions", len(result.Signatures), len(wireTxs))
	}
	return result.Signatures, nil
}

// VerifySession exchanges a bot-protection challenge response for a session
// proof gating payer use.
func (c *Client) VerifySession(ctx context.Context, turnstileResponse string) (*SessionToken, error) {
	payload, err := json.Marshal(map[string]string{
		"cf-turnstile-response": turnstileResponse,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var token SessionToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decoding session token: %w", err)
	}
	if token.Token == "" {
		return nil, ErrNoSession
	}
	return &token, nil
}

// do runs one request, mapping non-2xx responses to an error carrying the
// response body text.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payer request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading payer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("payer error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("payer: %s", strings.TrimSpace(string(body)))
	}
	return body, nil
}
