// ABOUTME: Minimal JSON-RPC client for the chain reads and writes the popup needs
// ABOUTME: Covers account fetches, blockhash, transaction submission, and asset metadata

package chain

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
	"net/url"
	"time"
)

// Commitment is the confirmation level requested for a chain read.
type Commitment string

// Commitment levels in increasing order of finality.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Chain errors
var (
	// ErrAccountNotFound indicates the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSubmissionFailed indicates a submitted transaction failed to confirm.
	ErrSubmissionFailed = errors.New("transaction failed to confirm")
)

// RPCError is a JSON-RPC level error returned by the endpoint.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a JSON-RPC client bound to a single endpoint.
type Client struct {
	endpoint   string
	imageProxy string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a chain client for the given RPC endpoint.
// imageProxy may be empty; Proxify then returns image URLs unchanged.
func NewClient(endpoint, imageProxy string, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		imageProxy: imageProxy,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs one JSON-RPC round trip, decoding the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "popup",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, data)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// GetAccountInfo fetches the raw data of an account at the given commitment.
// Returns ErrAccountNotFound if the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, addr Address, commitment Commitment) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}

	params := []any{
		addr.String(),
		map[string]any{"encoding": "base64", "commitment": string(commitment)},
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}

	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decoding account data for %s: %w", addr, err)
	}
	return data, nil
}

// Blockhash is a recent blockhash used to scope a transaction's lifetime.
type Blockhash struct {
	Hash                 string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// GetLatestBlockhash fetches the most recent blockhash at confirmed commitment.
func (c *Client) GetLatestBlockhash(ctx context.Context) (*Blockhash, error) {
	var result struct {
		Value Blockhash `json:"value"`
	}
	params := []any{map[string]any{"commitment": string(CommitmentConfirmed)}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return nil, err
	}
	return &result.Value, nil
}

// SendTransaction submits a base64-encoded wire transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, wireTx []byte) (string, error) {
	var signature string
	params := []any{
		base64.StdEncoding.EncodeToString(wireTx),
		map[string]any{"encoding": "base64"},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	c.logger.Info("transaction submitted", "signature", signature)
	return signature, nil
}

// ConfirmSignature polls signature status until the transaction reaches
// confirmed commitment, the chain reports a failure, or ctx expires.
func (c *Client) ConfirmSignature(ctx context.Context, signature string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrSubmissionFailed, ctx.Err())
		case <-ticker.C:
		}

		var result struct {
			Value []*struct {
				ConfirmationStatus string          `json:"confirmationStatus"`
				Err                json.RawMessage `json:"err"`
			} `json:"value"`
		}
		params := []any{[]string{signature}}
		if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
			return err
		}
		if len(result.Value) == 0 || result.Value[0] == nil {
			continue
		}

		status := result.Value[0]
		if len(status.Err) > 0 && string(status.Err) != "null" {
			return fmt.Errorf("%w: %s", ErrSubmissionFailed, status.Err)
		}
		switch Commitment(status.ConfirmationStatus) {
		case CommitmentConfirmed, CommitmentFinalized:
			c.logger.Info("transaction confirmed", "signature", signature)
			return nil
		}
	}
}

// Asset is token metadata resolved through the DAS getAsset method.
type Asset struct {
	ID       string
	Symbol   string
	Name     string
	Decimals int
	Image    string
}

// GetAsset resolves token metadata for a mint. Returns nil (no error) when
// the endpoint has no metadata for the id.
func (c *Client) GetAsset(ctx context.Context, id string) (*Asset, error) {
	if id == "" {
		return nil, nil
	}

	var result struct {
		ID      string `json:"id"`
		Content struct {
			Metadata struct {
				Name   string `json:"name"`
				Symbol string `json:"symbol"`
			} `json:"metadata"`
			Links struct {
				Image string `json:"image"`
			} `json:"links"`
		} `json:"content"`
		TokenInfo struct {
			Decimals int `json:"decimals"`
		} `json:"token_info"`
	}

	err := c.call(ctx, "getAsset", map[string]any{"id": id}, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			c.logger.Debug("asset lookup failed", "id", id, "error", rpcErr)
			return nil, nil
		}
		return nil, err
	}

	return &Asset{
		ID:       result.ID,
		Symbol:   result.Content.Metadata.Symbol,
		Name:     result.Content.Metadata.Name,
		Decimals: result.TokenInfo.Decimals,
		Image:    result.Content.Links.Image,
	}, nil
}

// Proxify routes an image URL through the configured image proxy.
// Returns the empty string for an empty input URL.
func (c *Client) Proxify(imageURL string) string {
	if imageURL == "" {
		return ""
	}
	if c.imageProxy == "" {
		return imageURL
	}
	return c.imageProxy + "?image=" + url.QueryEscape(imageURL)
}
