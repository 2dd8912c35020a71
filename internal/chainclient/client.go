// Package chainclient provides the HTTP client for the deployer
// service. The deployer holds the signing key and broadcasts the
// transaction; this service never handles key material.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pendergraft/deploygate/internal/deploy/domain"
	"github.com/pendergraft/deploygate/internal/observability/metrics"
	"github.com/pendergraft/deploygate/internal/validation"
)

// Client calls the deployer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a deployer client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// Deployment waits for transaction confirmation.
			Timeout: 180 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type deployRequest struct {
	ABI             json.RawMessage `json:"abi"`
	Bytecode        string          `json:"bytecode"`
	ContractName    string          `json:"contractName"`
	ConstructorArgs []any           `json:"constructorArgs"`
}

// Deploy submits a compiled contract for on-chain deployment.
func (c *Client) Deploy(ctx context.Context, tx domain.DeployTx) (*domain.DeploymentResult, error) {
	start := time.Now()
	defer func() {
		metrics.StepDuration("deployment", time.Since(start).Seconds())
	}()

	args := tx.ConstructorArgs
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(deployRequest{
		ABI:             tx.ABI,
		Bytecode:        tx.Bytecode,
		ContractName:    tx.ContractName,
		ConstructorArgs: args,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding deploy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deploy", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling deployer service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading deploy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deployer service returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var result domain.DeploymentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding deploy response: %w", err)
	}
	if result.Success {
		if err := validation.ValidateAddress(result.ContractAddress); err != nil {
			return nil, fmt.Errorf("deployer returned malformed contract address %q: %w", result.ContractAddress, err)
		}
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
