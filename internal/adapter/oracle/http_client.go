package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tvh0522/mintbay/internal/port"
)

const certifyAttempts = 3

// HTTPClient certifies settlements against an external proof oracle.
// Transient failures are retried with backoff; the engine treats any
// remaining error as a missing proof, never as a failed settlement.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ port.ProofOracle = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type certifyResponse struct {
	ProofRef string `json:"proof_ref"`
}

func (c *HTTPClient) Certify(ctx context.Context, op port.OperationDescriptor) (string, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= certifyAttempts; attempt++ {
		proofRef, err := c.certifyOnce(ctx, body)
		if err == nil {
			return proofRef, nil
		}
		lastErr = err

		if attempt < certifyAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return "", fmt.Errorf("certify after %d attempts: %w", certifyAttempts, lastErr)
}

func (c *HTTPClient) certifyOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/certify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var out certifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode oracle response: %w", err)
	}
	if out.ProofRef == "" {
		return "", fmt.Errorf("oracle returned empty proof reference")
	}
	return out.ProofRef, nil
}
