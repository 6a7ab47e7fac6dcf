// Package agentclient provides the HTTP client that delivers signed commands.
package agentclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/signing"
)

// Response is what the management endpoint answered.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is an HTTP client for sending signed commands.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new client. A nil httpClient uses transport defaults.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Send posts the envelope body to endpoint with its signature header. Any
// HTTP status is returned as a Response; only delivery failures are errors.
func (c *Client) Send(ctx context.Context, endpoint string, env *domain.Envelope) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(env.Body))
	if err != nil {
		return nil, &domain.TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(signing.Header, env.Signature)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
