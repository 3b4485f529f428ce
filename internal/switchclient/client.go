// Package switchclient publishes transfer outcomes to the national switch.
// The switch deduplicates by transfer id, so delivery is at-least-once.
package switchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osanpay/remittance-core/internal/models"
)

// Client is the switch collaborator interface.
type Client interface {
	PublishOutcome(ctx context.Context, pub models.TransferPublishObject) error
}

// HTTPClient is the production implementation.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) PublishOutcome(ctx context.Context, pub models.TransferPublishObject) error {
	body, err := json.Marshal(pub)
	if err != nil {
		return fmt.Errorf("marshal switch publish: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers/outcomes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build switch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("switch publish call: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the switch already holds this transfer id; at-least-once
	// delivery treats that as success.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("switch returned status %d", resp.StatusCode)
	}
	return nil
}

// MockClient records published outcomes for tests; FailFirst makes the first
// N publishes fail to exercise the retry path.
type MockClient struct {
	mu        sync.Mutex
	FailFirst int
	published map[uuid.UUID]models.TransferPublishObject
	attempts  int
}

func NewMockClient() *MockClient {
	return &MockClient{published: make(map[uuid.UUID]models.TransferPublishObject)}
}

func (c *MockClient) PublishOutcome(_ context.Context, pub models.TransferPublishObject) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.FailFirst {
		return fmt.Errorf("switch temporarily unavailable")
	}
	c.published[pub.TransferID] = pub
	return nil
}

func (c *MockClient) Published(transferID uuid.UUID) (models.TransferPublishObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.published[transferID]
	return pub, ok
}

func (c *MockClient) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}
