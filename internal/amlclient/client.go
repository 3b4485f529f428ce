// Package amlclient talks to the external anti-money-laundering validator.
package amlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationRequest is the payload submitted for screening.
type ValidationRequest struct {
	FullName     string          `json:"full_name"`
	AddressState string          `json:"address_state"`
	DateOfBirth  time.Time       `json:"date_of_birth"`
	CURP         string          `json:"curp"`
	Amount       decimal.Decimal `json:"amount"`
}

// ValidationResult is the validator's risk decision.
type ValidationResult struct {
	ExternalValidationID string          `json:"external_validation_id"`
	RiskLevel            string          `json:"risk_level"`
	Score                decimal.Decimal `json:"score"`
	BlockTransfer        bool            `json:"block_transfer"`
}

// Client is the AML validator collaborator. Calls may time out or return a
// service error; the caller owns retry policy.
type Client interface {
	Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error)
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

func (c *HTTPClient) Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("marshal aml request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/validations", bytes.NewReader(body))
	if err != nil {
		return ValidationResult{}, fmt.Errorf("build aml request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("aml validator call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ValidationResult{}, fmt.Errorf("aml validator returned status %d", resp.StatusCode)
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ValidationResult{}, fmt.Errorf("decode aml response: %w", err)
	}
	if result.ExternalValidationID == "" {
		return ValidationResult{}, fmt.Errorf("aml response missing validation id")
	}
	return result, nil
}
