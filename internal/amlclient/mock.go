package amlclient

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockClient is a deterministic validator for local runs and tests. Names
// containing "BLOCK" are blocked; everything else passes with a low score.
type MockClient struct {
	calls atomic.Int64
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Validate(_ context.Context, req ValidationRequest) (ValidationResult, error) {
	c.calls.Add(1)

	if strings.Contains(strings.ToUpper(req.FullName), "BLOCK") {
		return ValidationResult{
			ExternalValidationID: fmt.Sprintf("aml-mock-%s", uuid.NewString()),
			RiskLevel:            "HIGH",
			Score:                decimal.NewFromInt(95),
			BlockTransfer:        true,
		}, nil
	}

	return ValidationResult{
		ExternalValidationID: fmt.Sprintf("aml-mock-%s", uuid.NewString()),
		RiskLevel:            "LOW",
		Score:                decimal.NewFromInt(5),
		BlockTransfer:        false,
	}, nil
}

// Calls returns how many validations were performed.
func (c *MockClient) Calls() int64 {
	return c.calls.Load()
}
