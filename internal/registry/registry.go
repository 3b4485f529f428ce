// Package registry resolves the identity projections a transfer references:
// the sending person, their cross-border network party, and the switch-side
// recipient party. The projections are lifecycle-managed by onboarding, so
// the engine only reads them.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/store"
)

type Service struct {
	parties store.PartyStore
}

func NewService(parties store.PartyStore) *Service {
	return &Service{parties: parties}
}

// Sender resolves the cross-border network party behind cnpPersonID and the
// underlying person record. Disabled accounts are rejected up front so a
// transfer is never initiated against a frozen sender.
func (s *Service) Sender(ctx context.Context, cnpPersonID string) (models.CnpParty, error) {
	party, err := s.parties.GetCnpParty(ctx, cnpPersonID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.CnpParty{}, fmt.Errorf("cnp party %s: %w", cnpPersonID, domain.ErrNotFound)
		}
		return models.CnpParty{}, err
	}
	if party.AccountDisabled {
		return models.CnpParty{}, domain.NewValidationError("cnpPersonId", "sender account is disabled")
	}
	return party, nil
}

// Recipient resolves the switch-side party behind a recipient party id.
func (s *Service) Recipient(ctx context.Context, partyID string) (models.SwitchParty, error) {
	party, err := s.parties.GetSwitchParty(ctx, partyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.SwitchParty{}, fmt.Errorf("switch party %s: %w", partyID, domain.ErrNotFound)
		}
		return models.SwitchParty{}, err
	}
	if party.AccountDisabled {
		return models.SwitchParty{}, domain.NewValidationError("recipientInfo.partyId", "recipient account is disabled")
	}
	return party, nil
}

// Person looks up the raw person record, national identifiers included.
func (s *Service) Person(ctx context.Context, id string) (models.Person, error) {
	return s.parties.GetPerson(ctx, id)
}

// UpsertPerson and the party variants ingest onboarding projections. They
// exist for the rail consumer's party events and for test seeding.
func (s *Service) UpsertPerson(ctx context.Context, p models.Person) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "required")
	}
	return s.parties.PutPerson(ctx, p)
}

func (s *Service) UpsertCnpParty(ctx context.Context, p models.CnpParty) error {
	if p.CnpPersonID == "" {
		return domain.NewValidationError("cnp_person_id", "required")
	}
	return s.parties.PutCnpParty(ctx, p)
}

func (s *Service) UpsertSwitchParty(ctx context.Context, p models.SwitchParty) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "required")
	}
	return s.parties.PutSwitchParty(ctx, p)
}
