// Package memory provides mutex-guarded in-memory store implementations.
// They back unit tests and local runs; production uses the postgres package.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/store"
)

type TransferStore struct {
	mu        sync.RWMutex
	transfers map[uuid.UUID]models.Transfer
	byIdemKey map[string]uuid.UUID
	byRailID  map[string]uuid.UUID
}

func NewTransferStore() *TransferStore {
	return &TransferStore{
		transfers: make(map[uuid.UUID]models.Transfer),
		byIdemKey: make(map[string]uuid.UUID),
		byRailID:  make(map[string]uuid.UUID),
	}
}

func (s *TransferStore) Create(_ context.Context, t *models.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[t.ID]; ok {
		return domain.ErrConflict
	}
	if t.IdempotencyKey != "" {
		if _, ok := s.byIdemKey[t.IdempotencyKey]; ok {
			return domain.ErrDuplicateRequest
		}
		s.byIdemKey[t.IdempotencyKey] = t.ID
	}
	if t.RailPaymentID != "" {
		s.byRailID[t.RailPaymentID] = t.ID
	}
	s.transfers[t.ID] = cloneTransfer(*t)
	return nil
}

func (s *TransferStore) Load(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneTransfer(t)
	return &out, nil
}

func (s *TransferStore) Update(_ context.Context, t *models.Transfer, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.transfers[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !current.UpdatedAt.Equal(expectedUpdatedAt) {
		return domain.ErrConflict
	}
	s.transfers[t.ID] = cloneTransfer(*t)
	return nil
}

func (s *TransferStore) FindByIdempotencyKey(_ context.Context, key string) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdemKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t := cloneTransfer(s.transfers[id])
	return &t, nil
}

func (s *TransferStore) FindByRailPaymentID(_ context.Context, railPaymentID string) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRailID[railPaymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t := cloneTransfer(s.transfers[id])
	return &t, nil
}

func (s *TransferStore) FindStalePending(_ context.Context, olderThan time.Time, limit int) ([]models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transfer
	for _, t := range s.transfers {
		if t.Status == domain.TransferStatusPending && t.InitiatedAt.Before(olderThan) {
			out = append(out, cloneTransfer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneTransfer(t models.Transfer) models.Transfer {
	out := t
	if t.SwitchTransferID != nil {
		v := *t.SwitchTransferID
		out.SwitchTransferID = &v
	}
	if t.CancelReason != nil {
		v := *t.CancelReason
		out.CancelReason = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		out.CompletedAt = &v
	}
	if t.SettlementEventID != nil {
		v := *t.SettlementEventID
		out.SettlementEventID = &v
	}
	if t.AmlResponse != nil {
		v := *t.AmlResponse
		out.AmlResponse = &v
	}
	out.RecipientInfo.NationalIDs = append([]models.NationalID(nil), t.RecipientInfo.NationalIDs...)
	out.SenderInfo.ExtensionList = append([]models.Extension(nil), t.SenderInfo.ExtensionList...)
	return out
}

type RateStore struct {
	mu    sync.RWMutex
	rates []models.ExchangeRate
}

func NewRateStore() *RateStore {
	return &RateStore{}
}

func (s *RateStore) Insert(_ context.Context, rate models.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append(s.rates, rate)
	return nil
}

func (s *RateStore) InsertBatch(_ context.Context, rates []models.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append(s.rates, rates...)
	return nil
}

func (s *RateStore) LatestNotAfter(_ context.Context, base, assetCode string, asOf time.Time) (models.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best models.ExchangeRate
	found := false
	for _, r := range s.rates {
		if r.Base != base || r.AssetCode != assetCode || r.Date.After(asOf) {
			continue
		}
		if !found || r.Date.After(best.Date) {
			best = r
			found = true
		}
	}
	if !found {
		return models.ExchangeRate{}, domain.ErrNotFound
	}
	return best, nil
}

type PartyStore struct {
	mu            sync.RWMutex
	persons       map[string]models.Person
	cnpParties    map[string]models.CnpParty
	switchParties map[string]models.SwitchParty
}

func NewPartyStore() *PartyStore {
	return &PartyStore{
		persons:       make(map[string]models.Person),
		cnpParties:    make(map[string]models.CnpParty),
		switchParties: make(map[string]models.SwitchParty),
	}
}

func (s *PartyStore) GetPerson(_ context.Context, id string) (models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return models.Person{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PartyStore) GetCnpParty(_ context.Context, cnpPersonID string) (models.CnpParty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cnpParties[cnpPersonID]
	if !ok {
		return models.CnpParty{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PartyStore) GetSwitchParty(_ context.Context, partyID string) (models.SwitchParty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.switchParties[partyID]
	if !ok {
		return models.SwitchParty{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PartyStore) PutPerson(_ context.Context, p models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons[p.ID] = p
	return nil
}

func (s *PartyStore) PutCnpParty(_ context.Context, p models.CnpParty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cnpParties[p.CnpPersonID] = p
	return nil
}

func (s *PartyStore) PutSwitchParty(_ context.Context, p models.SwitchParty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switchParties[p.ID] = p
	return nil
}

type AmlStore struct {
	mu          sync.RWMutex
	validations map[uuid.UUID][]models.AmlValidation
}

func NewAmlStore() *AmlStore {
	return &AmlStore{validations: make(map[uuid.UUID][]models.AmlValidation)}
}

func (s *AmlStore) InsertValidation(_ context.Context, v models.AmlValidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[v.TransferID] = append(s.validations[v.TransferID], v)
	return nil
}

func (s *AmlStore) ListValidations(_ context.Context, transferID uuid.UUID) ([]models.AmlValidation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AmlValidation(nil), s.validations[transferID]...), nil
}

type AuditStore struct {
	mu      sync.RWMutex
	records []store.AuditRecord
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, rec store.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the audit trail, oldest first.
func (s *AuditStore) Records() []store.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.AuditRecord(nil), s.records...)
}

type DeadLetterStore struct {
	mu      sync.RWMutex
	letters []models.DeadLetter
}

func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

func (s *DeadLetterStore) Append(_ context.Context, dl models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	s.letters = append(s.letters, dl)
	return nil
}

func (s *DeadLetterStore) List(_ context.Context, limit int) ([]models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.DeadLetter(nil), s.letters...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ReportStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]store.PendingReport
}

func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[uuid.UUID]store.PendingReport)}
}

func (s *ReportStore) Enqueue(_ context.Context, pub models.TransferPublishObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[pub.TransferID]; ok {
		return nil // already queued; the switch dedupes by transfer id anyway
	}
	s.reports[pub.TransferID] = store.PendingReport{Publish: pub}
	return nil
}

func (s *ReportStore) ListDue(_ context.Context, now time.Time, limit int) ([]store.PendingReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.PendingReport
	for _, rep := range s.reports {
		if !rep.NextAttempt.After(now) {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Publish.TransferDate.Before(out[j].Publish.TransferDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ReportStore) MarkDelivered(_ context.Context, transferID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, transferID)
	return nil
}

func (s *ReportStore) MarkAttempted(_ context.Context, transferID uuid.UUID, nextAttempt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[transferID]
	if !ok {
		return domain.ErrNotFound
	}
	rep.Attempts++
	rep.NextAttempt = nextAttempt
	rep.LastError = lastError
	s.reports[transferID] = rep
	return nil
}
