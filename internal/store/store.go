package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/osanpay/remittance-core/internal/models"
)

// TransferStore is the single source of truth for transfer state. Updates are
// guarded by optimistic concurrency: an Update whose expectedUpdatedAt no
// longer matches the stored row fails with domain.ErrConflict and the caller
// must re-read and retry.
type TransferStore interface {
	Create(ctx context.Context, t *models.Transfer) error
	Load(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	Update(ctx context.Context, t *models.Transfer, expectedUpdatedAt time.Time) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Transfer, error)
	FindByRailPaymentID(ctx context.Context, railPaymentID string) (*models.Transfer, error)
	// FindStalePending lists PENDING transfers initiated before the cutoff,
	// surfaced for operational review rather than auto-failed.
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transfer, error)
}

// RateStore holds the append-only exchange-rate feed.
type RateStore interface {
	Insert(ctx context.Context, rate models.ExchangeRate) error
	// InsertBatch loads a set of rates atomically; used by the seed loader.
	InsertBatch(ctx context.Context, rates []models.ExchangeRate) error
	// LatestNotAfter returns the most recent rate for (base, assetCode) with
	// Date <= asOf, or domain.ErrNotFound.
	LatestNotAfter(ctx context.Context, base, assetCode string, asOf time.Time) (models.ExchangeRate, error)
}

// PartyStore resolves identity projections. The engine only reads them.
type PartyStore interface {
	GetPerson(ctx context.Context, id string) (models.Person, error)
	GetCnpParty(ctx context.Context, cnpPersonID string) (models.CnpParty, error)
	GetSwitchParty(ctx context.Context, partyID string) (models.SwitchParty, error)
	PutPerson(ctx context.Context, p models.Person) error
	PutCnpParty(ctx context.Context, p models.CnpParty) error
	PutSwitchParty(ctx context.Context, p models.SwitchParty) error
}

// AmlStore persists immutable validation attempt records.
type AmlStore interface {
	InsertValidation(ctx context.Context, v models.AmlValidation) error
	ListValidations(ctx context.Context, transferID uuid.UUID) ([]models.AmlValidation, error)
}

// AuditRecord is one immutable audit trail entry.
type AuditRecord struct {
	EntityType string
	EntityID   string
	Action     string
	PrevState  string
	NextState  string
	Metadata   []byte
	CreatedAt  time.Time
}

// AuditStore appends to the immutable audit trail.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// DeadLetterStore records events that exhausted the reconciliation retry
// budget and await manual action.
type DeadLetterStore interface {
	Append(ctx context.Context, dl models.DeadLetter) error
	List(ctx context.Context, limit int) ([]models.DeadLetter, error)
}

// PendingReport is a switch outcome publish waiting in the outbox.
type PendingReport struct {
	Publish     models.TransferPublishObject
	Attempts    int
	NextAttempt time.Time
	LastError   string
}

// ReportStore is the at-least-once outbox for switch outcome reports.
type ReportStore interface {
	Enqueue(ctx context.Context, pub models.TransferPublishObject) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]PendingReport, error)
	MarkDelivered(ctx context.Context, transferID uuid.UUID) error
	MarkAttempted(ctx context.Context, transferID uuid.UUID, nextAttempt time.Time, lastError string) error
}
