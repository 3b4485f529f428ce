package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/dedup"
	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/store"
)

// Reconciler consumes rail settlement events from a duplicating,
// out-of-order delivery channel and drives them into the state machine
// exactly once. Events arriving before the transfer's AML decision are
// buffered and replayed with exponential backoff; buffered events whose AML
// never resolves within the window fail the transfer with "aml_timeout" and
// escalate the event to the dead-letter queue for manual reconciliation.
type Reconciler struct {
	transfers *TransferService
	seen      dedup.Set
	audit     *AuditService
	dlq       store.DeadLetterStore

	mu     sync.Mutex
	buffer map[string]*bufferedEvent

	maxAttempts int
	baseBackoff time.Duration
	amlWindow   time.Duration
	now         func() time.Time
}

type bufferedEvent struct {
	outcome     models.SettlementOutcome
	attempts    int
	nextAttempt time.Time
	firstSeen   time.Time
}

func NewReconciler(transfers *TransferService, seen dedup.Set, audit *AuditService, dlq store.DeadLetterStore) *Reconciler {
	return &Reconciler{
		transfers:   transfers,
		seen:        seen,
		audit:       audit,
		dlq:         dlq,
		buffer:      make(map[string]*bufferedEvent),
		maxAttempts: 8,
		baseBackoff: 500 * time.Millisecond,
		amlWindow:   10 * time.Minute,
		now:         time.Now,
	}
}

// WithRetryPolicy overrides the replay budget, base backoff and AML window.
func (r *Reconciler) WithRetryPolicy(maxAttempts int, baseBackoff, amlWindow time.Duration) *Reconciler {
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	if baseBackoff > 0 {
		r.baseBackoff = baseBackoff
	}
	if amlWindow > 0 {
		r.amlWindow = amlWindow
	}
	return r
}

// WithClock overrides the time source (tests).
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// railEventPayload is the subset of the rail's event data the reconciler
// needs. Events reference the transfer either directly or through the rail
// payment id.
type railEventPayload struct {
	PaymentID        string `json:"payment_id"`
	TransferID       string `json:"transfer_id"`
	SwitchTransferID string `json:"switch_transfer_id"`
	FailureReason    string `json:"failure_reason"`
}

// Ingest deduplicates and routes one rail event. Replays inside the
// retention window are acknowledged without effect.
func (r *Reconciler) Ingest(ctx context.Context, ev models.RailEvent) error {
	if ev.EventID == "" {
		return domain.NewValidationError("event_id", "required")
	}

	first, err := r.seen.MarkSeen(ctx, ev.EventID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !first {
		observability.IncrementRailEvent("duplicate")
		return nil
	}

	outcome, err := r.resolveOutcome(ctx, ev)
	if err != nil {
		// A transient resolution failure must not consume the event id:
		// the sender redelivers, and that redelivery is the only copy left.
		if !definitiveRejection(err) {
			r.unmark(ctx, ev.EventID)
		}
		return err
	}

	r.audit.Write(ctx, "rail_event", ev.EventID, "accepted", "", "", map[string]string{
		"event_type":  ev.EventType,
		"transfer_id": outcome.TransferID.String(),
	})
	observability.IncrementRailEvent("accepted")

	return r.apply(ctx, outcome, nil)
}

func (r *Reconciler) resolveOutcome(ctx context.Context, ev models.RailEvent) (models.SettlementOutcome, error) {
	var payload railEventPayload
	if len(ev.EventData) > 0 {
		if err := json.Unmarshal(ev.EventData, &payload); err != nil {
			return models.SettlementOutcome{}, domain.NewValidationError("event_data", "malformed payload: "+err.Error())
		}
	}

	var succeeded bool
	switch ev.EventType {
	case domain.EventOutgoingPaymentCompleted:
		succeeded = true
	case domain.EventOutgoingPaymentFailed:
		succeeded = false
	default:
		return models.SettlementOutcome{}, domain.NewValidationError("event_type", "unknown type "+ev.EventType)
	}

	var transferID uuid.UUID
	if payload.TransferID != "" {
		id, err := uuid.Parse(payload.TransferID)
		if err != nil {
			return models.SettlementOutcome{}, domain.NewValidationError("event_data.transfer_id", "not a uuid")
		}
		transferID = id
	} else if payload.PaymentID != "" {
		t, err := r.transfers.FindByRailPaymentID(ctx, payload.PaymentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return models.SettlementOutcome{}, fmt.Errorf("rail payment %s has no transfer: %w", payload.PaymentID, domain.ErrNotFound)
			}
			return models.SettlementOutcome{}, err
		}
		transferID = t.ID
	} else {
		return models.SettlementOutcome{}, domain.NewValidationError("event_data", "missing transfer reference")
	}

	outcome := models.SettlementOutcome{
		EventID:       ev.EventID,
		TransferID:    transferID,
		Succeeded:     succeeded,
		FailureReason: payload.FailureReason,
		ReceivedAt:    ev.ReceivedAt,
	}
	if payload.SwitchTransferID != "" {
		outcome.SwitchTransferID = &payload.SwitchTransferID
	}
	return outcome, nil
}

// definitiveRejection mirrors the consumer's ack policy: these outcomes can
// never succeed on a redelivery of the same event.
func definitiveRejection(err error) bool {
	return domain.IsValidation(err) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrBusinessRejection)
}

// apply routes the outcome into the state machine. buffered is non-nil when
// this is a replay of an already buffered event.
func (r *Reconciler) apply(ctx context.Context, outcome models.SettlementOutcome, buffered *bufferedEvent) error {
	err := r.transfers.ApplySettlementEvent(ctx, outcome)
	switch {
	case err == nil:
		r.drop(outcome.EventID)
		return nil
	case errors.Is(err, ErrAwaitingAml), errors.Is(err, domain.ErrConflict):
		r.bufferEvent(outcome, buffered)
		observability.IncrementRailEvent("buffered")
		return nil
	case definitiveRejection(err):
		r.drop(outcome.EventID)
		observability.IncrementRailEvent("rejected")
		return err
	default:
		// Transient store failure. Keep the event replayable: a buffered
		// event is rescheduled, a fresh one gives its id back to the
		// sender's redelivery.
		if buffered != nil {
			r.bufferEvent(outcome, buffered)
		} else {
			r.unmark(ctx, outcome.EventID)
		}
		return err
	}
}

func (r *Reconciler) unmark(ctx context.Context, eventID string) {
	if err := r.seen.Unmark(ctx, eventID); err != nil {
		zap.L().Error("dedup unmark failed, redelivery will be dropped",
			zap.Error(err),
			zap.String("event_id", eventID),
		)
	}
}

func (r *Reconciler) bufferEvent(outcome models.SettlementOutcome, existing *bufferedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry := existing
	if entry == nil {
		entry = &bufferedEvent{outcome: outcome, firstSeen: now}
	}
	entry.attempts++
	entry.nextAttempt = now.Add(r.baseBackoff << uint(min(entry.attempts-1, 10)))
	r.buffer[outcome.EventID] = entry
	observability.SetBufferedEvents(len(r.buffer))
}

func (r *Reconciler) drop(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffer, eventID)
	observability.SetBufferedEvents(len(r.buffer))
}

// RetryPass replays due buffered events. An entry that spends its attempt
// budget inside the window is parked until the window verdict; an entry whose
// window expired is applied one final time and escalated only if its AML is
// still unresolved. Called periodically by the reconciliation worker.
func (r *Reconciler) RetryPass(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	var due []*bufferedEvent
	for _, entry := range r.buffer {
		if !entry.nextAttempt.After(now) {
			due = append(due, entry)
		}
	}
	r.mu.Unlock()

	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}

		if now.Sub(entry.firstSeen) < r.amlWindow {
			if entry.attempts >= r.maxAttempts {
				r.park(entry)
				continue
			}
			if err := r.apply(ctx, entry.outcome, entry); err != nil {
				zap.L().Warn("buffered settlement event rejected",
					zap.Error(err),
					zap.String("event_id", entry.outcome.EventID),
				)
			}
			continue
		}

		r.resolveExpired(ctx, entry)
	}
}

// park holds an entry that burned its replay budget until the window expires,
// where resolveExpired delivers the verdict.
func (r *Reconciler) park(entry *bufferedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.nextAttempt = entry.firstSeen.Add(r.amlWindow)
}

// resolveExpired settles a buffered event whose window has expired. AML may
// have resolved since the last replay, so the event is applied once more;
// only an event still awaiting AML fails the transfer with aml_timeout.
func (r *Reconciler) resolveExpired(ctx context.Context, entry *bufferedEvent) {
	err := r.transfers.ApplySettlementEvent(ctx, entry.outcome)
	switch {
	case err == nil:
		r.drop(entry.outcome.EventID)
	case errors.Is(err, ErrAwaitingAml):
		if ferr := r.transfers.FailForAmlTimeout(ctx, entry.outcome.TransferID); ferr != nil {
			zap.L().Error("aml timeout transition failed",
				zap.Error(ferr),
				zap.String("transfer_id", entry.outcome.TransferID.String()),
			)
		}
		r.escalate(ctx, entry, domain.ReasonAmlTimeout)
	case errors.Is(err, domain.ErrConflict):
		// Concurrent writer; the verdict is retried on the next pass.
	case definitiveRejection(err):
		r.drop(entry.outcome.EventID)
		observability.IncrementRailEvent("rejected")
		zap.L().Warn("buffered settlement event rejected",
			zap.Error(err),
			zap.String("event_id", entry.outcome.EventID),
		)
	default:
		if entry.attempts >= r.maxAttempts {
			r.escalate(ctx, entry, "retry_exhausted")
			return
		}
		r.bufferEvent(entry.outcome, entry)
		zap.L().Warn("buffered settlement event replay failed",
			zap.Error(err),
			zap.String("event_id", entry.outcome.EventID),
		)
	}
}

// escalate moves a buffered event to the dead-letter queue for manual
// reconciliation.
func (r *Reconciler) escalate(ctx context.Context, entry *bufferedEvent, reason string) {
	r.drop(entry.outcome.EventID)

	if err := r.dlq.Append(ctx, models.DeadLetter{
		EventID:    entry.outcome.EventID,
		TransferID: entry.outcome.TransferID,
		Reason:     reason,
		Attempts:   entry.attempts,
	}); err != nil {
		zap.L().Error("dead-letter append failed",
			zap.Error(err),
			zap.String("event_id", entry.outcome.EventID),
		)
	}
	r.audit.Write(ctx, "rail_event", entry.outcome.EventID, "dead_lettered", "", "", map[string]string{
		"reason":      reason,
		"transfer_id": entry.outcome.TransferID.String(),
	})
	observability.IncrementRailEvent("dead_lettered")
	zap.L().Warn("settlement event escalated to dead letter",
		zap.String("event_id", entry.outcome.EventID),
		zap.String("transfer_id", entry.outcome.TransferID.String()),
		zap.String("reason", reason),
		zap.Int("attempts", entry.attempts),
	)
}

// BufferedCount reports the number of events awaiting AML resolution.
func (r *Reconciler) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}
