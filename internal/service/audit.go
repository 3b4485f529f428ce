package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/store"
)

// AuditService writes immutable audit trail entries. Audit failures are
// logged but never fail the business operation that produced them.
type AuditService struct {
	store store.AuditStore
}

func NewAuditService(s store.AuditStore) *AuditService {
	return &AuditService{store: s}
}

// Write stores a single immutable audit record.
func (s *AuditService) Write(ctx context.Context, entityType, entityID, action, prevState, nextState string, metadata map[string]string) {
	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		if metaJSON, err = json.Marshal(metadata); err != nil {
			zap.L().Warn("marshal audit metadata", zap.Error(err))
		}
	}

	if err := s.store.Append(ctx, store.AuditRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   metaJSON,
	}); err != nil {
		zap.L().Error("append audit record failed",
			zap.Error(err),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("action", action),
		)
	}
}

// Transition is a convenience wrapper for transfer state transitions.
func (s *AuditService) Transition(ctx context.Context, transferID fmt.Stringer, action, prevState, nextState string, metadata map[string]string) {
	s.Write(ctx, "transfer", transferID.String(), action, prevState, nextState, metadata)
}
