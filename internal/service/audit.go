package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
)

// auditRecord carries the fields shared by every stage of one request.
type auditRecord struct {
	agentID string
	action  string
	origin  string
	fields  map[string]interface{}
}

// audit persists one stage. Failures are logged and never abort the request.
func (s *Service) audit(ctx context.Context, rec auditRecord, stage domain.AuditStage, extra map[string]interface{}) {
	payload := make(map[string]interface{}, len(rec.fields)+len(extra))
	for k, v := range rec.fields {
		payload[k] = v
	}
	for k, v := range extra {
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("audit payload encode failed", "stage", stage, "error", err)
		raw = nil
	}

	entry := &domain.AuditEntry{
		AuditID:   "au_" + uuid.New().String(),
		AgentID:   rec.agentID,
		Action:    rec.action,
		Stage:     stage,
		Origin:    rec.origin,
		Payload:   raw,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("audit failed", "stage", stage, "action", rec.action, "error", err)
		return
	}
	s.logger.Info("management request", "stage", stage, "agent_id", rec.agentID, "action", rec.action, "origin", rec.origin)
}

// ListAudit returns recent audit entries, newest first.
func (s *Service) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return s.store.ListAudit(ctx, limit)
}

func errorString(err error) interface{} {
	if err == nil {
		return nil
	}
	return err.Error()
}
