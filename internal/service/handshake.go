package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/runner"
	"github.com/xiaot623/gogo/mgmt/policy"
)

// Handshake authenticates a signed CommandRequest and either suggests or
// executes its action.
func (s *Service) Handshake(ctx context.Context, in *domain.InboundRequest) (*domain.ManagementResponse, error) {
	if !s.authenticate(in) {
		return nil, domain.NewReject(domain.RejectInvalidAuth, "invalid auth")
	}

	// Decode the exact bytes that were authenticated.
	var req domain.CommandRequest
	if err := decodeJSON(in.Raw, &req); err != nil {
		return nil, domain.NewReject(domain.RejectBadRequest, "invalid request body")
	}

	ok, err := s.checkReplay(ctx, req.Nonce, req.Timestamp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewReject(domain.RejectReplay, "invalid or replayed request")
	}

	decision, err := s.decide(ctx, domain.RouteHandshake, req.Action, req.AutoExecute)
	if err != nil {
		return nil, err
	}
	if decision != policy.DecisionSuggest && decision != policy.DecisionExecute {
		return nil, domain.NewReject(domain.RejectActionNotAllowed, "action not allowed")
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	rec := auditRecord{
		agentID: req.ID,
		action:  req.Action,
		origin:  in.Origin,
		fields:  map[string]interface{}{"params": params},
	}
	if in.Peer != nil && in.Peer.Verified {
		rec.fields["client"] = in.Peer
	}
	s.audit(ctx, rec, domain.AuditStageReceived, nil)

	if req.Action == domain.ActionRotateCerts {
		return s.rotateCerts(ctx, rec, decision)
	}

	args := runner.ArgsFromParams(params)
	suggestion, err := s.runner.Suggest(req.Action, args)
	if err != nil {
		return nil, domain.NewReject(domain.RejectActionNotAllowed, "action not allowed")
	}

	if decision == policy.DecisionSuggest {
		s.audit(ctx, rec, domain.AuditStageSuggested, map[string]interface{}{"suggestion": suggestion})
		return &domain.ManagementResponse{Status: domain.ResponseStatusSuggested, Suggestion: suggestion}, nil
	}

	return s.execute(ctx, rec, req.Action, args)
}

func (s *Service) rotateCerts(ctx context.Context, rec auditRecord, decision policy.Decision) (*domain.ManagementResponse, error) {
	vaultPath := s.config.VaultCertPath
	if vaultPath == "" {
		vaultPath = "<not-configured>"
	}
	suggestion := &domain.VaultSuggestion{Method: "vault_pull", VaultPath: vaultPath}

	if decision == policy.DecisionSuggest {
		s.audit(ctx, rec, domain.AuditStageSuggested, map[string]interface{}{"suggestion": suggestion})
		return &domain.ManagementResponse{Status: domain.ResponseStatusSuggested, Suggestion: suggestion}, nil
	}

	s.audit(ctx, rec, domain.AuditStageExecuting, nil)
	if s.rotator == nil {
		err := fmt.Errorf("vault or cert paths not configured")
		s.audit(ctx, rec, domain.AuditStageFinished, map[string]interface{}{"error": err.Error()})
		return nil, &domain.ExecutionError{Err: err}
	}

	result, err := s.rotator.Rotate(ctx)
	s.audit(ctx, rec, domain.AuditStageFinished, map[string]interface{}{"error": errorString(err), "result": result})
	if err != nil {
		return nil, &domain.ExecutionError{Err: err}
	}
	return &domain.ManagementResponse{Status: domain.ResponseStatusOK, Result: result}, nil
}

// execute runs an accepted action and records its outcome.
func (s *Service) execute(ctx context.Context, rec auditRecord, action string, args []string) (*domain.ManagementResponse, error) {
	s.audit(ctx, rec, domain.AuditStageExecuting, nil)
	out, err := s.runner.Run(ctx, action, args)
	s.audit(ctx, rec, domain.AuditStageFinished, map[string]interface{}{"error": errorString(err), "output": out})
	if err != nil {
		return nil, &domain.ExecutionError{Err: err, Output: out}
	}
	return &domain.ManagementResponse{Status: domain.ResponseStatusOK, Output: out}, nil
}

// decodeJSON decodes raw keeping numbers as json.Number so params keep their
// original text.
func decodeJSON(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
