package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/runner"
	"github.com/xiaot623/gogo/mgmt/policy"
)

var (
	restartPattern = regexp.MustCompile(`restart(?:\s+server|\s+service)?(?:\s+([a-zA-Z0-9._\-]+))?`)
	logsPattern    = regexp.MustCompile(`fetch\s+logs?|show\s+logs?|get\s+logs?`)
)

// ParseCommandText maps free text onto a known action. It returns nil when
// nothing matches.
func ParseCommandText(text string) *domain.ParsedCommand {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil
	}
	if m := restartPattern.FindStringSubmatch(s); m != nil {
		svc := m[1]
		if svc == "" {
			svc = "app"
		}
		return &domain.ParsedCommand{
			Action: domain.ActionRestartService,
			Params: map[string]interface{}{"args": []interface{}{svc}},
		}
	}
	if logsPattern.MatchString(s) {
		return &domain.ParsedCommand{
			Action: domain.ActionFetchLogs,
			Params: map[string]interface{}{"args": []interface{}{}},
		}
	}
	return nil
}

// Command handles a free-text command. Suggestions need no authentication;
// execution requires the action to be auto-allowed, the caller to be
// authorized and the action's circuit to be closed.
func (s *Service) Command(ctx context.Context, in *domain.InboundRequest) (*domain.ManagementResponse, error) {
	var req domain.TextCommand
	if err := decodeJSON(in.Raw, &req); err != nil {
		return nil, domain.NewReject(domain.RejectBadRequest, "invalid request body")
	}

	parsed := ParseCommandText(req.Text)
	if parsed == nil {
		return nil, domain.NewReject(domain.RejectUnknownCommand, "unknown command")
	}

	ok, err := s.checkReplay(ctx, req.Nonce, req.Timestamp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewReject(domain.RejectReplay, "invalid or replayed request")
	}

	rec := auditRecord{
		agentID: req.ID,
		action:  parsed.Action,
		origin:  in.Origin,
		fields:  map[string]interface{}{"text": req.Text, "parsed": parsed},
	}
	s.audit(ctx, rec, domain.AuditStageReceived, nil)

	decision, err := s.decide(ctx, domain.RouteCommand, parsed.Action, req.AutoExecute)
	if err != nil {
		return nil, err
	}

	switch decision {
	case policy.DecisionSuggest:
		s.audit(ctx, rec, domain.AuditStageSuggested, map[string]interface{}{"suggestion": parsed})
		return &domain.ManagementResponse{Status: domain.ResponseStatusSuggested, Suggestion: parsed}, nil
	case policy.DecisionRejectAuto:
		return nil, domain.NewReject(domain.RejectAutoNotAllowed, "action not allowed for auto-exec")
	case policy.DecisionExecute:
	default:
		return nil, domain.NewReject(domain.RejectActionNotAllowed, "action not allowed")
	}

	if !s.autoAuthorized(in) {
		return nil, domain.NewReject(domain.RejectAutoUnauthorized, "not authorized for auto-exec")
	}
	if !s.breaker.Allow(parsed.Action) {
		s.logger.Warn("auto-exec circuit open", "action", parsed.Action)
		return nil, domain.NewReject(domain.RejectCircuitOpen, "auto-exec circuit open")
	}

	return s.execute(ctx, rec, parsed.Action, runner.ArgsFromParams(parsed.Params))
}
