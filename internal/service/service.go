package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/xiaot623/gogo/mgmt/internal/config"
	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/repository"
	"github.com/xiaot623/gogo/mgmt/policy"
)

// ScriptRunner runs whitelisted action scripts.
type ScriptRunner interface {
	Known(action string) bool
	Actions() []string
	Suggest(action string, args []string) (*domain.ScriptSuggestion, error)
	Run(ctx context.Context, action string, args []string) (*domain.ScriptOutput, error)
}

// CertRotator installs fresh TLS material.
type CertRotator interface {
	Rotate(ctx context.Context) (*domain.RotationResult, error)
}

type Service struct {
	store        repository.Store
	policyEngine *policy.Engine
	runner       ScriptRunner
	rotator      CertRotator
	breaker      *Breaker
	config       *config.Config
	logger       *slog.Logger
	now          func() time.Time
}

func New(store repository.Store, policyEngine *policy.Engine, runner ScriptRunner, rotator CertRotator, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		policyEngine: policyEngine,
		runner:       runner,
		rotator:      rotator,
		breaker:      NewBreaker(cfg.AutoCircuitMax, cfg.AutoCircuitWindow),
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// knownActions lists everything the policy treats as a valid action.
func (s *Service) knownActions(route domain.Route) []string {
	actions := s.runner.Actions()
	if route == domain.RouteHandshake {
		actions = append(actions, domain.ActionRotateCerts)
	}
	return actions
}

func (s *Service) decide(ctx context.Context, route domain.Route, action string, auto bool) (policy.Decision, error) {
	decision, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Route:              string(route),
		Action:             action,
		AutoExecute:        auto,
		KnownActions:       s.knownActions(route),
		AutoAllowedActions: s.config.AutoAllowedActions,
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("policy decision", "route", route, "action", action, "auto_execute", auto, "decision", decision)
	return decision, nil
}
