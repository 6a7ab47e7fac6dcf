package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/mgmt/internal/config"
	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/logutil"
	"github.com/xiaot623/gogo/mgmt/internal/repository"
	"github.com/xiaot623/gogo/mgmt/internal/signing"
	"github.com/xiaot623/gogo/mgmt/policy"
	"github.com/xiaot623/gogo/mgmt/tests/helpers"
)

const testSecret = "topsecret"

var testNow = time.Unix(1700000000, 0)

type runCall struct {
	action string
	args   []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runCall
	output *domain.ScriptOutput
	err    error
}

func (f *fakeRunner) Known(action string) bool {
	switch action {
	case domain.ActionRestartService, domain.ActionDeploy, domain.ActionFetchLogs:
		return true
	}
	return false
}

func (f *fakeRunner) Actions() []string {
	return []string{domain.ActionDeploy, domain.ActionFetchLogs, domain.ActionRestartService}
}

func (f *fakeRunner) Suggest(action string, args []string) (*domain.ScriptSuggestion, error) {
	if !f.Known(action) {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	return &domain.ScriptSuggestion{Platform: "linux", Script: "/scripts/" + action + ".sh", Args: args}, nil
}

func (f *fakeRunner) Run(_ context.Context, action string, args []string) (*domain.ScriptOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{action: action, args: args})
	if f.output != nil {
		return f.output, f.err
	}
	return &domain.ScriptOutput{Stdout: "done\n"}, f.err
}

func (f *fakeRunner) runs() []runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runCall(nil), f.calls...)
}

type fakeRotator struct {
	calls int
	err   error
}

func (f *fakeRotator) Rotate(context.Context) (*domain.RotationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RotationResult{Rotated: true, Reloaded: true}, nil
}

type testEnv struct {
	svc     *Service
	runner  *fakeRunner
	rotator *fakeRotator
	store   *repository.SQLiteStore
}

func newTestService(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AgentID:            "agent-1",
		SharedSecret:       testSecret,
		AutoAllowedActions: []string{domain.ActionRestartService, domain.ActionFetchLogs},
		AutoCircuitMax:     3,
		AutoCircuitWindow:  10 * time.Minute,
		NonceTTL:           5 * time.Minute,
		TimestampTolerance: 5 * time.Minute,
		VaultCertPath:      "secret/data/mgmt/certs",
	}
	if mutate != nil {
		mutate(cfg)
	}

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	store := helpers.NewTestSQLiteStore(t)
	runner := &fakeRunner{}
	rotator := &fakeRotator{}
	svc := New(store, engine, runner, rotator, cfg, logutil.Discard())
	svc.now = func() time.Time { return testNow }
	svc.breaker.now = svc.now

	return &testEnv{svc: svc, runner: runner, rotator: rotator, store: store}
}

func signedRequest(t *testing.T, req *domain.CommandRequest) *domain.InboundRequest {
	t.Helper()
	env, err := signing.Build(req, []byte(testSecret))
	require.NoError(t, err)
	return &domain.InboundRequest{Raw: env.Body, Signature: env.Signature, Origin: "127.0.0.1"}
}

func commandRequest(nonce, action string, auto bool) *domain.CommandRequest {
	return &domain.CommandRequest{
		ID:          "agent-1",
		Nonce:       nonce,
		Timestamp:   testNow.Unix(),
		Action:      action,
		Params:      map[string]interface{}{"args": []interface{}{"app"}},
		AutoExecute: auto,
	}
}

func textRequest(t *testing.T, nonce, text string, auto bool) *domain.InboundRequest {
	t.Helper()
	raw, err := json.Marshal(domain.TextCommand{
		ID:          "agent-1",
		Nonce:       nonce,
		Timestamp:   testNow.Unix(),
		Text:        text,
		AutoExecute: auto,
	})
	require.NoError(t, err)
	return &domain.InboundRequest{Raw: raw, Origin: "127.0.0.1"}
}

func assertReject(t *testing.T, err error, code domain.RejectCode) {
	t.Helper()
	var rej *domain.RejectError
	require.True(t, errors.As(err, &rej), "expected reject error, got %v", err)
	assert.Equal(t, code, rej.Code)
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing Signature", func(t *testing.T) {
		env := newTestService(t, nil)
		in := signedRequest(t, commandRequest("n1", domain.ActionRestartService, true))
		in.Signature = ""

		_, err := env.svc.Handshake(ctx, in)
		assertReject(t, err, domain.RejectInvalidAuth)
		assert.Empty(t, env.runner.runs())
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		env := newTestService(t, nil)
		req := commandRequest("n1", domain.ActionRestartService, true)
		built, err := signing.Build(req, []byte("wrong"))
		require.NoError(t, err)

		_, err = env.svc.Handshake(ctx, &domain.InboundRequest{Raw: built.Body, Signature: built.Signature})
		assertReject(t, err, domain.RejectInvalidAuth)
	})

	t.Run("Empty Receiver Secret", func(t *testing.T) {
		env := newTestService(t, func(c *config.Config) { c.SharedSecret = "" })
		_, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRestartService, true)))
		assertReject(t, err, domain.RejectInvalidAuth)
	})

	t.Run("Execute Restart", func(t *testing.T) {
		env := newTestService(t, nil)
		resp, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRestartService, true)))
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusOK, resp.Status)
		require.NotNil(t, resp.Output)
		assert.Equal(t, "done\n", resp.Output.Stdout)

		runs := env.runner.runs()
		require.Len(t, runs, 1)
		assert.Equal(t, domain.ActionRestartService, runs[0].action)
		assert.Equal(t, []string{"app"}, runs[0].args)

		entries, err := env.svc.ListAudit(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		stages := []domain.AuditStage{entries[2].Stage, entries[1].Stage, entries[0].Stage}
		assert.Equal(t, []domain.AuditStage{domain.AuditStageReceived, domain.AuditStageExecuting, domain.AuditStageFinished}, stages)
		assert.Equal(t, "agent-1", entries[0].AgentID)
		assert.Equal(t, "127.0.0.1", entries[0].Origin)
	})

	t.Run("Suggestion Mode", func(t *testing.T) {
		env := newTestService(t, nil)
		resp, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionDeploy, false)))
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusSuggested, resp.Status)

		suggestion, ok := resp.Suggestion.(*domain.ScriptSuggestion)
		require.True(t, ok)
		assert.Equal(t, "/scripts/deploy.sh", suggestion.Script)
		assert.Equal(t, []string{"app"}, suggestion.Args)
		assert.Empty(t, env.runner.runs())
	})

	t.Run("Unknown Action", func(t *testing.T) {
		env := newTestService(t, nil)
		_, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", "format_disk", true)))
		assertReject(t, err, domain.RejectActionNotAllowed)
	})

	t.Run("Rotate Certs", func(t *testing.T) {
		env := newTestService(t, nil)
		resp, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRotateCerts, true)))
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusOK, resp.Status)
		require.NotNil(t, resp.Result)
		assert.True(t, resp.Result.Rotated)
		assert.Equal(t, 1, env.rotator.calls)
	})

	t.Run("Rotate Certs Suggestion", func(t *testing.T) {
		env := newTestService(t, nil)
		resp, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRotateCerts, false)))
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusSuggested, resp.Status)
		assert.Equal(t, &domain.VaultSuggestion{Method: "vault_pull", VaultPath: "secret/data/mgmt/certs"}, resp.Suggestion)
		assert.Zero(t, env.rotator.calls)
	})

	t.Run("Rotate Certs Failure", func(t *testing.T) {
		env := newTestService(t, nil)
		env.rotator.err = errors.New("vault response missing keys")

		_, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRotateCerts, true)))
		var execErr *domain.ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Contains(t, execErr.Error(), "missing keys")
	})

	t.Run("Script Failure Keeps Output", func(t *testing.T) {
		env := newTestService(t, nil)
		env.runner.output = &domain.ScriptOutput{Stderr: "boom"}
		env.runner.err = errors.New("script restart-service.sh failed: exit status 1")

		_, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRestartService, true)))
		var execErr *domain.ExecutionError
		require.True(t, errors.As(err, &execErr))
		require.NotNil(t, execErr.Output)
		assert.Equal(t, "boom", execErr.Output.Stderr)
	})

	t.Run("Replayed Nonce", func(t *testing.T) {
		env := newTestService(t, nil)
		in := signedRequest(t, commandRequest("n1", domain.ActionRestartService, true))

		_, err := env.svc.Handshake(ctx, in)
		require.NoError(t, err)

		_, err = env.svc.Handshake(ctx, in)
		assertReject(t, err, domain.RejectReplay)
		assert.Len(t, env.runner.runs(), 1)
	})

	t.Run("Stale Timestamp", func(t *testing.T) {
		env := newTestService(t, nil)
		req := commandRequest("n1", domain.ActionRestartService, true)
		req.Timestamp = testNow.Add(-10 * time.Minute).Unix()

		_, err := env.svc.Handshake(ctx, signedRequest(t, req))
		assertReject(t, err, domain.RejectReplay)
	})

	t.Run("Future Timestamp", func(t *testing.T) {
		env := newTestService(t, nil)
		req := commandRequest("n1", domain.ActionRestartService, true)
		req.Timestamp = testNow.Add(10 * time.Minute).Unix()

		_, err := env.svc.Handshake(ctx, signedRequest(t, req))
		assertReject(t, err, domain.RejectReplay)
	})

	t.Run("Missing Nonce", func(t *testing.T) {
		env := newTestService(t, nil)
		_, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("", domain.ActionRestartService, true)))
		assertReject(t, err, domain.RejectReplay)
	})

	t.Run("Invalid Body", func(t *testing.T) {
		env := newTestService(t, nil)
		raw := []byte(`{"id":`)
		_, err := env.svc.Handshake(ctx, &domain.InboundRequest{Raw: raw, Signature: signing.Sign(raw, []byte(testSecret))})
		assertReject(t, err, domain.RejectBadRequest)
	})
}

func TestHandshakeMTLS(t *testing.T) {
	ctx := context.Background()
	requireMTLS := func(c *config.Config) {
		c.MTLSRequired = true
		c.MTLSClientCNAllowlist = []string{"agent-1"}
	}

	t.Run("HMAC Alone Rejected", func(t *testing.T) {
		env := newTestService(t, requireMTLS)
		_, err := env.svc.Handshake(ctx, signedRequest(t, commandRequest("n1", domain.ActionRestartService, true)))
		assertReject(t, err, domain.RejectInvalidAuth)
	})

	t.Run("Allowlisted Client", func(t *testing.T) {
		env := newTestService(t, requireMTLS)
		in := signedRequest(t, commandRequest("n1", domain.ActionRestartService, true))
		in.Signature = ""
		in.Peer = &domain.PeerInfo{Verified: true, CommonName: "agent-1"}

		resp, err := env.svc.Handshake(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusOK, resp.Status)
	})

	t.Run("Client Not Allowlisted", func(t *testing.T) {
		env := newTestService(t, requireMTLS)
		in := signedRequest(t, commandRequest("n1", domain.ActionRestartService, true))
		in.Peer = &domain.PeerInfo{Verified: true, CommonName: "intruder"}

		_, err := env.svc.Handshake(ctx, in)
		assertReject(t, err, domain.RejectInvalidAuth)
	})
}

func TestCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown Text", func(t *testing.T) {
		env := newTestService(t, nil)
		_, err := env.svc.Command(ctx, textRequest(t, "n1", "make coffee", false))
		assertReject(t, err, domain.RejectUnknownCommand)
	})

	t.Run("Suggestion Without Auth", func(t *testing.T) {
		env := newTestService(t, nil)
		resp, err := env.svc.Command(ctx, textRequest(t, "n1", "restart service nginx", false))
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusSuggested, resp.Status)

		parsed, ok := resp.Suggestion.(*domain.ParsedCommand)
		require.True(t, ok)
		assert.Equal(t, domain.ActionRestartService, parsed.Action)
		assert.Empty(t, env.runner.runs())
	})

	t.Run("Auto Without Auth", func(t *testing.T) {
		env := newTestService(t, nil)
		_, err := env.svc.Command(ctx, textRequest(t, "n1", "restart", true))
		assertReject(t, err, domain.RejectAutoUnauthorized)
	})

	t.Run("HMAC Fallback", func(t *testing.T) {
		env := newTestService(t, func(c *config.Config) { c.AutoAllowHMAC = true })
		in := textRequest(t, "n1", "restart web", true)
		in.Signature = signing.Sign(in.Raw, []byte(testSecret))

		resp, err := env.svc.Command(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusOK, resp.Status)

		runs := env.runner.runs()
		require.Len(t, runs, 1)
		assert.Equal(t, []string{"web"}, runs[0].args)
	})

	t.Run("HMAC Fallback Disabled", func(t *testing.T) {
		env := newTestService(t, nil)
		in := textRequest(t, "n1", "restart web", true)
		in.Signature = signing.Sign(in.Raw, []byte(testSecret))

		_, err := env.svc.Command(ctx, in)
		assertReject(t, err, domain.RejectAutoUnauthorized)
	})

	t.Run("Verified Client", func(t *testing.T) {
		env := newTestService(t, nil)
		in := textRequest(t, "n1", "fetch logs", true)
		in.Peer = &domain.PeerInfo{Verified: true, CommonName: "ops"}

		resp, err := env.svc.Command(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusOK, resp.Status)
	})

	t.Run("Action Not Auto Allowed", func(t *testing.T) {
		env := newTestService(t, func(c *config.Config) {
			c.AutoAllowedActions = []string{domain.ActionRestartService}
		})
		in := textRequest(t, "n1", "show logs", true)
		in.Peer = &domain.PeerInfo{Verified: true, CommonName: "ops"}

		_, err := env.svc.Command(ctx, in)
		assertReject(t, err, domain.RejectAutoNotAllowed)
	})

	t.Run("Circuit Opens", func(t *testing.T) {
		env := newTestService(t, func(c *config.Config) { c.AutoCircuitMax = 2 })
		peer := &domain.PeerInfo{Verified: true, CommonName: "ops"}

		for i := 0; i < 2; i++ {
			in := textRequest(t, fmt.Sprintf("n%d", i), "restart", true)
			in.Peer = peer
			_, err := env.svc.Command(ctx, in)
			require.NoError(t, err)
		}

		in := textRequest(t, "n-last", "restart", true)
		in.Peer = peer
		_, err := env.svc.Command(ctx, in)
		assertReject(t, err, domain.RejectCircuitOpen)
		assert.Len(t, env.runner.runs(), 2)
	})

	t.Run("Replayed Nonce", func(t *testing.T) {
		env := newTestService(t, nil)
		in := textRequest(t, "n1", "fetch logs", false)

		_, err := env.svc.Command(ctx, in)
		require.NoError(t, err)
		_, err = env.svc.Command(ctx, in)
		assertReject(t, err, domain.RejectReplay)
	})
}

func TestCheckReplayPrunesExpiredNonces(t *testing.T) {
	env := newTestService(t, func(c *config.Config) { c.NonceTTL = time.Minute })
	ctx := context.Background()

	ok, err := env.svc.checkReplay(ctx, "n1", testNow.Unix())
	require.NoError(t, err)
	assert.True(t, ok)

	// Once the request can no longer pass the freshness check the nonce is forgotten.
	later := testNow.Add(6 * time.Minute)
	env.svc.now = func() time.Time { return later }
	ok, err = env.svc.checkReplay(ctx, "n1", later.Unix())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandshakeFarFutureTimestamp(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	req := commandRequest("n1", domain.ActionRestartService, true)
	req.Timestamp = testNow.Unix() + 10_000_000_000
	in := signedRequest(t, req)

	for _, offset := range []time.Duration{0, time.Hour, 8760 * time.Hour} {
		at := testNow.Add(offset)
		env.svc.now = func() time.Time { return at }

		_, err := env.svc.Handshake(ctx, in)
		assertReject(t, err, domain.RejectReplay)
	}
	assert.Empty(t, env.runner.runs())
}

func TestHandshakeNonceOutlivesFreshness(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	// Stamped near the upper edge of the tolerance window.
	req := commandRequest("n1", domain.ActionRestartService, true)
	req.Timestamp = testNow.Unix() + 290
	in := signedRequest(t, req)

	_, err := env.svc.Handshake(ctx, in)
	require.NoError(t, err)

	for _, offset := range []time.Duration{301 * time.Second, 589 * time.Second} {
		at := testNow.Add(offset)
		env.svc.now = func() time.Time { return at }

		_, err = env.svc.Handshake(ctx, in)
		assertReject(t, err, domain.RejectReplay)
	}
	assert.Len(t, env.runner.runs(), 1)
}
