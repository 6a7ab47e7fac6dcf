// Package runner executes the whitelisted action scripts.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"time"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
)

// safeArg restricts script arguments to path- and ref-like tokens.
var safeArg = regexp.MustCompile(`^[a-zA-Z0-9._\-\\/:@]+$`)

// Script names the unix and Windows variants of an action script.
type Script struct {
	Unix    string
	Windows string
}

// DefaultScripts maps the built-in actions to script file names.
var DefaultScripts = map[string]Script{
	domain.ActionRestartService: {Unix: "restart-service.sh", Windows: "restart-service.ps1"},
	domain.ActionDeploy:         {Unix: "deploy.sh", Windows: "deploy.ps1"},
	domain.ActionFetchLogs:      {Unix: "fetch-logs.sh", Windows: "fetch-logs.ps1"},
}

// Runner runs action scripts from a directory.
type Runner struct {
	dir     string
	timeout time.Duration
	goos    string
	scripts map[string]Script
}

// New creates a runner for the scripts in dir.
func New(dir string, timeout time.Duration) *Runner {
	return &Runner{
		dir:     dir,
		timeout: timeout,
		goos:    runtime.GOOS,
		scripts: DefaultScripts,
	}
}

// WithScripts replaces the action table.
func (r *Runner) WithScripts(scripts map[string]Script) *Runner {
	r.scripts = scripts
	return r
}

// Known reports whether action has a script.
func (r *Runner) Known(action string) bool {
	_, ok := r.scripts[action]
	return ok
}

// Actions returns the known actions in sorted order.
func (r *Runner) Actions() []string {
	actions := make([]string, 0, len(r.scripts))
	for a := range r.scripts {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}

// ScriptPath returns the absolute script path for action on this platform.
func (r *Runner) ScriptPath(action string) (string, error) {
	s, ok := r.scripts[action]
	if !ok {
		return "", fmt.Errorf("action not allowed: %s", action)
	}
	name := s.Unix
	if r.goos == "windows" && s.Windows != "" {
		name = s.Windows
	}
	path, err := filepath.Abs(filepath.Join(r.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve script path: %w", err)
	}
	return path, nil
}

// Suggest describes what Run would execute for action.
func (r *Runner) Suggest(action string, args []string) (*domain.ScriptSuggestion, error) {
	path, err := r.ScriptPath(action)
	if err != nil {
		return nil, err
	}
	return &domain.ScriptSuggestion{Platform: r.goos, Script: path, Args: SanitizeArgs(args)}, nil
}

// Run executes the script for action. Output is returned even when the script fails.
func (r *Runner) Run(ctx context.Context, action string, args []string) (*domain.ScriptOutput, error) {
	path, err := r.ScriptPath(action)
	if err != nil {
		return nil, err
	}
	args = SanitizeArgs(args)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if r.goos == "windows" {
		psArgs := append([]string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", path}, args...)
		cmd = exec.CommandContext(ctx, "powershell.exe", psArgs...)
	} else {
		cmd = exec.CommandContext(ctx, path, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	out := &domain.ScriptOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("script %s timed out after %s", filepath.Base(path), r.timeout)
		}
		return out, fmt.Errorf("script %s failed: %w", filepath.Base(path), err)
	}
	return out, nil
}

// SanitizeArgs drops any argument that is not a safe token.
func SanitizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if safeArg.MatchString(a) {
			out = append(out, a)
		}
	}
	return out
}

// ArgsFromParams extracts the string entries of params["args"].
func ArgsFromParams(params map[string]interface{}) []string {
	raw, ok := params["args"].([]interface{})
	if !ok {
		if ss, ok := params["args"].([]string); ok {
			return append([]string(nil), ss...)
		}
		return nil
	}
	args := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			args = append(args, s)
		}
	}
	return args
}
