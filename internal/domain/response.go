package domain

import (
	"encoding/json"
	"time"
)

// ScriptOutput is the captured output of an executed action script.
type ScriptOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ScriptSuggestion describes what would run for an action without running it.
type ScriptSuggestion struct {
	Platform string   `json:"platform"`
	Script   string   `json:"script"`
	Args     []string `json:"args"`
}

// VaultSuggestion describes a certificate rotation that was not executed.
type VaultSuggestion struct {
	Method    string `json:"method"`
	VaultPath string `json:"vault_path"`
}

// RotationResult reports the outcome of a certificate rotation.
type RotationResult struct {
	Rotated  bool `json:"rotated"`
	Reloaded bool `json:"reloaded"`
}

// ManagementResponse is the body returned for an accepted request.
type ManagementResponse struct {
	Status     ResponseStatus  `json:"status"`
	Suggestion interface{}     `json:"suggestion,omitempty"`
	Output     *ScriptOutput   `json:"output,omitempty"`
	Result     *RotationResult `json:"result,omitempty"`
}

// AuditEntry is one persisted stage of a management request.
type AuditEntry struct {
	AuditID   string          `json:"audit_id"`
	AgentID   string          `json:"agent_id"`
	Action    string          `json:"action"`
	Stage     AuditStage      `json:"stage"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
