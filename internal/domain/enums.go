package domain

// Route identifies which management endpoint received a request.
type Route string

const (
	RouteHandshake Route = "handshake"
	RouteCommand   Route = "command"
)

// AuditStage is a step in the lifecycle of a management request.
type AuditStage string

const (
	AuditStageReceived  AuditStage = "received"
	AuditStageSuggested AuditStage = "suggested"
	AuditStageExecuting AuditStage = "executing"
	AuditStageFinished  AuditStage = "finished"
)

// ResponseStatus is the status field of a successful management response.
type ResponseStatus string

const (
	ResponseStatusSuggested ResponseStatus = "suggested"
	ResponseStatusOK        ResponseStatus = "ok"
)

// Well-known actions.
const (
	ActionRestartService = "restart_service"
	ActionDeploy         = "deploy"
	ActionFetchLogs      = "fetch_logs"
	ActionRotateCerts    = "rotate_certs"
)
