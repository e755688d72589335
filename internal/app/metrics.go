package app

import (
	"github.com/vigilis/sentinel/internal/metrics"
)

// Re-export metrics from the metrics package for the services in this package.

// Cycle metrics
var (
	CyclesTotal      = metrics.CyclesTotal
	CycleDuration    = metrics.CycleDuration
	CyclesInProgress = metrics.CyclesInProgress
	CyclesSkipped    = metrics.CyclesSkipped
	ClientsSelected  = metrics.ClientsSelected
)

// Probe metrics
var (
	ProbesTotal    = metrics.ProbesTotal
	ProbeDuration  = metrics.ProbeDuration
	TrapsGenerated = metrics.TrapsGenerated
)

// Judge metrics
var (
	JudgeCallsTotal  = metrics.JudgeCallsTotal
	JudgeDuration    = metrics.JudgeDuration
	JudgeUnavailable = metrics.JudgeUnavailable
)

// Alert metrics
var (
	AlertsTotal      = metrics.AlertsTotal
	AlertsSuppressed = metrics.AlertsSuppressed
)

// Registry metrics
var (
	RegistryOpsTotal = metrics.RegistryOpsTotal
	RegistryClients  = metrics.RegistryClients
)

// Result labels
const (
	ResultSuccess = metrics.ResultSuccess
	ResultFailure = metrics.ResultFailure
)
