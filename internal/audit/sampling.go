package audit

import (
	"math/rand"

	"github.com/cliniguard/cliniguard/internal/dispatch"
)

// SamplingConfig controls how many recorded outcomes are echoed to the log
// stream. The durable store always gets every record; sampling only thins the
// operational log.
type SamplingConfig struct {
	SuccessRate float64 // successful call sampling rate (0.0-1.0)
	FailureRate float64 // denial/failure sampling rate (0.0-1.0)
	MaxDetail   int     // maximum fault message bytes to log
}

// DefaultSampling logs every denial and failure and one in ten successes.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{SuccessRate: 0.1, FailureRate: 1.0, MaxDetail: 512}
}

// ShouldLog decides whether an outcome is echoed. Denials and non-success
// statuses use FailureRate, successful calls use SuccessRate.
func (s SamplingConfig) ShouldLog(decision, status string) bool {
	if decision == string(dispatch.DecisionDenied) || (status != "" && status != string(dispatch.StatusSuccess)) {
		return s.FailureRate >= 1.0 || rand.Float64() < s.FailureRate
	}
	return s.SuccessRate >= 1.0 || rand.Float64() < s.SuccessRate
}

// TruncateDetail shortens free-form fault text for logging if it exceeds max.
func TruncateDetail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
