package audit

import (
	"context"
	"log/slog"

	"github.com/cliniguard/cliniguard/internal/dispatch"
)

// Logger echoes recorded outcomes as structured log entries, sampled so the
// log stream stays readable under load.
type Logger struct {
	slogger  *slog.Logger
	sampling SamplingConfig
}

// NewLogger creates an audit echo logger with the given sampling configuration.
func NewLogger(slogger *slog.Logger, sampling SamplingConfig) *Logger {
	return &Logger{slogger: slogger, sampling: sampling}
}

// LogRecord emits one log entry for a stored record. Denials and failures log
// at warn level, successes at info.
func (l *Logger) LogRecord(ctx context.Context, rec Record, replayed bool) {
	if !l.sampling.ShouldLog(rec.Decision, rec.Status) {
		return
	}

	level := slog.LevelInfo
	if rec.Decision == string(dispatch.DecisionDenied) ||
		(rec.Status != "" && rec.Status != string(dispatch.StatusSuccess)) {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.Uint64("sequence", rec.Sequence),
		slog.String("request_id", rec.RequestID),
		slog.String("tool", rec.ToolName),
		slog.Group("actor",
			slog.String("id", rec.ActorID),
			slog.String("role", rec.ActorRole),
			slog.String("org", rec.ActorOrg),
		),
		slog.String("decision", rec.Decision),
		slog.String("status", rec.Status),
		slog.Time("finished_at", rec.FinishedAt),
	}
	if rec.FaultCode != "" {
		attrs = append(attrs, slog.Group("fault",
			slog.String("code", rec.FaultCode),
			slog.String("message", TruncateDetail(rec.FaultMessage, l.sampling.MaxDetail)),
		))
	}
	if replayed {
		attrs = append(attrs, slog.Bool("replayed", true))
	}

	l.slogger.LogAttrs(ctx, level, "audit", attrs...)
}
