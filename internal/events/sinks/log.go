// Package sinks provides the event sink implementations wired into the hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/events"
)

// LogSink writes every event as a structured log line. Routine outcome
// events log at debug; state transitions log at info or warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event_id", evt.ID),
			zap.String("source", evt.Source),
		}
		switch evt.Kind {
		case events.KindOutcomeRecorded:
			s.logger.Debug("outcome recorded", append(fields,
				zap.String("mode", string(evt.Mode)),
				zap.Bool("success", evt.Success),
				zap.String("error_type", evt.ErrorType),
				zap.Int("status_code", evt.StatusCode),
				zap.Duration("duration", evt.Duration))...)
		case events.KindModeEscalated:
			s.logger.Warn("mode escalated", append(fields,
				zap.String("from", string(evt.FromMode)),
				zap.String("to", string(evt.ToMode)),
				zap.String("error_type", evt.ErrorType))...)
		case events.KindSourceBlocked:
			s.logger.Warn("source blocked", append(fields,
				zap.Timep("blocked_until", evt.BlockedUntil),
				zap.String("reason", evt.Reason))...)
		case events.KindSourceUnblocked:
			s.logger.Info("source unblocked", fields...)
		case events.KindProxyTierEscalated:
			s.logger.Warn("proxy tier escalated", append(fields,
				zap.Stringer("from_tier", evt.FromTier),
				zap.Stringer("to_tier", evt.ToTier))...)
		case events.KindStructuralBreakage:
			s.logger.Error("structural breakage suspected", append(fields,
				zap.String("error_type", evt.ErrorType),
				zap.String("url", evt.URL))...)
		case events.KindItemAdmitted:
			s.logger.Debug("item admitted", append(fields,
				zap.Float64("score", evt.Score),
				zap.String("url", evt.URL))...)
		case events.KindItemRejected:
			s.logger.Info("item rejected below threshold", append(fields,
				zap.Float64("score", evt.Score),
				zap.String("url", evt.URL))...)
		default:
			s.logger.Info("event", append(fields, zap.String("kind", string(evt.Kind)))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
