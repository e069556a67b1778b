package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharkted/collector/internal/events"
)

// PrometheusSink exports collection metrics. It owns every collector so the
// orchestrator itself stays metrics-free.
type PrometheusSink struct {
	attempts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	escalations *prometheus.CounterVec
	blocks      *prometheus.CounterVec
	unblocks    *prometheus.CounterVec
	tierMoves   *prometheus.CounterVec
	breakage    *prometheus.CounterVec
	admissions  *prometheus.CounterVec
	scores      *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_attempts_total",
			Help: "Collection attempts partitioned by source, mode and result.",
		}, []string{"source", "mode", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_attempt_duration_seconds",
			Help:    "Attempt duration partitioned by source and mode.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source", "mode"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_mode_escalations_total",
			Help: "Mode escalations partitioned by source and target mode.",
		}, []string{"source", "to_mode"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_source_blocks_total",
			Help: "Circuit-breaker activations per source.",
		}, []string{"source"}),
		unblocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_source_unblocks_total",
			Help: "Manual or automatic unblocks per source.",
		}, []string{"source"}),
		tierMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_proxy_tier_escalations_total",
			Help: "Proxy tier escalations partitioned by source and target tier.",
		}, []string{"source", "to_tier"}),
		breakage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_structural_breakage_total",
			Help: "Suspected extraction breakages per source.",
		}, []string{"source"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_item_admissions_total",
			Help: "Admission gate decisions partitioned by source and verdict.",
		}, []string{"source", "verdict"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_item_score",
			Help:    "Quality scores of collected items per source.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"source"}),
	}
	for _, c := range []prometheus.Collector{
		s.attempts, s.duration, s.escalations, s.blocks, s.unblocks,
		s.tierMoves, s.breakage, s.admissions, s.scores,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consume(evt)
	}
	return nil
}

func (s *PrometheusSink) consume(evt events.Event) {
	switch evt.Kind {
	case events.KindOutcomeRecorded:
		result := "failure"
		if evt.Success {
			result = "success"
		}
		s.attempts.WithLabelValues(evt.Source, string(evt.Mode), result).Inc()
		if evt.Duration > 0 {
			s.duration.WithLabelValues(evt.Source, string(evt.Mode)).Observe(evt.Duration.Seconds())
		}
	case events.KindModeEscalated:
		s.escalations.WithLabelValues(evt.Source, string(evt.ToMode)).Inc()
	case events.KindSourceBlocked:
		s.blocks.WithLabelValues(evt.Source).Inc()
	case events.KindSourceUnblocked:
		s.unblocks.WithLabelValues(evt.Source).Inc()
	case events.KindProxyTierEscalated:
		s.tierMoves.WithLabelValues(evt.Source, evt.ToTier.String()).Inc()
	case events.KindStructuralBreakage:
		s.breakage.WithLabelValues(evt.Source).Inc()
	case events.KindItemAdmitted:
		s.admissions.WithLabelValues(evt.Source, "admitted").Inc()
		s.scores.WithLabelValues(evt.Source).Observe(evt.Score)
	case events.KindItemRejected:
		s.admissions.WithLabelValues(evt.Source, "rejected").Inc()
		s.scores.WithLabelValues(evt.Source).Observe(evt.Score)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
