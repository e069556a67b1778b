// Package events carries orchestrator lifecycle events to pluggable sinks
// (logs, Prometheus, Pub/Sub) without blocking the collection path.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/sharkted/collector/internal/collect"
)

// Kind labels what happened.
type Kind string

// Event kinds emitted by the orchestrator and its subsystems.
const (
	KindOutcomeRecorded    Kind = "outcome_recorded"
	KindModeEscalated      Kind = "mode_escalated"
	KindSourceBlocked      Kind = "source_blocked"
	KindSourceUnblocked    Kind = "source_unblocked"
	KindProxyTierEscalated Kind = "proxy_tier_escalated"
	KindStructuralBreakage Kind = "structural_breakage"
	KindItemAdmitted       Kind = "item_admitted"
	KindItemRejected       Kind = "item_rejected"
)

// Event is a single orchestrator occurrence. Only the fields relevant to
// the Kind are set.
type Event struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Time   time.Time `json:"time"`
	Source string    `json:"source"`

	Mode     collect.Mode `json:"mode,omitempty"`
	FromMode collect.Mode `json:"from_mode,omitempty"`
	ToMode   collect.Mode `json:"to_mode,omitempty"`

	Success    bool          `json:"success,omitempty"`
	ErrorType  string        `json:"error_type,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	FromTier collect.ProxyTier `json:"from_tier,omitempty"`
	ToTier   collect.ProxyTier `json:"to_tier,omitempty"`

	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Reason       string     `json:"reason,omitempty"`

	Score float64 `json:"score,omitempty"`
	URL   string  `json:"url,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(kind Kind, source string) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Time:   time.Now().UTC(),
		Source: source,
	}
}
