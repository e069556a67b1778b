package collect

// ErrorClass groups taxonomy names for escalation decisions.
type ErrorClass int

// Error classes, ordered by escalation urgency.
const (
	// ClassTransient covers generic network failures and 5xx responses.
	// They escalate only after sustained repetition.
	ClassTransient ErrorClass = iota
	// ClassBlocking covers explicit anti-bot signals. They escalate at the
	// policy threshold.
	ClassBlocking
	// ClassStructural covers extraction/validation failures. They feed a
	// dedicated counter handled by the repair collaborator, never the
	// blocking circuit.
	ClassStructural
)

// ClassifyType maps a taxonomy name (see ErrorTypeOf) to its class.
func ClassifyType(errType string) ErrorClass {
	switch errType {
	case "BlockedError":
		return ClassBlocking
	case "DataExtractionError", "ValidationError":
		return ClassStructural
	default:
		return ClassTransient
	}
}

// ladder is the ordered escalation path. WEB_UNLOCKER sources sit on a
// parallel branch and never traverse it; BLOCKED is reachable from any
// rung via the circuit breaker, not via the ladder.
var ladder = []Mode{ModeDirect, ModeDirectSlow, ModeProxy, ModeBrowser}

// ladderGates maps each rung to the policy flag that permits it. Keeping
// the transition rules as data lets them be tested independently of the
// state machine's outcome bookkeeping.
var ladderGates = map[Mode]func(SourcePolicy) bool{
	ModeDirect:     func(SourcePolicy) bool { return true },
	ModeDirectSlow: func(p SourcePolicy) bool { return p.AllowSlow },
	ModeProxy:      func(p SourcePolicy) bool { return p.AllowProxy },
	ModeBrowser:    func(p SourcePolicy) bool { return p.AllowBrowser },
}

// NextMode returns the next rung the policy permits after current, skipping
// rungs the policy forbids. ok is false when no further rung exists, which
// is the signal to block instead of escalate.
func NextMode(current Mode, p SourcePolicy) (Mode, bool) {
	idx := -1
	for i, m := range ladder {
		if m == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Off-ladder modes (web_unlocker, blocked) have no next rung.
		return current, false
	}
	for _, m := range ladder[idx+1:] {
		if ladderGates[m](p) {
			return m, true
		}
	}
	return current, false
}

// OnLadder reports whether the mode participates in escalation.
func OnLadder(m Mode) bool {
	for _, rung := range ladder {
		if rung == m {
			return true
		}
	}
	return false
}
