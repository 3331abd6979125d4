package core

// Phase is one of the five stages of the ORPAR cognitive cycle, or the zero
// value for "not in an active cycle".
type Phase string

const (
	PhaseNone    Phase = ""
	PhaseObserve Phase = "Observe"
	PhaseReason  Phase = "Reason"
	PhasePlan    Phase = "Plan"
	PhaseAct     Phase = "Act"
	PhaseReflect Phase = "Reflect"
)

// AllPhases enumerates the five named phases in cycle order.
var AllPhases = []Phase{PhaseObserve, PhaseReason, PhasePlan, PhaseAct, PhaseReflect}

// Valid reports whether p is one of the five named phases or PhaseNone.
func (p Phase) Valid() bool {
	switch p {
	case PhaseNone, PhaseObserve, PhaseReason, PhasePlan, PhaseAct, PhaseReflect:
		return true
	default:
		return false
	}
}

// Next returns the phase that follows p in the closure
// Observe -> Reason -> Plan -> Act -> Reflect -> Observe ..., used to validate
// the transition table in the loop engine (spec §4.G, §8 property 1).
func (p Phase) Next() Phase {
	switch p {
	case PhaseObserve:
		return PhaseReason
	case PhaseReason:
		return PhasePlan
	case PhasePlan:
		return PhaseAct
	case PhaseAct:
		return PhaseReflect
	case PhaseReflect:
		return PhaseObserve
	default:
		return PhaseNone
	}
}
