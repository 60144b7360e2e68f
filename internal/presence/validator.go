package presence

// Policy is the slice of settings the validator depends on, snapshotted once
// per request or batch so a concurrent settings write cannot split a batch's
// validation behavior.
type Policy struct {
	FirstEntryMustBeIn bool
}

// Decision is the validator's answer for one proposed event.
type Decision struct {
	Accepted     bool
	Reason       RejectReason
	CurrentState State
}

// Validate decides whether proposed is a legal transition from last.
// last is StateUnknown when the person has no prior event. Validate is pure:
// it never reads or writes state, so every entry point (manual, bulk, CSV,
// auto) shares the exact same rules.
func Validate(last, proposed State, pol Policy) Decision {
	if !proposed.Valid() {
		return Decision{Reason: ReasonInvalidType, CurrentState: last}
	}

	if last == StateUnknown {
		if proposed == StateOut && pol.FirstEntryMustBeIn {
			return Decision{Reason: ReasonFirstEntryMustBeIn, CurrentState: last}
		}
		// An initial OUT with the rule disabled is accepted; the stored
		// event is later flagged OUT_WITHOUT_IN by the reconciliation queue.
		return Decision{Accepted: true, CurrentState: last}
	}

	if last == proposed {
		return Decision{Reason: ReasonDuplicateState, CurrentState: last}
	}
	return Decision{Accepted: true, CurrentState: last}
}
