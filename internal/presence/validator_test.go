package presence

import "testing"

func TestValidate(t *testing.T) {
	strict := Policy{FirstEntryMustBeIn: true}
	lenient := Policy{FirstEntryMustBeIn: false}

	tests := []struct {
		name       string
		last       State
		proposed   State
		pol        Policy
		wantAccept bool
		wantReason RejectReason
	}{
		{name: "first IN strict", last: StateUnknown, proposed: StateIn, pol: strict, wantAccept: true},
		{name: "first IN lenient", last: StateUnknown, proposed: StateIn, pol: lenient, wantAccept: true},
		{name: "first OUT strict", last: StateUnknown, proposed: StateOut, pol: strict, wantReason: ReasonFirstEntryMustBeIn},
		{name: "first OUT lenient", last: StateUnknown, proposed: StateOut, pol: lenient, wantAccept: true},
		{name: "IN then IN", last: StateIn, proposed: StateIn, pol: strict, wantReason: ReasonDuplicateState},
		{name: "IN then OUT", last: StateIn, proposed: StateOut, pol: strict, wantAccept: true},
		{name: "OUT then OUT", last: StateOut, proposed: StateOut, pol: strict, wantReason: ReasonDuplicateState},
		{name: "OUT then IN", last: StateOut, proposed: StateIn, pol: strict, wantAccept: true},
		{name: "duplicate ignores policy", last: StateIn, proposed: StateIn, pol: lenient, wantReason: ReasonDuplicateState},
		{name: "garbage type", last: StateIn, proposed: State("SIDEWAYS"), pol: strict, wantReason: ReasonInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := Validate(tt.last, tt.proposed, tt.pol)
			if dec.Accepted != tt.wantAccept {
				t.Fatalf("Accepted = %v, want %v", dec.Accepted, tt.wantAccept)
			}
			if !tt.wantAccept && dec.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", dec.Reason, tt.wantReason)
			}
			if dec.CurrentState != tt.last {
				t.Errorf("CurrentState = %s, want %s", dec.CurrentState, tt.last)
			}
		})
	}
}

func TestValidateIsPure(t *testing.T) {
	// Same inputs, same answer, no hidden state.
	for i := 0; i < 3; i++ {
		dec := Validate(StateIn, StateIn, Policy{})
		if dec.Accepted || dec.Reason != ReasonDuplicateState {
			t.Fatalf("call %d: got %+v", i, dec)
		}
	}
}
