package messaging

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateComposed, StatePersisted, true},
		{StateComposed, StateDelivered, false},
		{StatePersisted, StateDelivered, true},
		{StatePersisted, StatePending, true},
		{StatePersisted, StateRead, false},
		{StatePending, StateDelivered, true},
		{StatePending, StateRead, true},
		{StateDelivered, StateRead, true},
		{StateDelivered, StatePending, false},
		{StateRead, StateRead, true},
		{StateRead, StateDelivered, false},
		{StateRead, StatePending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StatePending.String() != "pending" || StateRead.String() != "read" {
		t.Fatalf("unexpected names: %s %s", StatePending, StateRead)
	}
	if State(42).String() != "unknown" {
		t.Fatalf("out of range state should be unknown")
	}
}
