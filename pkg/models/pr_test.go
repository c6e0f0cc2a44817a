package models

import "testing"

// TestPRStatus_CanTransitionTo asserts testable property 7 of §8 (and
// invariant 7 of §3): PullRequest.status progresses monotonically along
// open->approved->merged, and closed absorbs any non-merged state.
func TestPRStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to PRStatus
		want     bool
	}{
		{PRStatusOpen, PRStatusApproved, true},
		{PRStatusOpen, PRStatusMerged, false},
		{PRStatusOpen, PRStatusClosed, true},
		{PRStatusApproved, PRStatusMerged, true},
		{PRStatusApproved, PRStatusOpen, false},
		{PRStatusApproved, PRStatusClosed, true},
		{PRStatusMerged, PRStatusClosed, false},
		{PRStatusMerged, PRStatusApproved, false},
		{PRStatusClosed, PRStatusOpen, false},
	}
	for _, c := range cases {
		got := c.from.CanTransitionTo(c.to)
		if got != c.want {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPRStatus_Valid(t *testing.T) {
	for _, s := range []PRStatus{PRStatusOpen, PRStatusApproved, PRStatusMerged, PRStatusClosed} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if PRStatus("bogus").Valid() {
		t.Error("expected an unknown status to be invalid")
	}
}
