package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from SessionState
		to   SessionState
		want bool
	}{
		{"launched to counting", SessionLaunched, SessionCounting, true},
		{"counting to claimable", SessionCounting, SessionClaimable, true},
		{"claimable to claimed", SessionClaimable, SessionClaimed, true},
		{"launched to expired", SessionLaunched, SessionExpired, true},
		{"counting to expired", SessionCounting, SessionExpired, true},
		{"claimable to expired", SessionClaimable, SessionExpired, true},
		{"launched skips to claimable", SessionLaunched, SessionClaimable, false},
		{"counting skips to claimed", SessionCounting, SessionClaimed, false},
		{"claimed is terminal", SessionClaimed, SessionExpired, false},
		{"expired is terminal", SessionExpired, SessionCounting, false},
		{"claimed cannot be reclaimed", SessionClaimed, SessionClaimed, false},
		{"no backwards transition", SessionClaimable, SessionCounting, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, state := range []SessionState{SessionLaunched, SessionCounting, SessionClaimable} {
		if state.Terminal() {
			t.Errorf("%s should not be terminal", state)
		}
	}
	for _, state := range []SessionState{SessionClaimed, SessionExpired} {
		if !state.Terminal() {
			t.Errorf("%s should be terminal", state)
		}
	}
}
