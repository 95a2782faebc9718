package model

import "testing"

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  Status
		to    Status
		valid bool
	}{
		// Valid transitions.
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},

		// Invalid transitions.
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusQueued, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("Status(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestStatus_String(t *testing.T) {
	if got := StatusQueued.String(); got != "QUEUED" {
		t.Errorf("String() = %q, want QUEUED", got)
	}
}
