package model

import (
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusRunning, false},
		{"bogus", StatusRunning, false},
	}

	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		if got := Terminal(tt.status); got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValidStepStatus(t *testing.T) {
	for _, s := range []string{StepPending, StepRunning, StepCompleted, StepFailed} {
		if !ValidStepStatus(s) {
			t.Errorf("ValidStepStatus(%q) = false, want true", s)
		}
	}
	if ValidStepStatus("cancelled") {
		t.Error("ValidStepStatus(\"cancelled\") = true, want false")
	}
	if ValidStepStatus("") {
		t.Error("ValidStepStatus(\"\") = true, want false")
	}
}

func TestCloneIsDeep(t *testing.T) {
	started := time.Now().UTC()
	orig := &Task{
		ID:        NewID(),
		Name:      "rebuild",
		Status:    StatusRunning,
		Steps:     []Step{{Name: "prepare", Status: StepCompleted}, {Name: "install", Status: StepRunning}},
		StartedAt: &started,
	}

	cp := orig.Clone()
	cp.Steps[0].Status = StepFailed
	*cp.StartedAt = cp.StartedAt.Add(time.Hour)

	if orig.Steps[0].Status != StepCompleted {
		t.Error("mutating clone's steps affected the original")
	}
	if !orig.StartedAt.Equal(started) {
		t.Error("mutating clone's StartedAt affected the original")
	}
}
