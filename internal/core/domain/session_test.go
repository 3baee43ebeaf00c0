package domain

import (
	"strings"
	"testing"
)

func TestNewSession(t *testing.T) {
	session, err := NewSession("127.0.0.1:50000")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if !strings.HasPrefix(session.ID, SessionIDPrefix) {
		t.Errorf("ID should have prefix %q, got %q", SessionIDPrefix, session.ID)
	}
	if len(session.ID) != 31 {
		t.Errorf("ID length = %d, want 31", len(session.ID))
	}
	if !IsValidSessionID(session.ID) {
		t.Errorf("IsValidSessionID(%q) = false", session.ID)
	}
	if session.State != AuthNone {
		t.Errorf("State = %v, want NONE", session.State)
	}
	if session.User != nil || session.Device != nil {
		t.Error("new session should not reference a user or device")
	}
	if session.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestGenerateSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("GenerateSessionID() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "iots-01arz3ndektsv4rrffq69g5fav", true},
		{"uppercase normalized", "IOTS-01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
		{"wrong prefix", "tmss-01arz3ndektsv4rrffq69g5fav", false},
		{"too short", "iots-01arz3", false},
		{"invalid ulid chars", "iots-01arz3ndektsv4rrffq69g5fa!", false},
		{"excluded letter u", "iots-01arz3ndektsv4rrffq69g5fau", false},
		{"excluded letter l", "iots-01arz3ndektsv4rrffq69g5fal", false},
		{"space inside", "iots-01arz3ndektsv4rr fq69g5fav", false},
		{"timestamp overflow", "iots-81arz3ndektsv4rrffq69g5fav", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidSessionID(tt.id); got != tt.want {
				t.Errorf("IsValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestSession_AdvanceOnlyForward(t *testing.T) {
	s := &Session{}

	steps := []struct {
		to          AuthState
		wantChanged bool
		wantState   AuthState
	}{
		{AuthUser, true, AuthUser},
		{AuthNone, false, AuthUser},
		{AuthUser, false, AuthUser},
		{AuthUserDevice, true, AuthUserDevice},
		{AuthUser, false, AuthUserDevice},
		{AuthComplete, true, AuthComplete},
		{AuthUserDevice, false, AuthComplete},
	}

	for i, step := range steps {
		changed := s.Advance(step.to)
		if changed != step.wantChanged {
			t.Errorf("step %d: Advance(%v) changed = %v, want %v", i, step.to, changed, step.wantChanged)
		}
		if s.State != step.wantState {
			t.Errorf("step %d: State = %v, want %v", i, s.State, step.wantState)
		}
	}
}

func TestSession_HoldsDevice(t *testing.T) {
	dev := NewDevice("alice", 7)

	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{"no device", Session{State: AuthComplete}, false},
		{"device but state USER", Session{Device: dev, State: AuthUser}, false},
		{"device and USER_DEVICE", Session{Device: dev, State: AuthUserDevice}, true},
		{"device and COMPLETE", Session{Device: dev, State: AuthComplete}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.HoldsDevice(); got != tt.want {
				t.Errorf("HoldsDevice() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthState_String(t *testing.T) {
	tests := map[AuthState]string{
		AuthNone:       "NONE",
		AuthUser:       "USER",
		AuthUserDevice: "USER_DEVICE",
		AuthComplete:   "COMPLETE",
		AuthState(42):  "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("AuthState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
