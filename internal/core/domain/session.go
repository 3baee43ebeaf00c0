package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionIDPrefix is the prefix for session IDs.
const SessionIDPrefix = "iots-"

// AuthState tracks how far a connection has progressed through the
// authentication handshake. States only move forward.
type AuthState int

const (
	AuthNone AuthState = iota
	AuthUser
	AuthUserDevice
	AuthComplete
)

// String implements fmt.Stringer.
func (s AuthState) String() string {
	switch s {
	case AuthNone:
		return "NONE"
	case AuthUser:
		return "USER"
	case AuthUserDevice:
		return "USER_DEVICE"
	case AuthComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Session is the per-connection state. It references the User and Device
// held by the registry; it never owns them.
//
// Fields are written by the registry under its lock.
type Session struct {
	ID        string
	Remote    string
	User      *User
	Device    *Device
	State     AuthState
	CreatedAt time.Time
	Closed    bool
}

// NewSession creates a session in state NONE.
func NewSession(remote string) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		Remote:    remote,
		State:     AuthNone,
		CreatedAt: time.Now(),
	}, nil
}

// GenerateSessionID generates a new session ID using ULID.
// Format: iots-{ulid_lowercase}, 31 characters total.
func GenerateSessionID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return SessionIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidSessionID checks if a string is a well-formed session ID.
func IsValidSessionID(id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, SessionIDPrefix) || len(id) != len(SessionIDPrefix)+ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(id[len(SessionIDPrefix):]))
	return err == nil
}

// Advance moves the session to state to. It refuses to move backwards and
// reports whether the state changed.
func (s *Session) Advance(to AuthState) bool {
	if to <= s.State {
		return false
	}
	s.State = to
	return true
}

// HoldsDevice reports whether the session has claimed its device.
func (s *Session) HoldsDevice() bool {
	return s.Device != nil && s.State >= AuthUserDevice
}

// UserName returns the authenticated user name, or "".
func (s *Session) UserName() string {
	if s.User == nil {
		return ""
	}
	return s.User.Name
}

// DeviceName returns the claimed device name, or "".
func (s *Session) DeviceName() string {
	if s.Device == nil {
		return ""
	}
	return s.Device.Name()
}
