// Package session owns the lifecycle of the single active session: creation,
// activity refresh, expiry evaluation, explicit destruction, and an
// inactivity watchdog that force-ends the session and clears encrypted
// storage.
package session

import (
	"time"
)

// SecurityLevel classifies how a session is stored and treated.
type SecurityLevel string

const (
	// LevelStandard persists the session encrypted in the durable medium.
	LevelStandard SecurityLevel = "standard"
	// LevelHigh is stored like standard but flagged for stricter handling
	// by consumers.
	LevelHigh SecurityLevel = "high"
	// LevelMaximal keeps the session in memory only; it never reaches the
	// durable medium and dies with the process.
	LevelMaximal SecurityLevel = "maximal"
)

// Session is the record of the single active session.
type Session struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Email         string        `json:"email,omitempty"`
	LoginMethod   string        `json:"loginMethod,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastActivity  time.Time     `json:"lastActivity"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	IsActive      bool          `json:"isActive"`
	SecurityLevel SecurityLevel `json:"securityLevel"`
}

// structurallyValid is the single validation gate for session records read
// back from storage. A record failing it is treated as no session at all and
// destroyed, so a partially-formed record can never be observed twice.
func structurallyValid(s Session) bool {
	if s.ID == "" {
		return false
	}
	if s.CreatedAt.IsZero() || s.LastActivity.IsZero() || s.ExpiresAt.IsZero() {
		return false
	}
	switch s.SecurityLevel {
	case LevelStandard, LevelHigh, LevelMaximal:
	default:
		return false
	}
	return true
}

// expired reports whether the session is past its expiry or inactive.
func expired(s Session, now time.Time) bool {
	return !s.IsActive || now.After(s.ExpiresAt)
}
