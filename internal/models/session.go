package models

import "time"

// SessionStatus is the lifecycle state of an interview session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// ResourceState tracks the external call and chat channel behind a session.
type ResourceState string

const (
	ResourcesProvisioning    ResourceState = "provisioning"
	ResourcesReady           ResourceState = "ready"
	ResourcesTeardownPending ResourceState = "teardown_pending"
	ResourcesReleased        ResourceState = "released"
)

// Session is a two-party practice interview.
type Session struct {
	ID            string        `json:"id"`
	Problem       string        `json:"problem"`
	Difficulty    string        `json:"difficulty"`
	HostID        int64         `json:"-"`
	ParticipantID int64         `json:"-"`
	Host          *UserRef      `json:"host"`
	Participant   *UserRef      `json:"participant"`
	JoinedAt      *time.Time    `json:"joined_at,omitempty"`
	CallID        string        `json:"call_id"`
	Status        SessionStatus `json:"status"`
	Resources     ResourceState `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
}

// HasParticipant reports whether the second seat was ever taken.
func (s *Session) HasParticipant() bool {
	return s.ParticipantID > 0 || s.JoinedAt != nil
}
