package models

import "time"

// ConnectionStatus is the lifecycle state of a connection request.
type ConnectionStatus string

const (
	StatusPending  ConnectionStatus = "pending"
	StatusAccepted ConnectionStatus = "accepted"
	StatusDeclined ConnectionStatus = "declined"
	StatusBlocked  ConnectionStatus = "blocked"
)

// ActiveStatuses are the statuses that count against the one-active-request-per-pair rule.
var ActiveStatuses = []ConnectionStatus{StatusPending, StatusAccepted, StatusBlocked}

func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusBlocked:
		return true
	}
	return false
}

// IsActive reports whether a connection in this status blocks a new request for the same pair.
func (s ConnectionStatus) IsActive() bool {
	return s.Valid() && s != StatusDeclined
}

// CanTransitionTo reports whether next is reachable from s. Transitions are
// one-way except declined -> pending, which is a resend.
func (s ConnectionStatus) CanTransitionTo(next ConnectionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusDeclined || next == StatusBlocked
	case StatusAccepted:
		return next == StatusBlocked
	case StatusDeclined:
		return next == StatusPending
	}
	return false
}

// Connection is a request (and, once accepted, a link) between two users.
// FromUserID and ToUserID never change after creation.
type Connection struct {
	ID         string           `json:"id" firestore:"-"`
	FromUserID string           `json:"fromUserId" firestore:"fromUserId"`
	ToUserID   string           `json:"toUserId" firestore:"toUserId"`
	Status     ConnectionStatus `json:"status" firestore:"status"`
	Message    string           `json:"message" firestore:"message"`
	CreatedAt  time.Time        `json:"createdAt" firestore:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt" firestore:"updatedAt"`
}

// Involves reports whether userID is one of the two participants.
func (c *Connection) Involves(userID string) bool {
	return userID != "" && (c.FromUserID == userID || c.ToUserID == userID)
}

// Other returns the participant that is not userID.
func (c *Connection) Other(userID string) string {
	if c.FromUserID == userID {
		return c.ToUserID
	}
	return c.FromUserID
}

// CreateConnectionRequest defines the request body for sending a connection request
type CreateConnectionRequest struct {
	ToUserID string `json:"toUserId" validate:"required,max=128"`
	Message  string `json:"message" validate:"max=500"`
}

// ResendConnectionRequest defines the request body for resending a declined request
type ResendConnectionRequest struct {
	Message string `json:"message" validate:"max=500"`
}
