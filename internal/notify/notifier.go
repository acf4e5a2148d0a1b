// Package notify turns connection activity into user-facing events and fans
// them out to the configured sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nearme/backend/pkg/errs"
)

type EventType string

const (
	EventConnectionRequest  EventType = "connection_request"
	EventConnectionSent     EventType = "connection_sent"
	EventConnectionAccepted EventType = "connection_accepted"
	EventNewMessage         EventType = "new_message"
	EventError              EventType = "error"
)

// Event is addressed to UserID. ActorID is the other user involved, if any.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	ActorID   string    `json:"actorId,omitempty"`
	TargetID  string    `json:"targetId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Action    string    `json:"action,omitempty"`
	Code      errs.Code `json:"code,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// ConnectionRequest tells userID that fromName wants to connect.
func ConnectionRequest(userID, fromUserID, fromName, connectionID string) Event {
	return Event{
		Type:     EventConnectionRequest,
		UserID:   userID,
		ActorID:  fromUserID,
		TargetID: connectionID,
		Title:    "New Connection Request",
		Message:  fmt.Sprintf("%s wants to connect with you!", fromName),
		Action:   "Accept",
		At:       time.Now().UTC(),
	}
}

func ConnectionSent(userID, toUserID, toName, connectionID string) Event {
	return Event{
		Type:     EventConnectionSent,
		UserID:   userID,
		ActorID:  toUserID,
		TargetID: connectionID,
		Title:    "Connection Sent",
		Message:  fmt.Sprintf("Connection request sent to %s!", toName),
		Action:   "OK",
		At:       time.Now().UTC(),
	}
}

// ConnectionAccepted tells the requester userID that accepterName said yes.
func ConnectionAccepted(userID, accepterID, accepterName, connectionID string) Event {
	return Event{
		Type:     EventConnectionAccepted,
		UserID:   userID,
		ActorID:  accepterID,
		TargetID: connectionID,
		Title:    "Connection Accepted!",
		Message:  fmt.Sprintf("%s has accepted your connection request. You can now chat!", accepterName),
		Action:   "Great!",
		At:       time.Now().UTC(),
	}
}

func NewMessage(userID, senderID, senderName, content, connectionID string) Event {
	return Event{
		Type:     EventNewMessage,
		UserID:   userID,
		ActorID:  senderID,
		TargetID: connectionID,
		Title:    "New Message",
		Message:  fmt.Sprintf("%s: %s", senderName, content),
		Action:   "Reply",
		At:       time.Now().UTC(),
	}
}

// Failure describes err to userID using its friendly text.
func Failure(userID string, err error) Event {
	alert := errs.AlertOf(err)
	return Event{
		Type:      EventError,
		UserID:    userID,
		Title:     alert.Title,
		Message:   alert.Message,
		Action:    alert.Action,
		Code:      alert.Code,
		Retryable: alert.Retryable,
		At:        time.Now().UTC(),
	}
}

// Multi fans an event out to every notifier. All are tried; errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errList []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
