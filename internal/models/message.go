package models

import "time"

// Message is a chat message inside an accepted connection. Messages are append-only;
// only Read changes after creation.
type Message struct {
	ID           string    `json:"id" firestore:"-"`
	ConnectionID string    `json:"connectionId" firestore:"connectionId"`
	SenderID     string    `json:"senderId" firestore:"senderId"`
	ReceiverID   string    `json:"receiverId" firestore:"receiverId"`
	Content      string    `json:"content" firestore:"content"`
	Timestamp    time.Time `json:"timestamp" firestore:"timestamp"`
	Read         bool      `json:"read" firestore:"read"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}
