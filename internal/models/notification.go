package models

import "time"

// Notification represents a user notification (PostgreSQL)
type Notification struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Type        string    `json:"type" gorm:"size:30;index"` // connection_request, connection_sent, connection_accepted, new_message
	ActorID     string    `json:"actorId" gorm:"size:128;index"`
	RecipientID string    `json:"recipientId" gorm:"size:128;index"`
	TargetID    string    `json:"targetId"` // connection ID
	Title       string    `json:"title" gorm:"size:100"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"isRead" gorm:"default:false;index"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}
