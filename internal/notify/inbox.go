package notify

import (
	"context"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
)

// InboxNotifier stores events in the user's notification inbox. Error events
// are transient and are not stored.
type InboxNotifier struct {
	repo repositories.NotificationRepository
}

func NewInboxNotifier(repo repositories.NotificationRepository) *InboxNotifier {
	return &InboxNotifier{repo: repo}
}

func (n *InboxNotifier) Notify(_ context.Context, e Event) error {
	if e.Type == EventError || e.UserID == "" {
		return nil
	}
	return n.repo.CreateNotification(&models.Notification{
		Type:        string(e.Type),
		ActorID:     e.ActorID,
		RecipientID: e.UserID,
		TargetID:    e.TargetID,
		Title:       e.Title,
		Message:     e.Message,
		CreatedAt:   e.At,
	})
}
