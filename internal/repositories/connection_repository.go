package repositories

import (
	"context"
	"sort"

	"github.com/anonto42/nearme/backend/internal/models"
)

// Unsubscribe stops a live query. It is safe to call more than once.
type Unsubscribe func()

// ConnectionSnapshot is one delivery of a live connection query: either the
// complete current result set, or Err when the subscription failed.
type ConnectionSnapshot struct {
	Connections []models.Connection
	Err         error
}

// MessageSnapshot is one delivery of a live message query.
type MessageSnapshot struct {
	Messages []models.Message
	Err      error
}

// ConnectionRepository is the only code that reads or writes connection and
// message documents. Failures carry an errs.Code.
type ConnectionRepository interface {
	SendConnectionRequest(ctx context.Context, fromUserID, toUserID, message string) (string, error)
	// GetConnection returns nil, nil when the ordered pair has no connection.
	GetConnection(ctx context.Context, fromUserID, toUserID string) (*models.Connection, error)
	GetConnectionByID(ctx context.Context, id string) (*models.Connection, error)
	UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	ResendConnectionRequest(ctx context.Context, id, message string) error

	GetUserConnections(ctx context.Context, userID string) ([]models.Connection, error)
	GetIncomingConnections(ctx context.Context, userID string) ([]models.Connection, error)
	GetDeclinedConnections(ctx context.Context, userID string) ([]models.Connection, error)

	// Subscriptions deliver the full result set on every relevant change until
	// Unsubscribe is called or ctx is done. Deliveries may coalesce.
	SubscribeToUserConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe
	SubscribeToIncomingConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe
	SubscribeToDeclinedConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe

	SendMessage(ctx context.Context, connectionID, senderID, receiverID, content string) (string, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetMessages(ctx context.Context, connectionID string) ([]models.Message, error)
	SubscribeToMessages(ctx context.Context, connectionID string, onChange func(MessageSnapshot)) Unsubscribe
	MarkMessageAsRead(ctx context.Context, messageID string) error
}

// connectionQuery is one of the three per-user connection queries.
type connectionQuery struct {
	field    string // fromUserId or toUserId
	userID   string
	declined bool
}

func outgoingQuery(userID string) connectionQuery {
	return connectionQuery{field: fieldFromUserID, userID: userID}
}

func incomingQuery(userID string) connectionQuery {
	return connectionQuery{field: fieldToUserID, userID: userID}
}

func declinedQuery(userID string) connectionQuery {
	return connectionQuery{field: fieldFromUserID, userID: userID, declined: true}
}

func (q connectionQuery) matches(c *models.Connection) bool {
	owner := c.FromUserID
	if q.field == fieldToUserID {
		owner = c.ToUserID
	}
	if owner != q.userID {
		return false
	}
	if q.declined {
		return c.Status == models.StatusDeclined
	}
	return c.Status != models.StatusDeclined
}

const (
	connectionsCollection = "connections"
	messagesCollection    = "messages"

	fieldFromUserID   = "fromUserId"
	fieldToUserID     = "toUserId"
	fieldStatus       = "status"
	fieldMessage      = "message"
	fieldUpdatedAt    = "updatedAt"
	fieldCreatedAt    = "createdAt"
	fieldConnectionID = "connectionId"
	fieldTimestamp    = "timestamp"
	fieldRead         = "read"
)

// SortConnections orders by updatedAt descending, then id for a stable result.
func SortConnections(conns []models.Connection) {
	sort.SliceStable(conns, func(i, j int) bool {
		if !conns[i].UpdatedAt.Equal(conns[j].UpdatedAt) {
			return conns[i].UpdatedAt.After(conns[j].UpdatedAt)
		}
		return conns[i].ID < conns[j].ID
	})
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func activeStatusValues() []string {
	out := make([]string, len(models.ActiveStatuses))
	for i, s := range models.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}
