package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/google/uuid"
)

// MemoryConnectionRepository implements ConnectionRepository in process. It
// keeps the store semantics the other backends have: server-assigned ids and
// timestamps, an atomic duplicate check and full-resnapshot subscriptions.
type MemoryConnectionRepository struct {
	mu          sync.Mutex
	connections map[string]*models.Connection
	messages    map[string]*models.Message
	watchers    map[int]*memoryWatcher
	nextWatcher int
	lastTime    time.Time
	now         func() time.Time
}

type memoryWatcher struct {
	topic string
	wake  chan struct{}
}

// NewMemoryConnectionRepository creates an empty in-memory store.
func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{
		connections: make(map[string]*models.Connection),
		messages:    make(map[string]*models.Message),
		watchers:    make(map[int]*memoryWatcher),
		now:         time.Now,
	}
}

// serverTime is strictly increasing so updatedAt always moves forward. Callers hold mu.
func (r *MemoryConnectionRepository) serverTime() time.Time {
	t := r.now().UTC()
	if !t.After(r.lastTime) {
		t = r.lastTime.Add(time.Microsecond)
	}
	r.lastTime = t
	return t
}

func (r *MemoryConnectionRepository) SendConnectionRequest(ctx context.Context, fromUserID, toUserID, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(err, "send connection request")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeForPairLocked(fromUserID, toUserID, "") != nil {
		return "", errs.New(errs.CodeRequestExists, fromUserID+" -> "+toUserID)
	}

	now := r.serverTime()
	c := &models.Connection{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Status:     models.StatusPending,
		Message:    message,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.connections[c.ID] = c
	r.notifyConnectionLocked(c)
	return c.ID, nil
}

func (r *MemoryConnectionRepository) activeForPairLocked(fromUserID, toUserID, exceptID string) *models.Connection {
	for _, c := range r.connections {
		if c.ID != exceptID && c.FromUserID == fromUserID && c.ToUserID == toUserID && c.Status.IsActive() {
			return c
		}
	}
	return nil
}

func (r *MemoryConnectionRepository) GetConnection(ctx context.Context, fromUserID, toUserID string) (*models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, "get connection")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.activeForPairLocked(fromUserID, toUserID, ""); c != nil {
		cp := *c
		return &cp, nil
	}
	var latest *models.Connection
	for _, c := range r.connections {
		if c.FromUserID == fromUserID && c.ToUserID == toUserID {
			if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryConnectionRepository) GetConnectionByID(ctx context.Context, id string) (*models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, "get connection")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return nil, notFound("connection", id)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryConnectionRepository) UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	if err := ctx.Err(); err != nil {
		return classify(err, "update connection status")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return notFound("connection", id)
	}
	if status.IsActive() && !c.Status.IsActive() && r.activeForPairLocked(c.FromUserID, c.ToUserID, id) != nil {
		return errs.New(errs.CodeRequestExists, c.FromUserID+" -> "+c.ToUserID)
	}
	c.Status = status
	c.UpdatedAt = r.serverTime()
	r.notifyConnectionLocked(c)
	return nil
}

func (r *MemoryConnectionRepository) ResendConnectionRequest(ctx context.Context, id, message string) error {
	if err := ctx.Err(); err != nil {
		return classify(err, "resend connection request")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return notFound("connection", id)
	}
	if r.activeForPairLocked(c.FromUserID, c.ToUserID, id) != nil {
		return errs.New(errs.CodeRequestExists, c.FromUserID+" -> "+c.ToUserID)
	}
	c.Status = models.StatusPending
	c.Message = message
	c.UpdatedAt = r.serverTime()
	r.notifyConnectionLocked(c)
	return nil
}

func (r *MemoryConnectionRepository) GetUserConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, outgoingQuery(userID))
}

func (r *MemoryConnectionRepository) GetIncomingConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, incomingQuery(userID))
}

func (r *MemoryConnectionRepository) GetDeclinedConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, declinedQuery(userID))
}

func (r *MemoryConnectionRepository) list(ctx context.Context, q connectionQuery) ([]models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, "list connections")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queryLocked(q), nil
}

func (r *MemoryConnectionRepository) queryLocked(q connectionQuery) []models.Connection {
	out := make([]models.Connection, 0)
	for _, c := range r.connections {
		if q.matches(c) {
			out = append(out, *c)
		}
	}
	SortConnections(out)
	return out
}

func (r *MemoryConnectionRepository) SubscribeToUserConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, outgoingQuery(userID), onChange)
}

func (r *MemoryConnectionRepository) SubscribeToIncomingConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, incomingQuery(userID), onChange)
}

func (r *MemoryConnectionRepository) SubscribeToDeclinedConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, declinedQuery(userID), onChange)
}

func (r *MemoryConnectionRepository) subscribeConnections(ctx context.Context, q connectionQuery, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribe(ctx, connectionTopic(q.field, q.userID), func() {
		r.mu.Lock()
		conns := r.queryLocked(q)
		r.mu.Unlock()
		onChange(ConnectionSnapshot{Connections: conns})
	})
}

func (r *MemoryConnectionRepository) SendMessage(ctx context.Context, connectionID, senderID, receiverID, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(err, "send message")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := &models.Message{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		SenderID:     senderID,
		ReceiverID:   receiverID,
		Content:      content,
		Timestamp:    r.serverTime(),
	}
	r.messages[m.ID] = m
	r.notifyLocked(messageTopic(connectionID))
	return m.ID, nil
}

func (r *MemoryConnectionRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, "get message")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, notFound("message", id)
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryConnectionRepository) GetMessages(ctx context.Context, connectionID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, "get messages")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messagesLocked(connectionID), nil
}

func (r *MemoryConnectionRepository) messagesLocked(connectionID string) []models.Message {
	out := make([]models.Message, 0)
	for _, m := range r.messages {
		if m.ConnectionID == connectionID {
			out = append(out, *m)
		}
	}
	sortMessages(out)
	return out
}

func (r *MemoryConnectionRepository) SubscribeToMessages(ctx context.Context, connectionID string, onChange func(MessageSnapshot)) Unsubscribe {
	return r.subscribe(ctx, messageTopic(connectionID), func() {
		r.mu.Lock()
		msgs := r.messagesLocked(connectionID)
		r.mu.Unlock()
		onChange(MessageSnapshot{Messages: msgs})
	})
}

func (r *MemoryConnectionRepository) MarkMessageAsRead(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return classify(err, "mark message as read")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageID]
	if !ok {
		return notFound("message", messageID)
	}
	if !m.Read {
		m.Read = true
		r.notifyLocked(messageTopic(m.ConnectionID))
	}
	return nil
}

func connectionTopic(field, userID string) string { return "connections:" + field + ":" + userID }
func messageTopic(connectionID string) string    { return "messages:" + connectionID }

// subscribe runs deliver once immediately and again after every write on topic.
// Wakeups coalesce: a watcher that is behind only re-reads the latest state.
func (r *MemoryConnectionRepository) subscribe(ctx context.Context, topic string, deliver func()) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	w := &memoryWatcher{topic: topic, wake: make(chan struct{}, 1)}
	w.wake <- struct{}{}

	r.mu.Lock()
	id := r.nextWatcher
	r.nextWatcher++
	r.watchers[id] = w
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				if ctx.Err() != nil {
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

func (r *MemoryConnectionRepository) notifyConnectionLocked(c *models.Connection) {
	r.notifyLocked(connectionTopic(fieldFromUserID, c.FromUserID))
	r.notifyLocked(connectionTopic(fieldToUserID, c.ToUserID))
}

func (r *MemoryConnectionRepository) notifyLocked(topic string) {
	for _, w := range r.watchers {
		if w.topic != topic {
			continue
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}
