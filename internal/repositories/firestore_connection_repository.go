package repositories

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConnectionRepository implements ConnectionRepository on Cloud Firestore.
type FirestoreConnectionRepository struct {
	client *firestore.Client
}

// NewFirestoreConnectionRepository creates a new FirestoreConnectionRepository
func NewFirestoreConnectionRepository(client *firestore.Client) *FirestoreConnectionRepository {
	return &FirestoreConnectionRepository{client: client}
}

// firestoreConnection is the stored shape of a connection. Zero timestamps are
// replaced with the commit time by the server.
type firestoreConnection struct {
	FromUserID string    `firestore:"fromUserId"`
	ToUserID   string    `firestore:"toUserId"`
	Status     string    `firestore:"status"`
	Message    string    `firestore:"message"`
	CreatedAt  time.Time `firestore:"createdAt,serverTimestamp"`
	UpdatedAt  time.Time `firestore:"updatedAt,serverTimestamp"`
}

type firestoreMessage struct {
	ConnectionID string    `firestore:"connectionId"`
	SenderID     string    `firestore:"senderId"`
	ReceiverID   string    `firestore:"receiverId"`
	Content      string    `firestore:"content"`
	Timestamp    time.Time `firestore:"timestamp,serverTimestamp"`
	Read         bool      `firestore:"read"`
}

func (r *FirestoreConnectionRepository) connections() *firestore.CollectionRef {
	return r.client.Collection(connectionsCollection)
}

func (r *FirestoreConnectionRepository) messages() *firestore.CollectionRef {
	return r.client.Collection(messagesCollection)
}

func (r *FirestoreConnectionRepository) activePairQuery(fromUserID, toUserID string) firestore.Query {
	return r.connections().
		Where(fieldFromUserID, "==", fromUserID).
		Where(fieldToUserID, "==", toUserID).
		Where(fieldStatus, "in", activeStatusValues())
}

// SendConnectionRequest checks for an active request and creates the new one in a single transaction.
func (r *FirestoreConnectionRepository) SendConnectionRequest(ctx context.Context, fromUserID, toUserID, message string) (string, error) {
	ref := r.connections().NewDoc()
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(r.activePairQuery(fromUserID, toUserID).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errs.New(errs.CodeRequestExists, fromUserID+" -> "+toUserID)
		}
		return tx.Create(ref, firestoreConnection{
			FromUserID: fromUserID,
			ToUserID:   toUserID,
			Status:     string(models.StatusPending),
			Message:    message,
		})
	})
	if err != nil {
		return "", classify(err, "send connection request")
	}
	return ref.ID, nil
}

func (r *FirestoreConnectionRepository) GetConnection(ctx context.Context, fromUserID, toUserID string) (*models.Connection, error) {
	docs, err := r.connections().
		Where(fieldFromUserID, "==", fromUserID).
		Where(fieldToUserID, "==", toUserID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, classify(err, "get connection")
	}
	conns, err := decodeConnections(docs)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, nil
	}
	SortConnections(conns)
	for i := range conns {
		if conns[i].Status.IsActive() {
			return &conns[i], nil
		}
	}
	return &conns[0], nil
}

func (r *FirestoreConnectionRepository) GetConnectionByID(ctx context.Context, id string) (*models.Connection, error) {
	if id == "" {
		return nil, notFound("connection", id)
	}
	doc, err := r.connections().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, notFound("connection", id)
		}
		return nil, classify(err, "get connection")
	}
	c, err := decodeConnection(doc)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *FirestoreConnectionRepository) UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	_, err := r.connections().Doc(id).Update(ctx, []firestore.Update{
		{Path: fieldStatus, Value: string(status)},
		{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
	})
	return classify(err, "update connection status")
}

// ResendConnectionRequest moves a declined request back to pending unless the
// pair already has another active request.
func (r *FirestoreConnectionRepository) ResendConnectionRequest(ctx context.Context, id, message string) error {
	ref := r.connections().Doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return notFound("connection", id)
			}
			return err
		}
		c, err := decodeConnection(doc)
		if err != nil {
			return err
		}
		existing, err := tx.Documents(r.activePairQuery(c.FromUserID, c.ToUserID)).GetAll()
		if err != nil {
			return err
		}
		for _, d := range existing {
			if d.Ref.ID != id {
				return errs.New(errs.CodeRequestExists, c.FromUserID+" -> "+c.ToUserID)
			}
		}
		return tx.Update(ref, []firestore.Update{
			{Path: fieldStatus, Value: string(models.StatusPending)},
			{Path: fieldMessage, Value: message},
			{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp},
		})
	})
	return classify(err, "resend connection request")
}

func (r *FirestoreConnectionRepository) query(q connectionQuery) firestore.Query {
	fq := r.connections().Where(q.field, "==", q.userID)
	if q.declined {
		fq = fq.Where(fieldStatus, "==", string(models.StatusDeclined))
	} else {
		fq = fq.Where(fieldStatus, "in", activeStatusValues())
	}
	return fq.OrderBy(fieldUpdatedAt, firestore.Desc)
}

func (r *FirestoreConnectionRepository) list(ctx context.Context, q connectionQuery) ([]models.Connection, error) {
	docs, err := r.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, classify(err, "list connections")
	}
	return decodeConnections(docs)
}

func (r *FirestoreConnectionRepository) GetUserConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, outgoingQuery(userID))
}

func (r *FirestoreConnectionRepository) GetIncomingConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, incomingQuery(userID))
}

func (r *FirestoreConnectionRepository) GetDeclinedConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, declinedQuery(userID))
}

func (r *FirestoreConnectionRepository) SubscribeToUserConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, outgoingQuery(userID), onChange)
}

func (r *FirestoreConnectionRepository) SubscribeToIncomingConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, incomingQuery(userID), onChange)
}

func (r *FirestoreConnectionRepository) SubscribeToDeclinedConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, declinedQuery(userID), onChange)
}

func (r *FirestoreConnectionRepository) subscribeConnections(ctx context.Context, q connectionQuery, onChange func(ConnectionSnapshot)) Unsubscribe {
	return watchQuery(ctx, r.query(q), func(docs []*firestore.DocumentSnapshot, err error) {
		if err != nil {
			onChange(ConnectionSnapshot{Err: classify(err, "subscribe connections")})
			return
		}
		conns, err := decodeConnections(docs)
		onChange(ConnectionSnapshot{Connections: conns, Err: err})
	})
}

func (r *FirestoreConnectionRepository) SendMessage(ctx context.Context, connectionID, senderID, receiverID, content string) (string, error) {
	ref, _, err := r.messages().Add(ctx, firestoreMessage{
		ConnectionID: connectionID,
		SenderID:     senderID,
		ReceiverID:   receiverID,
		Content:      content,
	})
	if err != nil {
		return "", classify(err, "send message")
	}
	return ref.ID, nil
}

func (r *FirestoreConnectionRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, notFound("message", id)
	}
	doc, err := r.messages().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, notFound("message", id)
		}
		return nil, classify(err, "get message")
	}
	m, err := decodeMessage(doc)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *FirestoreConnectionRepository) messageQuery(connectionID string) firestore.Query {
	return r.messages().Where(fieldConnectionID, "==", connectionID).OrderBy(fieldTimestamp, firestore.Asc)
}

func (r *FirestoreConnectionRepository) GetMessages(ctx context.Context, connectionID string) ([]models.Message, error) {
	docs, err := r.messageQuery(connectionID).Documents(ctx).GetAll()
	if err != nil {
		return nil, classify(err, "get messages")
	}
	return decodeMessages(docs)
}

func (r *FirestoreConnectionRepository) SubscribeToMessages(ctx context.Context, connectionID string, onChange func(MessageSnapshot)) Unsubscribe {
	return watchQuery(ctx, r.messageQuery(connectionID), func(docs []*firestore.DocumentSnapshot, err error) {
		if err != nil {
			onChange(MessageSnapshot{Err: classify(err, "subscribe messages")})
			return
		}
		msgs, err := decodeMessages(docs)
		onChange(MessageSnapshot{Messages: msgs, Err: err})
	})
}

func (r *FirestoreConnectionRepository) MarkMessageAsRead(ctx context.Context, messageID string) error {
	_, err := r.messages().Doc(messageID).Update(ctx, []firestore.Update{
		{Path: fieldRead, Value: true},
	})
	if status.Code(err) == codes.NotFound {
		return notFound("message", messageID)
	}
	return classify(err, "mark message as read")
}

// watchQuery streams query snapshots to deliver until ctx is done or the
// returned Unsubscribe is called. A stream error is delivered and the query is
// listened to again with backoff; its first snapshot replaces the stale data.
func watchQuery(ctx context.Context, q firestore.Query, deliver func([]*firestore.DocumentSnapshot, error)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	go resubscribe(ctx, newWatchBackOff(), func(ctx context.Context, healthy func()) error {
		it := q.Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || stderrors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return nil
				}
				return err
			}
			docs, err := snap.Documents.GetAll()
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				healthy()
			}
			deliver(docs, err)
		}
	}, func(err error) { deliver(nil, err) })

	var once sync.Once
	return func() { once.Do(cancel) }
}

func decodeConnection(doc *firestore.DocumentSnapshot) (models.Connection, error) {
	var fc firestoreConnection
	if err := doc.DataTo(&fc); err != nil {
		return models.Connection{}, classify(err, "decode connection "+doc.Ref.ID)
	}
	return models.Connection{
		ID:         doc.Ref.ID,
		FromUserID: fc.FromUserID,
		ToUserID:   fc.ToUserID,
		Status:     models.ConnectionStatus(fc.Status),
		Message:    fc.Message,
		CreatedAt:  fc.CreatedAt,
		UpdatedAt:  fc.UpdatedAt,
	}, nil
}

func decodeConnections(docs []*firestore.DocumentSnapshot) ([]models.Connection, error) {
	out := make([]models.Connection, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeConnection(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeMessage(doc *firestore.DocumentSnapshot) (models.Message, error) {
	var fm firestoreMessage
	if err := doc.DataTo(&fm); err != nil {
		return models.Message{}, classify(err, "decode message "+doc.Ref.ID)
	}
	return models.Message{
		ID:           doc.Ref.ID,
		ConnectionID: fm.ConnectionID,
		SenderID:     fm.SenderID,
		ReceiverID:   fm.ReceiverID,
		Content:      fm.Content,
		Timestamp:    fm.Timestamp,
		Read:         fm.Read,
	}, nil
}

func decodeMessages(docs []*firestore.DocumentSnapshot) ([]models.Message, error) {
	out := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMessage(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
