package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConnectionRepository implements ConnectionRepository for MongoDB.
// Live queries use change streams, so the server must run as a replica set.
type MongoConnectionRepository struct {
	connections *mongo.Collection
	messages    *mongo.Collection
}

// NewMongoConnectionRepository creates a new MongoConnectionRepository
func NewMongoConnectionRepository(db *mongo.Database) *MongoConnectionRepository {
	return &MongoConnectionRepository{
		connections: db.Collection(connectionsCollection),
		messages:    db.Collection(messagesCollection),
	}
}

type mongoConnection struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	FromUserID string             `bson:"fromUserId"`
	ToUserID   string             `bson:"toUserId"`
	Status     string             `bson:"status"`
	Message    string             `bson:"message"`
	Active     bool               `bson:"active"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

func (m mongoConnection) toModel() models.Connection {
	return models.Connection{
		ID:         m.ID.Hex(),
		FromUserID: m.FromUserID,
		ToUserID:   m.ToUserID,
		Status:     models.ConnectionStatus(m.Status),
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type mongoMessage struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	ConnectionID string             `bson:"connectionId"`
	SenderID     string             `bson:"senderId"`
	ReceiverID   string             `bson:"receiverId"`
	Content      string             `bson:"content"`
	Timestamp    time.Time          `bson:"timestamp"`
	Read         bool               `bson:"read"`
}

func (m mongoMessage) toModel() models.Message {
	return models.Message{
		ID:           m.ID.Hex(),
		ConnectionID: m.ConnectionID,
		SenderID:     m.SenderID,
		ReceiverID:   m.ReceiverID,
		Content:      m.Content,
		Timestamp:    m.Timestamp,
		Read:         m.Read,
	}
}

// EnsureIndexes creates the partial unique index that makes the duplicate
// check atomic, plus the query indexes.
func (r *MongoConnectionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.connections.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: fieldFromUserID, Value: 1}, {Key: fieldToUserID, Value: 1}},
			Options: options.Index().
				SetName("active_pair").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{Keys: bson.D{{Key: fieldFromUserID, Value: 1}, {Key: fieldUpdatedAt, Value: -1}}},
		{Keys: bson.D{{Key: fieldToUserID, Value: 1}, {Key: fieldUpdatedAt, Value: -1}}},
	})
	if err != nil {
		return classify(err, "create connection indexes")
	}
	_, err = r.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: fieldConnectionID, Value: 1}, {Key: fieldTimestamp, Value: 1}},
	})
	return classify(err, "create message indexes")
}

func objectID(kind, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, notFound(kind, id)
	}
	return oid, nil
}

// SendConnectionRequest inserts through an upsert so both timestamps come from the server clock.
func (r *MongoConnectionRepository) SendConnectionRequest(ctx context.Context, fromUserID, toUserID, message string) (string, error) {
	id := primitive.NewObjectID()
	_, err := r.connections.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$setOnInsert": bson.M{
				fieldFromUserID: fromUserID,
				fieldToUserID:   toUserID,
				fieldStatus:     string(models.StatusPending),
				fieldMessage:    message,
				"active":        true,
			},
			"$currentDate": bson.M{fieldCreatedAt: true, fieldUpdatedAt: true},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", errs.New(errs.CodeRequestExists, fromUserID+" -> "+toUserID)
		}
		return "", classify(err, "send connection request")
	}
	return id.Hex(), nil
}

func (r *MongoConnectionRepository) GetConnection(ctx context.Context, fromUserID, toUserID string) (*models.Connection, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "active", Value: -1}, {Key: fieldUpdatedAt, Value: -1}})
	var mc mongoConnection
	err := r.connections.FindOne(ctx, bson.M{fieldFromUserID: fromUserID, fieldToUserID: toUserID}, opts).Decode(&mc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get connection")
	}
	c := mc.toModel()
	return &c, nil
}

func (r *MongoConnectionRepository) GetConnectionByID(ctx context.Context, id string) (*models.Connection, error) {
	oid, err := objectID("connection", id)
	if err != nil {
		return nil, err
	}
	var mc mongoConnection
	err = r.connections.FindOne(ctx, bson.M{"_id": oid}).Decode(&mc)
	if err == mongo.ErrNoDocuments {
		return nil, notFound("connection", id)
	}
	if err != nil {
		return nil, classify(err, "get connection")
	}
	c := mc.toModel()
	return &c, nil
}

func (r *MongoConnectionRepository) UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	return r.update(ctx, id, bson.M{fieldStatus: string(status), "active": status.IsActive()}, "update connection status")
}

func (r *MongoConnectionRepository) ResendConnectionRequest(ctx context.Context, id, message string) error {
	return r.update(ctx, id, bson.M{
		fieldStatus:  string(models.StatusPending),
		fieldMessage: message,
		"active":     true,
	}, "resend connection request")
}

func (r *MongoConnectionRepository) update(ctx context.Context, id string, set bson.M, op string) error {
	oid, err := objectID("connection", id)
	if err != nil {
		return err
	}
	res, err := r.connections.UpdateOne(ctx, bson.M{"_id": oid}, touchPipeline(set))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.New(errs.CodeRequestExists, "connection "+id)
		}
		return classify(err, op)
	}
	if res.MatchedCount == 0 {
		return notFound("connection", id)
	}
	return nil
}

// touchPipeline applies set and moves updatedAt to the server clock, or one
// millisecond past its previous value when the clock has not moved on.
func touchPipeline(set bson.M) mongo.Pipeline {
	literal := bson.D{}
	for k, v := range set {
		literal = append(literal, bson.E{Key: k, Value: bson.M{"$literal": v}})
	}
	return mongo.Pipeline{
		{{Key: "$set", Value: literal}},
		{{Key: "$set", Value: bson.M{fieldUpdatedAt: bson.M{
			"$max": bson.A{"$$NOW", bson.M{"$add": bson.A{"$" + fieldUpdatedAt, 1}}},
		}}}},
	}
}

func (q connectionQuery) mongoFilter() bson.M {
	filter := bson.M{q.field: q.userID}
	if q.declined {
		filter[fieldStatus] = string(models.StatusDeclined)
	} else {
		filter[fieldStatus] = bson.M{"$ne": string(models.StatusDeclined)}
	}
	return filter
}

func (r *MongoConnectionRepository) list(ctx context.Context, q connectionQuery) ([]models.Connection, error) {
	cursor, err := r.connections.Find(ctx, q.mongoFilter(), options.Find().SetSort(bson.D{{Key: fieldUpdatedAt, Value: -1}}))
	if err != nil {
		return nil, classify(err, "list connections")
	}
	defer cursor.Close(ctx)

	var docs []mongoConnection
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err, "list connections")
	}
	out := make([]models.Connection, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *MongoConnectionRepository) GetUserConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, outgoingQuery(userID))
}

func (r *MongoConnectionRepository) GetIncomingConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, incomingQuery(userID))
}

func (r *MongoConnectionRepository) GetDeclinedConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return r.list(ctx, declinedQuery(userID))
}

func (r *MongoConnectionRepository) SubscribeToUserConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, outgoingQuery(userID), onChange)
}

func (r *MongoConnectionRepository) SubscribeToIncomingConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, incomingQuery(userID), onChange)
}

func (r *MongoConnectionRepository) SubscribeToDeclinedConnections(ctx context.Context, userID string, onChange func(ConnectionSnapshot)) Unsubscribe {
	return r.subscribeConnections(ctx, declinedQuery(userID), onChange)
}

// subscribeConnections watches every change to the user's side of the pair, not
// just matching documents, so a document leaving the result set still triggers a reload.
func (r *MongoConnectionRepository) subscribeConnections(ctx context.Context, q connectionQuery, onChange func(ConnectionSnapshot)) Unsubscribe {
	match := bson.D{{Key: "fullDocument." + q.field, Value: q.userID}}
	return watchCollection(ctx, r.connections, match,
		func(ctx context.Context) {
			conns, err := r.list(ctx, q)
			if ctx.Err() != nil {
				return
			}
			onChange(ConnectionSnapshot{Connections: conns, Err: err})
		},
		func(err error) {
			onChange(ConnectionSnapshot{Err: classify(err, "subscribe connections")})
		},
	)
}

func (r *MongoConnectionRepository) SendMessage(ctx context.Context, connectionID, senderID, receiverID, content string) (string, error) {
	id := primitive.NewObjectID()
	_, err := r.messages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$setOnInsert": bson.M{
				fieldConnectionID: connectionID,
				"senderId":        senderID,
				"receiverId":      receiverID,
				"content":         content,
				fieldRead:         false,
			},
			"$currentDate": bson.M{fieldTimestamp: true},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return "", classify(err, "send message")
	}
	return id.Hex(), nil
}

func (r *MongoConnectionRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	oid, err := objectID("message", id)
	if err != nil {
		return nil, err
	}
	var mm mongoMessage
	err = r.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&mm)
	if err == mongo.ErrNoDocuments {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, classify(err, "get message")
	}
	m := mm.toModel()
	return &m, nil
}

func (r *MongoConnectionRepository) GetMessages(ctx context.Context, connectionID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldTimestamp, Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.messages.Find(ctx, bson.M{fieldConnectionID: connectionID}, opts)
	if err != nil {
		return nil, classify(err, "get messages")
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err, "get messages")
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *MongoConnectionRepository) SubscribeToMessages(ctx context.Context, connectionID string, onChange func(MessageSnapshot)) Unsubscribe {
	match := bson.D{{Key: "fullDocument." + fieldConnectionID, Value: connectionID}}
	return watchCollection(ctx, r.messages, match,
		func(ctx context.Context) {
			msgs, err := r.GetMessages(ctx, connectionID)
			if ctx.Err() != nil {
				return
			}
			onChange(MessageSnapshot{Messages: msgs, Err: err})
		},
		func(err error) {
			onChange(MessageSnapshot{Err: classify(err, "subscribe messages")})
		},
	)
}

func (r *MongoConnectionRepository) MarkMessageAsRead(ctx context.Context, messageID string) error {
	oid, err := objectID("message", messageID)
	if err != nil {
		return err
	}
	res, err := r.messages.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{fieldRead: true}})
	if err != nil {
		return classify(err, "mark message as read")
	}
	if res.MatchedCount == 0 {
		return notFound("message", messageID)
	}
	return nil
}

// watchCollection opens a change stream before the first reload so no write
// between the initial read and the watch is missed. A broken stream is
// reported through fail and reopened with backoff, followed by a fresh reload.
func watchCollection(ctx context.Context, coll *mongo.Collection, match bson.D, reload func(context.Context), fail func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	go resubscribe(ctx, newWatchBackOff(), func(ctx context.Context, healthy func()) error {
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		stream, err := coll.Watch(ctx, mongo.Pipeline{{{Key: "$match", Value: match}}}, opts)
		if err != nil {
			return err
		}
		defer stream.Close(context.Background())

		reload(ctx)
		healthy()
		for stream.Next(ctx) {
			// Drain whatever else is already buffered before re-reading.
			for stream.RemainingBatchLength() > 0 && stream.Next(ctx) {
			}
			reload(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := stream.Err(); err != nil {
			return err
		}
		return errs.New(errs.CodeServerError, "change stream closed")
	}, fail)

	var once sync.Once
	return func() { once.Do(cancel) }
}
