package services

import (
	"context"
	"strings"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/notify"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"go.uber.org/zap"
)

// ConnectionService applies the connection rules on behalf of the current user.
// Every failure is logged, sent to the notifier as an error event and returned.
type ConnectionService struct {
	repo     repositories.ConnectionRepository
	names    *NameResolver
	notifier notify.Notifier
	log      *zap.Logger
}

func NewConnectionService(repo repositories.ConnectionRepository, names *NameResolver, notifier notify.Notifier, log *zap.Logger) *ConnectionService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionService{repo: repo, names: names, notifier: notifier, log: log.Named("connections")}
}

func (s *ConnectionService) emit(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.log.Warn("notify failed", zap.String("type", string(e.Type)), zap.String("user", e.UserID), zap.Error(err))
	}
}

func (s *ConnectionService) fail(ctx context.Context, userID, op string, err error) error {
	s.log.Warn("operation failed",
		zap.String("op", op),
		zap.String("user", userID),
		zap.String("code", string(errs.CodeOf(err))),
		zap.Error(err),
	)
	s.emit(ctx, notify.Failure(userID, err))
	return err
}

func requireUser(userID string) error {
	if userID == "" {
		return errs.New(errs.CodeUnauthenticated, "no current user")
	}
	return nil
}

// SendConnectionRequest creates a pending request from current to toUserID.
// The recipient is notified once per successful write, whether or not they
// have a session open.
func (s *ConnectionService) SendConnectionRequest(ctx context.Context, current, toUserID, message string) (*models.Connection, error) {
	const op = "send connection request"
	if err := requireUser(current); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	toUserID = strings.TrimSpace(toUserID)
	if toUserID == "" {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeRequiredField, "toUserId"))
	}
	if toUserID == current {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeSelfRequest, current))
	}

	id, err := s.repo.SendConnectionRequest(ctx, current, toUserID, strings.TrimSpace(message))
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	conn, err := s.repo.GetConnectionByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}

	s.log.Info("connection request sent", zap.String("id", id), zap.String("from", current), zap.String("to", toUserID))
	s.emit(ctx, notify.ConnectionSent(current, toUserID, s.names.DisplayName(ctx, toUserID), id))
	s.emit(ctx, notify.ConnectionRequest(toUserID, current, s.names.DisplayName(ctx, current), id))
	return conn, nil
}

// respond moves a pending request addressed to current into next.
func (s *ConnectionService) respond(ctx context.Context, current, id string, next models.ConnectionStatus, op string) (*models.Connection, error) {
	if err := requireUser(current); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	conn, err := s.repo.GetConnectionByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	if conn.ToUserID != current {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeUnauthorized, "only the recipient can respond to "+id))
	}
	if conn.Status != models.StatusPending || !conn.Status.CanTransitionTo(next) {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeInvalidTransition, string(conn.Status)+" -> "+string(next)))
	}
	if err := s.repo.UpdateConnectionStatus(ctx, id, next); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	updated, err := s.repo.GetConnectionByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	s.log.Info("connection "+string(next), zap.String("id", id), zap.String("by", current))
	return updated, nil
}

func (s *ConnectionService) AcceptConnection(ctx context.Context, current, id string) (*models.Connection, error) {
	conn, err := s.respond(ctx, current, id, models.StatusAccepted, "accept connection")
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.ConnectionAccepted(conn.FromUserID, current, s.names.DisplayName(ctx, current), id))
	return conn, nil
}

func (s *ConnectionService) DeclineConnection(ctx context.Context, current, id string) (*models.Connection, error) {
	return s.respond(ctx, current, id, models.StatusDeclined, "decline connection")
}

// ResendConnectionRequest lets the original requester turn a declined request
// back into a pending one with a new message.
func (s *ConnectionService) ResendConnectionRequest(ctx context.Context, current, id, message string) (*models.Connection, error) {
	const op = "resend connection request"
	if err := requireUser(current); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	conn, err := s.repo.GetConnectionByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	if conn.FromUserID != current {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeUnauthorized, "only the requester can resend "+id))
	}
	if !conn.Status.CanTransitionTo(models.StatusPending) {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeInvalidTransition, string(conn.Status)+" -> pending"))
	}
	if err := s.repo.ResendConnectionRequest(ctx, id, strings.TrimSpace(message)); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	updated, err := s.repo.GetConnectionByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}

	s.log.Info("connection request resent", zap.String("id", id), zap.String("from", current))
	s.emit(ctx, notify.ConnectionSent(current, conn.ToUserID, s.names.DisplayName(ctx, conn.ToUserID), id))
	s.emit(ctx, notify.ConnectionRequest(conn.ToUserID, current, s.names.DisplayName(ctx, current), id))
	return updated, nil
}

// participantConnection loads connectionID and checks current is one of its users.
func (s *ConnectionService) participantConnection(ctx context.Context, current, connectionID string) (*models.Connection, error) {
	if err := requireUser(current); err != nil {
		return nil, err
	}
	conn, err := s.repo.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Involves(current) {
		return nil, errs.New(errs.CodeUnauthorized, current+" is not part of "+connectionID)
	}
	return conn, nil
}

// SendMessage posts content to an accepted connection; the receiver is the other participant.
func (s *ConnectionService) SendMessage(ctx context.Context, current, connectionID, content string) (*models.Message, error) {
	const op = "send message"
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeRequiredField, "content"))
	}
	conn, err := s.participantConnection(ctx, current, connectionID)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	if conn.Status != models.StatusAccepted {
		return nil, s.fail(ctx, current, op, errs.New(errs.CodeNotConnected, connectionID+" is "+string(conn.Status)))
	}

	receiver := conn.Other(current)
	id, err := s.repo.SendMessage(ctx, connectionID, current, receiver, content)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}

	s.emit(ctx, notify.NewMessage(receiver, current, s.names.DisplayName(ctx, current), content, connectionID))
	return msg, nil
}

// MarkMessageAsRead is only allowed for the message's receiver.
func (s *ConnectionService) MarkMessageAsRead(ctx context.Context, current, messageID string) error {
	const op = "mark message as read"
	if err := requireUser(current); err != nil {
		return s.fail(ctx, current, op, err)
	}
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return s.fail(ctx, current, op, err)
	}
	if msg.ReceiverID != current {
		return s.fail(ctx, current, op, errs.New(errs.CodeUnauthorized, "only the receiver can mark "+messageID))
	}
	if msg.Read {
		return nil
	}
	if err := s.repo.MarkMessageAsRead(ctx, messageID); err != nil {
		return s.fail(ctx, current, op, err)
	}
	return nil
}

func (s *ConnectionService) ListMessages(ctx context.Context, current, connectionID string) ([]models.Message, error) {
	if _, err := s.participantConnection(ctx, current, connectionID); err != nil {
		return nil, s.fail(ctx, current, "list messages", err)
	}
	msgs, err := s.repo.GetMessages(ctx, connectionID)
	if err != nil {
		return nil, s.fail(ctx, current, "list messages", err)
	}
	return msgs, nil
}

// SubscribeToMessages streams a connection's messages to one of its participants.
func (s *ConnectionService) SubscribeToMessages(ctx context.Context, current, connectionID string, onChange func(repositories.MessageSnapshot)) (repositories.Unsubscribe, error) {
	if _, err := s.participantConnection(ctx, current, connectionID); err != nil {
		return nil, s.fail(ctx, current, "subscribe to messages", err)
	}
	return s.repo.SubscribeToMessages(ctx, connectionID, onChange), nil
}

func (s *ConnectionService) ListOutgoing(ctx context.Context, current string) ([]models.Connection, error) {
	return s.list(ctx, current, "list outgoing", s.repo.GetUserConnections)
}

func (s *ConnectionService) ListIncoming(ctx context.Context, current string) ([]models.Connection, error) {
	return s.list(ctx, current, "list incoming", s.repo.GetIncomingConnections)
}

func (s *ConnectionService) ListDeclined(ctx context.Context, current string) ([]models.Connection, error) {
	return s.list(ctx, current, "list declined", s.repo.GetDeclinedConnections)
}

func (s *ConnectionService) list(ctx context.Context, current, op string, get func(context.Context, string) ([]models.Connection, error)) ([]models.Connection, error) {
	if err := requireUser(current); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	conns, err := get(ctx, current)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	return conns, nil
}

// ListConnections is the one-shot equivalent of a session view: outgoing and
// incoming merged, newest first.
func (s *ConnectionService) ListConnections(ctx context.Context, current string) ([]models.Connection, error) {
	out, err := s.ListOutgoing(ctx, current)
	if err != nil {
		return nil, err
	}
	in, err := s.ListIncoming(ctx, current)
	if err != nil {
		return nil, err
	}
	return MergeConnections(out, in), nil
}

// GetConnectionWith returns the connection between current and other in either
// direction, or nil when there is none.
func (s *ConnectionService) GetConnectionWith(ctx context.Context, current, other string) (*models.Connection, error) {
	const op = "get connection"
	if err := requireUser(current); err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	out, err := s.repo.GetConnection(ctx, current, other)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	in, err := s.repo.GetConnection(ctx, other, current)
	if err != nil {
		return nil, s.fail(ctx, current, op, err)
	}
	switch {
	case out == nil:
		return in, nil
	case in == nil:
		return out, nil
	case in.Status.IsActive() && !out.Status.IsActive():
		return in, nil
	case out.Status.IsActive() && !in.Status.IsActive():
		return out, nil
	case in.UpdatedAt.After(out.UpdatedAt):
		return in, nil
	}
	return out, nil
}

// MergeConnections unions the lists, keeping the newest copy of any id, ordered
// by updatedAt descending.
func MergeConnections(lists ...[]models.Connection) []models.Connection {
	byID := make(map[string]models.Connection)
	for _, list := range lists {
		for _, c := range list {
			if prev, ok := byID[c.ID]; ok && !c.UpdatedAt.After(prev.UpdatedAt) {
				continue
			}
			byID[c.ID] = c
		}
	}
	out := make([]models.Connection, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	repositories.SortConnections(out)
	return out
}
