package services

import (
	"context"
	"testing"
	"time"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/notify"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendConnectionRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", conn.FromUserID)
	assert.Equal(t, "bob", conn.ToUserID)
	assert.Equal(t, models.StatusPending, conn.Status)
	assert.Equal(t, "hi", conn.Message)

	sent := f.notifier.ofType(notify.EventConnectionSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].UserID)
	assert.Equal(t, "Connection request sent to Bob!", sent[0].Message)
}

func TestSendConnectionRequestRejections(t *testing.T) {
	testCases := []struct {
		name string
		from string
		to   string
		want errs.Code
	}{
		{name: "self", from: "alice", to: "alice", want: errs.CodeSelfRequest},
		{name: "missing recipient", from: "alice", to: "  ", want: errs.CodeRequiredField},
		{name: "no current user", from: "", to: "bob", want: errs.CodeUnauthenticated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.svc.SendConnectionRequest(ctx, tc.from, tc.to, "")
			require.Error(t, err)
			assert.Equal(t, tc.want, errs.CodeOf(err))

			out, err := f.repo.GetUserConnections(ctx, tc.from)
			require.NoError(t, err)
			assert.Empty(t, out)

			failures := f.notifier.ofType(notify.EventError)
			require.Len(t, failures, 1)
			assert.Equal(t, tc.want, failures[0].Code)
			assert.Empty(t, f.notifier.ofType(notify.EventConnectionSent))
		})
	}
}

func TestDuplicateRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)
	_, err = f.svc.SendConnectionRequest(ctx, "alice", "bob", "again")
	require.Error(t, err)
	assert.Equal(t, errs.CodeRequestExists, errs.CodeOf(err))

	out, err := f.svc.ListOutgoing(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, out, 1)

	failures := f.notifier.ofType(notify.EventError)
	require.Len(t, failures, 1)
	assert.Equal(t, "Request Already Sent", failures[0].Title)
	assert.False(t, failures[0].Retryable)
}

func TestAcceptConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = f.svc.AcceptConnection(ctx, "alice", conn.ID)
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err), "the requester cannot accept")

	_, err = f.svc.AcceptConnection(ctx, "bob", "nope")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	accepted, err := f.svc.AcceptConnection(ctx, "bob", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.True(t, accepted.UpdatedAt.After(conn.UpdatedAt))

	_, err = f.svc.AcceptConnection(ctx, "bob", conn.ID)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
	_, err = f.svc.DeclineConnection(ctx, "bob", conn.ID)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	events := f.notifier.ofType(notify.EventConnectionAccepted)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "Bob has accepted your connection request. You can now chat!", events[0].Message)
}

func TestDeclineThenResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "first")
	require.NoError(t, err)

	_, err = f.svc.ResendConnectionRequest(ctx, "alice", conn.ID, "too early")
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	declined, err := f.svc.DeclineConnection(ctx, "bob", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, declined.Status)

	list, err := f.svc.ListDeclined(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.ResendConnectionRequest(ctx, "bob", conn.ID, "")
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err), "only the requester can resend")

	resent, err := f.svc.ResendConnectionRequest(ctx, "alice", conn.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, resent.ID)
	assert.Equal(t, models.StatusPending, resent.Status)
	assert.Equal(t, "second", resent.Message)
	assert.True(t, resent.UpdatedAt.After(declined.UpdatedAt))

	assert.Len(t, f.notifier.ofType(notify.EventConnectionSent), 2)
	assert.Len(t, f.notifier.ofType(notify.EventConnectionRequest), 2)
}

func TestConnectionRequestNotifiesRecipientOnce(t *testing.T) {
	t.Run("recipient offline", func(t *testing.T) {
		f := newFixture(t)
		conn, err := f.svc.SendConnectionRequest(context.Background(), "alice", "bob", "")
		require.NoError(t, err)

		events := f.notifier.ofType(notify.EventConnectionRequest)
		require.Len(t, events, 1)
		assert.Equal(t, "bob", events[0].UserID)
		assert.Equal(t, "alice", events[0].ActorID)
		assert.Equal(t, conn.ID, events[0].TargetID)
		assert.Equal(t, "Alice wants to connect with you!", events[0].Message)
	})

	t.Run("recipient has two sessions", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		var sessions []*Session
		for i := 0; i < 2; i++ {
			sess, err := f.svc.OpenSession(ctx, "bob")
			require.NoError(t, err)
			defer sess.Close()
			require.Eventually(t, func() bool { return sess.hasLive(partIncoming) }, waitFor, tick)
			sessions = append(sessions, sess)
		}

		_, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "")
		require.NoError(t, err)
		for _, sess := range sessions {
			require.Eventually(t, func() bool { return len(sess.View().Connections) == 1 }, waitFor, tick)
		}
		assert.Len(t, f.notifier.ofType(notify.EventConnectionRequest), 1)
	})

	t.Run("failed send", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SendConnectionRequest(context.Background(), "alice", "alice", "")
		require.Error(t, err)
		assert.Empty(t, f.notifier.ofType(notify.EventConnectionRequest))
	})
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, "alice", conn.ID, "hello")
	assert.Equal(t, errs.CodeNotConnected, errs.CodeOf(err))

	_, err = f.svc.AcceptConnection(ctx, "bob", conn.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, "alice", conn.ID, "   ")
	assert.Equal(t, errs.CodeRequiredField, errs.CodeOf(err))

	_, err = f.svc.SendMessage(ctx, "mallory", conn.ID, "hi")
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))

	msg, err := f.svc.SendMessage(ctx, "alice", conn.ID, " hello ")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Read)

	events := f.notifier.ofType(notify.EventNewMessage)
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].UserID)
	assert.Equal(t, "Alice: hello", events[0].Message)

	err = f.svc.MarkMessageAsRead(ctx, "alice", msg.ID)
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err), "the sender cannot mark as read")
	require.NoError(t, f.svc.MarkMessageAsRead(ctx, "bob", msg.ID))
	require.NoError(t, f.svc.MarkMessageAsRead(ctx, "bob", msg.ID))

	msgs, err := f.svc.ListMessages(ctx, "bob", conn.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)

	_, err = f.svc.ListMessages(ctx, "mallory", conn.ID)
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))
}

func TestGetConnectionWith(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.svc.GetConnectionWith(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, none)

	conn, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)

	fromAlice, err := f.svc.GetConnectionWith(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, fromAlice)
	assert.Equal(t, conn.ID, fromAlice.ID)

	fromBob, err := f.svc.GetConnectionWith(ctx, "bob", "alice")
	require.NoError(t, err)
	require.NotNil(t, fromBob)
	assert.Equal(t, conn.ID, fromBob.ID)
}

func TestListConnectionsMergesBothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.SendConnectionRequest(ctx, "alice", "bob", "")
	require.NoError(t, err)
	in, err := f.svc.SendConnectionRequest(ctx, "carol", "alice", "")
	require.NoError(t, err)

	all, err := f.svc.ListConnections(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, in.ID, all[0].ID)
	assert.Equal(t, out.ID, all[1].ID)
}

func TestListFailurePropagates(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.ListConnections(ctx, "alice")
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))

	failures := f.notifier.ofType(notify.EventError)
	require.Len(t, failures, 1)
	assert.True(t, failures[0].Retryable)
	assert.Equal(t, "Try Again", failures[0].Action)
}

func TestMergeConnections(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := models.Connection{ID: "a", UpdatedAt: t0}
	b := models.Connection{ID: "b", UpdatedAt: t0.Add(time.Minute)}
	aNewer := models.Connection{ID: "a", Status: models.StatusAccepted, UpdatedAt: t0.Add(2 * time.Minute)}

	merged := MergeConnections([]models.Connection{a, b}, []models.Connection{aNewer})
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, models.StatusAccepted, merged[0].Status)
	assert.Equal(t, "b", merged[1].ID)

	assert.Empty(t, MergeConnections(nil, nil))
}

func TestFallbackName(t *testing.T) {
	assert.Equal(t, "User abcdefgh", FallbackName("abcdefghijkl"))
	assert.Equal(t, "User abc", FallbackName("abc"))

	names, err := NewNameResolver(nil, &profileStub{names: map[string]string{"alice": "Alice"}}, 4, nil)
	require.NoError(t, err)
	ctx := context.Background()
	assert.Equal(t, "Alice", names.DisplayName(ctx, "alice"))
	assert.Equal(t, "User 12345678", names.DisplayName(ctx, "1234567890"))
}
