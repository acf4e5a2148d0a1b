package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anonto42/nearme/backend/internal/handlers"
	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/anonto42/nearme/backend/internal/validators"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const secret = "router-test-secret"

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := echo.New()
	e.Validator = validators.NewValidator()
	e.HTTPErrorHandler = handlers.HTTPErrorHandler(zap.NewNop())

	_, err = SetupRoutes(e, Deps{
		Postgres:    db,
		Connections: repositories.NewMemoryConnectionRepository(),
		Presence:    repositories.NewRedisPresenceRepository(rdb, 10*time.Minute),
		JWTSecret:   secret,
		Log:         zap.NewNop(),
	})
	require.NoError(t, err)
	return e
}

func call(t *testing.T, e *echo.Echo, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func alertOf(t *testing.T, rec *httptest.ResponseRecorder) errs.Alert {
	t.Helper()
	var a errs.Alert
	decode(t, rec, &a)
	return a
}

type account struct {
	uid   string
	token string
}

func signup(t *testing.T, e *echo.Echo, name, email string) account {
	t.Helper()
	rec := call(t, e, http.MethodPost, "/api/v1/auth/signup", "", echo.Map{
		"displayName": name,
		"email":       email,
		"password":    "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Token   string                `json:"token"`
		Profile models.ProfileCompact `json:"profile"`
	}
	decode(t, rec, &out)
	require.NotEmpty(t, out.Token)
	return account{uid: out.Profile.UID, token: out.Token}
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	rec := call(t, e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nearme-api")
}

func TestAuthFlow(t *testing.T) {
	e := newTestServer(t)
	alice := signup(t, e, "Alice", "alice@example.com")

	rec := call(t, e, http.MethodPost, "/api/v1/auth/signup", "", echo.Map{
		"displayName": "Alice Again", "email": "ALICE@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, errs.CodeEmailInUse, alertOf(t, rec).Code)

	rec = call(t, e, http.MethodPost, "/api/v1/auth/signin", "", echo.Map{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Incorrect Password or Email", alertOf(t, rec).Title)

	rec = call(t, e, http.MethodPost, "/api/v1/auth/signin", "", echo.Map{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e, http.MethodPost, "/api/v1/auth/signup", "", echo.Map{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.CodeInvalidInput, alertOf(t, rec).Code)

	rec = call(t, e, http.MethodPost, "/api/v1/auth/firebase-login", "", echo.Map{"idToken": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "firebase login is off without a verifier")

	rec = call(t, e, http.MethodGet, "/api/v1/profile", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Profile
	decode(t, rec, &p)
	assert.Equal(t, alice.uid, p.UID)
	assert.NotContains(t, rec.Body.String(), "correct-horse")

	rec = call(t, e, http.MethodPut, "/api/v1/profile", alice.token, echo.Map{"headline": "Coffee nearby?"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	assert.Equal(t, "Coffee nearby?", p.Headline)

	rec = call(t, e, http.MethodGet, "/api/v1/users/search?q=ali", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []models.ProfileCompact
	decode(t, rec, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "Alice", found[0].DisplayName)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	e := newTestServer(t)

	rec := call(t, e, http.MethodGet, "/api/v1/connections", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	a := alertOf(t, rec)
	assert.Equal(t, errs.CodeUnauthenticated, a.Code)
	assert.Equal(t, "Sign In Required", a.Title)

	rec = call(t, e, http.MethodGet, "/api/v1/connections", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConnectionFlow(t *testing.T) {
	e := newTestServer(t)
	alice := signup(t, e, "Alice", "alice@example.com")
	bob := signup(t, e, "Bob", "bob@example.com")

	rec := call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": bob.uid, "message": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conn models.Connection
	decode(t, rec, &conn)
	assert.Equal(t, models.StatusPending, conn.Status)

	rec = call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": bob.uid})
	assert.Equal(t, http.StatusConflict, rec.Code)
	a := alertOf(t, rec)
	assert.Equal(t, errs.CodeRequestExists, a.Code)
	assert.False(t, a.Retryable)

	rec = call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": alice.uid})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.CodeSelfRequest, alertOf(t, rec).Code)

	rec = call(t, e, http.MethodGet, "/api/v1/connections/incoming", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var incoming []models.Connection
	decode(t, rec, &incoming)
	require.Len(t, incoming, 1)
	assert.Equal(t, "hi", incoming[0].Message)

	rec = call(t, e, http.MethodPost, "/api/v1/connections/"+conn.ID+"/messages", alice.token, echo.Map{"content": "too soon"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, errs.CodeNotConnected, alertOf(t, rec).Code)

	rec = call(t, e, http.MethodPut, "/api/v1/connections/"+conn.ID+"/accept", alice.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errs.CodeUnauthorized, alertOf(t, rec).Code)

	rec = call(t, e, http.MethodPut, "/api/v1/connections/"+conn.ID+"/accept", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &conn)
	assert.Equal(t, models.StatusAccepted, conn.Status)

	rec = call(t, e, http.MethodPost, "/api/v1/connections/"+conn.ID+"/messages", alice.token, echo.Map{"content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	decode(t, rec, &msg)

	rec = call(t, e, http.MethodGet, "/api/v1/connections/"+conn.ID+"/messages", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []models.Message
	decode(t, rec, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].Read)

	rec = call(t, e, http.MethodPut, "/api/v1/messages/"+msg.ID+"/read", bob.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/connections/with/"+alice.uid, bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var with struct {
		Connection *models.Connection `json:"connection"`
	}
	decode(t, rec, &with)
	require.NotNil(t, with.Connection)
	assert.Equal(t, conn.ID, with.Connection.ID)

	rec = call(t, e, http.MethodGet, "/api/v1/connections", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.Connection
	decode(t, rec, &all)
	assert.Len(t, all, 1)
}

func TestDeclineAndResend(t *testing.T) {
	e := newTestServer(t)
	alice := signup(t, e, "Alice", "alice@example.com")
	bob := signup(t, e, "Bob", "bob@example.com")

	rec := call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": bob.uid})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conn models.Connection
	decode(t, rec, &conn)

	rec = call(t, e, http.MethodPut, "/api/v1/connections/"+conn.ID+"/decline", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/connections/declined", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var declined []models.Connection
	decode(t, rec, &declined)
	require.Len(t, declined, 1)

	rec = call(t, e, http.MethodPut, "/api/v1/connections/"+conn.ID+"/resend", alice.token, echo.Map{"message": "second try"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resent models.Connection
	decode(t, rec, &resent)
	assert.Equal(t, conn.ID, resent.ID)
	assert.Equal(t, models.StatusPending, resent.Status)
	assert.True(t, resent.UpdatedAt.After(declined[0].UpdatedAt))
}

func TestNotificationsInbox(t *testing.T) {
	e := newTestServer(t)
	alice := signup(t, e, "Alice", "alice@example.com")
	bob := signup(t, e, "Bob", "bob@example.com")

	rec := call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": bob.uid})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conn models.Connection
	decode(t, rec, &conn)
	rec = call(t, e, http.MethodPut, "/api/v1/connections/"+conn.ID+"/accept", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/notifications", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data struct {
			Notifications []handlers.EnrichedNotification `json:"notifications"`
		} `json:"data"`
		Meta struct {
			TotalItems int `json:"totalItems"`
		} `json:"meta"`
	}
	decode(t, rec, &page)
	require.Equal(t, 2, page.Meta.TotalItems)
	byType := map[string]handlers.EnrichedNotification{}
	for _, n := range page.Data.Notifications {
		byType[n.Type] = n
	}
	accepted, ok := byType["connection_accepted"]
	require.True(t, ok)
	require.NotNil(t, accepted.Actor)
	assert.Equal(t, "Bob", accepted.Actor.DisplayName)
	assert.Equal(t, "Bob has accepted your connection request. You can now chat!", accepted.Message)

	rec = call(t, e, http.MethodGet, "/api/v1/notifications/unread-count", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = call(t, e, http.MethodPut, fmt.Sprintf("/api/v1/notifications/%d/read", accepted.ID), bob.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other users' notifications are invisible")

	rec = call(t, e, http.MethodPut, fmt.Sprintf("/api/v1/notifications/%d/read", accepted.ID), alice.token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e, http.MethodPut, "/api/v1/notifications/read-all", alice.token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, e, http.MethodGet, "/api/v1/notifications/unread-count", alice.token, nil)
	assert.Contains(t, rec.Body.String(), `"count":0`)

	// bob never opened a stream and still has the request in his inbox
	rec = call(t, e, http.MethodGet, "/api/v1/notifications", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page.Data.Notifications = nil
	decode(t, rec, &page)
	require.Equal(t, 1, page.Meta.TotalItems)
	request := page.Data.Notifications[0]
	assert.Equal(t, "connection_request", request.Type)
	assert.Equal(t, conn.ID, request.TargetID)
	require.NotNil(t, request.Actor)
	assert.Equal(t, "Alice", request.Actor.DisplayName)
}

func TestPresenceNearby(t *testing.T) {
	e := newTestServer(t)
	alice := signup(t, e, "Alice", "alice@example.com")
	bob := signup(t, e, "Bob", "bob@example.com")
	carol := signup(t, e, "Carol", "carol@example.com")

	rec := call(t, e, http.MethodPut, "/api/v1/presence", alice.token, echo.Map{"isVisible": true, "latitude": 23.8, "longitude": 90.4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me models.Presence
	decode(t, rec, &me)
	assert.Equal(t, "Alice", me.DisplayName)
	require.NotNil(t, me.Location)

	rec = call(t, e, http.MethodPut, "/api/v1/presence", bob.token, echo.Map{"isVisible": true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, e, http.MethodPut, "/api/v1/presence", carol.token, echo.Map{"isVisible": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e, http.MethodPut, "/api/v1/presence", bob.token, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "isVisible is required")

	rec = call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": bob.uid})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/presence/nearby", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nearby []models.NearbyUser
	decode(t, rec, &nearby)
	require.Len(t, nearby, 1)
	assert.Equal(t, bob.uid, nearby[0].UserID)
	assert.Equal(t, "Bob", nearby[0].DisplayName)
	assert.Equal(t, models.StatusPending, nearby[0].ConnectionStatus)

	rec = call(t, e, http.MethodDelete, "/api/v1/presence", bob.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = call(t, e, http.MethodGet, "/api/v1/presence/nearby", alice.token, nil)
	decode(t, rec, &nearby)
	assert.Empty(t, nearby)
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *errs.Alert     `json:"error"`
}

func dial(t *testing.T, srv *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, ws *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestStreams(t *testing.T) {
	e := newTestServer(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	alice := signup(t, e, "Alice", "alice@example.com")
	bob := signup(t, e, "Bob", "bob@example.com")

	views := dial(t, srv, "/api/v1/ws/connections", bob.token)
	readUntil(t, views, func(f frame) bool {
		var v services.View
		return f.Type == "view" && json.Unmarshal(f.Data, &v) == nil && len(v.Loading) == 0
	})

	rec := call(t, e, http.MethodPost, "/api/v1/connections", alice.token, echo.Map{"toUserId": bob.uid, "message": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conn models.Connection
	decode(t, rec, &conn)

	readUntil(t, views, func(f frame) bool {
		var v services.View
		if f.Type != "view" || json.Unmarshal(f.Data, &v) != nil || len(v.Connections) != 1 {
			return false
		}
		return v.Connections[0].ID == conn.ID && v.Connections[0].Status == models.StatusPending
	})

	rec = call(t, e, http.MethodPut, "/api/v1/connections/"+conn.ID+"/accept", bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	chat := dial(t, srv, "/api/v1/ws/connections/"+conn.ID+"/messages", bob.token)
	rec = call(t, e, http.MethodPost, "/api/v1/connections/"+conn.ID+"/messages", alice.token, echo.Map{"content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	f := readUntil(t, chat, func(f frame) bool {
		var msgs []models.Message
		return f.Type == "messages" && json.Unmarshal(f.Data, &msgs) == nil && len(msgs) == 1
	})
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(f.Data, &msgs))
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].Read)

	outsider := signup(t, e, "Mallory", "mallory@example.com")
	denied := dial(t, srv, "/api/v1/ws/connections/"+conn.ID+"/messages", outsider.token)
	f = readUntil(t, denied, func(f frame) bool { return f.Type == "error" })
	require.NotNil(t, f.Error)
	assert.Equal(t, errs.CodeUnauthorized, f.Error.Code)
}
