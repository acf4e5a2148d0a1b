package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPErrorHandler(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   errs.Code
		retryable  bool
	}{
		{name: "duplicate request", err: errs.New(errs.CodeRequestExists, "a -> b"), wantStatus: http.StatusConflict, wantCode: errs.CodeRequestExists},
		{name: "not connected", err: errs.New(errs.CodeNotConnected, ""), wantStatus: http.StatusUnprocessableEntity, wantCode: errs.CodeNotConnected},
		{name: "offline", err: errs.New(errs.CodeOffline, ""), wantStatus: http.StatusServiceUnavailable, wantCode: errs.CodeOffline, retryable: true},
		{name: "plain error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: errs.CodeUnknown, retryable: true},
		{name: "echo not found", err: echo.ErrNotFound, wantStatus: http.StatusNotFound, wantCode: errs.CodeNotFound},
		{name: "echo bad request", err: echo.NewHTTPError(http.StatusBadRequest, "bad"), wantStatus: http.StatusBadRequest, wantCode: errs.CodeInvalidInput},
		{name: "wrapped bind error", err: errs.Wrap(errs.CodeInvalidInput, echo.ErrUnsupportedMediaType, "bind"), wantStatus: http.StatusBadRequest, wantCode: errs.CodeInvalidInput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			HTTPErrorHandler(zap.NewNop())(tc.err, c)

			assert.Equal(t, tc.wantStatus, rec.Code)
			var alert errs.Alert
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
			assert.Equal(t, tc.wantCode, alert.Code)
			assert.Equal(t, tc.retryable, alert.Retryable)
			assert.NotEmpty(t, alert.Title)
		})
	}
}

func TestLatestFrameKeepsNewest(t *testing.T) {
	l := newLatestFrame()
	l.put(wsFrame{Type: "view", Data: 2}, 2)
	l.put(wsFrame{Type: "view", Data: 1}, 1)

	f, ok := l.take()
	require.True(t, ok)
	assert.Equal(t, 2, f.Data)

	_, ok = l.take()
	assert.False(t, ok)

	l.put(wsFrame{Type: "view", Data: 3}, 3)
	f, ok = l.take()
	require.True(t, ok)
	assert.Equal(t, 3, f.Data)
}
