package diag

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "unibot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestViewsAndHealth(t *testing.T) {
	s := New(Config{Enabled: true}, Views{
		Timers: func() any { return map[string]any{"state": "armed", "fired": 3} },
	}, logx.Nop())
	h := s.Handler()

	w := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = get(t, h, "/debug/timers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"armed","fired":3}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/tasks").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/").Code)
}

func TestTokenRequired(t *testing.T) {
	h := New(Config{Enabled: true, Token: "s3cret"}, Views{}, logx.Nop()).Handler()

	w := get(t, h, "/healthz")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "Authorization", "Bearer nope").Code)
}

func TestCheckRefusesPublicBindWithoutToken(t *testing.T) {
	assert.NoError(t, New(Config{}, Views{}, logx.Nop()).Check())
	assert.NoError(t, New(Config{Addr: "localhost:7000"}, Views{}, logx.Nop()).Check())
	assert.ErrorIs(t, New(Config{Addr: ":6060"}, Views{}, logx.Nop()).Check(), ErrInsecureBind)
	assert.NoError(t, New(Config{Addr: "0.0.0.0:6060", Token: "x"}, Views{}, logx.Nop()).Check())
	assert.NoError(t, New(Config{Addr: "0.0.0.0:6060", AllowInsecure: true}, Views{}, logx.Nop()).Check())
}
