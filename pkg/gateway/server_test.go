package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/stitch/internal/metrics"
)

type fakeStatus struct {
	payload interface{}
	err     error
}

func (f *fakeStatus) Status(ctx context.Context) (interface{}, error) {
	return f.payload, f.err
}

func newTestGateway(t *testing.T, status StatusProvider) (*Server, *httptest.Server) {
	t.Helper()

	if status == nil {
		status = &fakeStatus{payload: map[string]interface{}{"running": true}}
	}

	s, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         8080,
		SharedSecret: "test-secret",
		Status:       status,
		Metrics:      metrics.NewMetrics(),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestNewServer(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:         8080,
			SharedSecret: "secret",
			Status:       &fakeStatus{},
			Metrics:      metrics.NewMetrics(),
			Logger:       zerolog.Nop(),
		}
	}

	t.Run("valid config", func(t *testing.T) {
		s, err := NewServer(valid())
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("invalid port", func(t *testing.T) {
		cfg := valid()
		cfg.Port = 0
		_, err := NewServer(cfg)
		assert.Error(t, err)
	})

	t.Run("missing secret", func(t *testing.T) {
		cfg := valid()
		cfg.SharedSecret = ""
		_, err := NewServer(cfg)
		assert.Error(t, err)
	})

	t.Run("missing status provider", func(t *testing.T) {
		cfg := valid()
		cfg.Status = nil
		_, err := NewServer(cfg)
		assert.Error(t, err)
	})

	t.Run("missing metrics", func(t *testing.T) {
		cfg := valid()
		cfg.Metrics = nil
		_, err := NewServer(cfg)
		assert.Error(t, err)
	})
}

func TestHealthzEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sessions_active")
}

func TestStatusEndpoint(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, srv := newTestGateway(t, nil)

		resp, err := http.Get(srv.URL + "/status")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		_, srv := newTestGateway(t, nil)

		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
		req.Header.Set(SecretHeader, "wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("get only", func(t *testing.T) {
		_, srv := newTestGateway(t, nil)

		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/status", nil)
		req.Header.Set(SecretHeader, "test-secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("serves snapshot", func(t *testing.T) {
		_, srv := newTestGateway(t, &fakeStatus{payload: map[string]interface{}{
			"running":         true,
			"active_sessions": 2,
		}})

		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
		req.Header.Set(SecretHeader, "test-secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"active_sessions":2`)
	})

	t.Run("provider failure", func(t *testing.T) {
		_, srv := newTestGateway(t, &fakeStatus{err: errors.New("ledger unavailable")})

		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
		req.Header.Set(SecretHeader, "test-secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestWebSocketStream(t *testing.T) {
	t.Run("rejects missing secret", func(t *testing.T) {
		_, srv := newTestGateway(t, nil)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("streams broadcast events", func(t *testing.T) {
		s, srv := newTestGateway(t, nil)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?secret=test-secret"

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Wait for the server side to register the client
		require.Eventually(t, func() bool {
			return s.clients.Count() == 1
		}, 2*time.Second, 10*time.Millisecond)

		s.Broadcast("render.completed", map[string]interface{}{"session_id": "s1"})

		var event EventMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&event))

		assert.Equal(t, "render.completed", event.Event)
		assert.NotZero(t, event.Seq)
	})

	t.Run("secret via header", func(t *testing.T) {
		s, srv := newTestGateway(t, nil)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

		header := http.Header{}
		header.Set(SecretHeader, "test-secret")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool {
			return s.clients.Count() == 1
		}, 2*time.Second, 10*time.Millisecond)

		infos := s.GetConnectedClients()
		require.Len(t, infos, 1)
		assert.NotEmpty(t, infos[0].ID)
	})

	t.Run("disconnect removes client", func(t *testing.T) {
		s, srv := newTestGateway(t, nil)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?secret=test-secret"

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return s.clients.Count() == 1
		}, 2*time.Second, 10*time.Millisecond)

		conn.Close()

		require.Eventually(t, func() bool {
			return s.clients.Count() == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}
