package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/router/extension/ctxkey"
)

type nopGateway struct{}

func (nopGateway) HandleConnect(string, uuid.UUID, string) error { return nil }
func (nopGateway) HandleDisconnect(string)                       {}
func (nopGateway) Dispatch(string, []byte)                       {}

func setupStreamer(t *testing.T) (*Streamer, *websocket.Conn, string) {
	t.Helper()

	streamer := NewStreamer(zap.NewNop())
	streamer.SetGateway(nopGateway{})

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxkey.UserID, uuid.Must(uuid.NewV7()))
		ctx = context.WithValue(ctx, ctxkey.Username, "takashi")
		streamer.ServeHTTP(rw, r.WithContext(ctx))
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return streamer.SessionCount() == 1 }, time.Second, time.Millisecond)
	var key string
	streamer.IterateSessions(func(s Session) { key = s.Key() })
	require.NotEmpty(t, key)

	return streamer, conn, key
}

func TestStreamer_Send(t *testing.T) {
	t.Parallel()

	streamer, conn, key := setupStreamer(t)

	require.NoError(t, streamer.Send(key, "MESSAGE", map[string]string{"content": "hello"}))

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"type":"MESSAGE","body":{"content":"hello"}}`, string(data))

	assert.ErrorIs(t, streamer.Send("unknown", "MESSAGE", nil), ErrSessionNotFound)
}

func TestStreamer_Close(t *testing.T) {
	t.Parallel()

	streamer, conn, _ := setupStreamer(t)

	require.NoError(t, streamer.Close())
	assert.Equal(t, 0, streamer.SessionCount())
	assert.ErrorIs(t, streamer.Close(), ErrAlreadyClosed)

	// サーバー側のコネクションは閉じられている
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestStreamer_ClosedRejectsUpgrade(t *testing.T) {
	t.Parallel()

	streamer := NewStreamer(zap.NewNop())
	streamer.SetGateway(nopGateway{})
	require.NoError(t, streamer.Close())

	rec := httptest.NewRecorder()
	streamer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSession_CloseConcurrent(t *testing.T) {
	t.Parallel()

	streamer, _, key := setupStreamer(t)

	streamer.mu.RLock()
	target := streamer.sessions[key]
	streamer.mu.RUnlock()
	require.NotNil(t, target)

	// 読み込みループの終了処理とストリーマーの停止が同時にクローズしてもパニックしない
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target.close()
		}()
	}
	wg.Wait()

	err := target.writeMessage(&rawMessage{t: websocket.TextMessage, data: []byte("{}")})
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}
