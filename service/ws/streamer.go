package ws

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/router/extension/ctxkey"
	"github.com/traPtitech/calQ/utils/random"
)

var (
	// ErrAlreadyClosed 既に閉じられています
	ErrAlreadyClosed = errors.New("already closed")
	// ErrBufferIsFull 送信バッファが溢れました
	ErrBufferIsFull = errors.New("buffer is full")
	// ErrSessionNotFound セッションが存在しません
	ErrSessionNotFound = errors.New("session not found")
)

// Gateway セッションのライフサイクルとコマンドの引き渡し先
type Gateway interface {
	HandleConnect(connID string, userID uuid.UUID, username string) error
	HandleDisconnect(connID string)
	Dispatch(connID string, raw []byte)
}

// Streamer WebSocketストリーマー
//
// transport.Senderの実装。セッションキーがそのままコネクションIDになる。
type Streamer struct {
	gw       Gateway
	logger   *zap.Logger
	sessions map[string]*session
	closed   bool
	mu       sync.RWMutex
}

// NewStreamer WebSocketストリーマーを生成します
//
// 接続を受け付ける前にSetGatewayでゲートウェイを設定すること。
func NewStreamer(logger *zap.Logger) *Streamer {
	return &Streamer{
		logger:   logger.Named("ws"),
		sessions: make(map[string]*session),
		closed:   false,
	}
}

// SetGateway ゲートウェイを設定します
func (s *Streamer) SetGateway(gw Gateway) {
	s.gw = gw
}

func (s *Streamer) register(session *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.key] = session
}

func (s *Streamer) unregister(session *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session.key)
}

// IterateSessions 全セッションをイテレートします
func (s *Streamer) IterateSessions(f func(session Session)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		f(session)
	}
}

// SessionCount 接続中のセッション数を返します
func (s *Streamer) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Send 指定したコネクションにイベントを書き込みます
//
// 送信バッファが溢れた場合、そのメッセージは破棄される。
func (s *Streamer) Send(connID string, event string, payload interface{}) error {
	s.mu.RLock()
	session, ok := s.sessions[connID]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	err := session.writeMessage(&rawMessage{
		t:    websocket.TextMessage,
		data: makeMessage(event, payload).toJSON(),
	})
	if err == ErrBufferIsFull {
		s.logger.Warn("Discard a message because the session's buffer is full.",
			zap.String("type", event),
			zap.Stringer("userID", session.userID))
	}
	return err
}

// ServeHTTP http.Handlerインターフェイスの実装
func (s *Streamer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if s.closed {
		http.Error(rw, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	conn, err := upgrader.Upgrade(rw, r, rw.Header())
	if err != nil {
		return
	}

	username, _ := r.Context().Value(ctxkey.Username).(string)
	session := &session{
		key:      random.AlphaNumeric(20),
		userID:   r.Context().Value(ctxkey.UserID).(uuid.UUID),
		username: username,
		req:      r,
		conn:     conn,
		open:     true,
		streamer: s,
		send:     make(chan *rawMessage, messageBufferSize),
	}

	s.register(session)
	if err := s.gw.HandleConnect(session.key, session.userID, session.username); err != nil {
		s.unregister(session)
		session.close()
		return
	}

	go session.writeLoop()
	session.readLoop()

	s.gw.HandleDisconnect(session.key)
	s.unregister(session)
	session.close()
}

// Close ストリーマーを停止します
func (s *Streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrAlreadyClosed
	}
	s.closed = true

	m := &rawMessage{
		t:    websocket.CloseMessage,
		data: websocket.FormatCloseMessage(websocket.CloseServiceRestart, "Server is stopping..."),
	}
	for _, session := range s.sessions {
		_ = session.writeMessage(m)
		session.close()
	}
	s.sessions = make(map[string]*session)
	return nil
}
