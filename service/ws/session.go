package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
)

// Session WebSocketセッション
type Session interface {
	// Key このセッションの識別キー
	Key() string
	// UserID このセッションのUserID
	UserID() uuid.UUID
	// Username このセッションのユーザー名
	Username() string
}

type session struct {
	key      string
	userID   uuid.UUID
	username string

	sync.RWMutex

	req      *http.Request
	conn     *websocket.Conn
	open     bool
	streamer *Streamer
	send     chan *rawMessage
}

// readLoop 受信したテキストメッセージをゲートウェイに順番に引き渡します
//
// 1コネクションのコマンドはこのループ上で直列に処理される。
func (s *session) readLoop() {
	s.conn.SetReadLimit(maxReadMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		t, m, err := s.conn.ReadMessage()
		if err != nil {
			break
		}

		if t == websocket.TextMessage {
			s.streamer.gw.Dispatch(s.key, m)
		}

		if t == websocket.BinaryMessage {
			// unsupported
			_ = s.writeMessage(&rawMessage{t: websocket.CloseMessage, data: websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary message is not supported.")})
			break
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}

			if err := s.write(msg.t, msg.data); err != nil {
				return
			}

			if msg.t == websocket.CloseMessage {
				return
			}

		case <-ticker.C:
			_ = s.write(websocket.PingMessage, []byte{})
		}
	}
}

func (s *session) writeMessage(msg *rawMessage) error {
	s.RLock()
	defer s.RUnlock()

	if !s.open {
		return ErrAlreadyClosed
	}
	select {
	case s.send <- msg:
	default:
		return ErrBufferIsFull
	}
	return nil
}

func (s *session) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// close セッションを閉じます
//
// 読み込みループの終了とストリーマーの停止が競合しても二重にクローズしない。
func (s *session) close() {
	s.Lock()
	defer s.Unlock()
	if s.open {
		s.open = false
		s.conn.Close()
		close(s.send)
	}
}

// Key implements Session interface.
func (s *session) Key() string {
	return s.key
}

// UserID implements Session interface.
func (s *session) UserID() uuid.UUID {
	return s.userID
}

// Username implements Session interface.
func (s *session) Username() string {
	return s.username
}
