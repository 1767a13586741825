package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/traPtitech/calQ/utils/set"
)

var (
	// ErrDuplicateConnection 既に同じIDのコネクションが存在します
	ErrDuplicateConnection = errors.New("duplicate connection")

	liveConnectionsCounter = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "calq",
		Name:      "live_connections",
	})
)

// Connection ゲートウェイに接続中のコネクション
type Connection struct {
	// ID トランスポートセッションごとに一意なコネクションID
	ID string
	// UserID 認証済みユーザーID
	UserID uuid.UUID
	// Username 表示名
	Username string
	// ConnectedAt 接続時刻
	ConnectedAt time.Time

	mu    sync.RWMutex
	rooms set.UUID
}

// Rooms 参加中のルームIDのスナップショットを返します
func (c *Connection) Rooms() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms.Array()
}

// InRoom 指定したルームに参加中かどうか
func (c *Connection) InRoom(roomID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms.Contains(roomID)
}

// AddRoom 参加ルーム集合にルームを追加します (RoomBroker専用)
func (c *Connection) AddRoom(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms.Add(roomID)
}

// RemoveRoom 参加ルーム集合からルームを削除します (RoomBroker専用)
func (c *Connection) RemoveRoom(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms.Remove(roomID)
}

// Registry コネクションレジストリ
//
// コネクションIDは同時に高々1つのConnectionにのみ対応する。
type Registry struct {
	connections map[string]*Connection
	users       map[uuid.UUID]map[string]struct{}
	mu          sync.RWMutex
}

// NewRegistry コネクションレジストリを生成します
func NewRegistry() *Registry {
	return &Registry{
		connections: map[string]*Connection{},
		users:       map[uuid.UUID]map[string]struct{}{},
	}
}

// Add コネクションを登録します
//
// 既に同じIDのコネクションが存在する場合、ErrDuplicateConnectionを返します。
func (r *Registry) Add(connID string, userID uuid.UUID, username string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connID]; ok {
		return nil, ErrDuplicateConnection
	}

	conn := &Connection{
		ID:          connID,
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		rooms:       set.UUID{},
	}
	r.connections[connID] = conn

	uc, ok := r.users[userID]
	if !ok {
		uc = map[string]struct{}{}
		r.users[userID] = uc
	}
	uc[connID] = struct{}{}

	liveConnectionsCounter.Inc()
	return conn, nil
}

// Remove コネクションを削除し、削除したConnectionを返します
//
// 存在しない場合、falseを返します。
func (r *Registry) Remove(connID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil, false
	}
	delete(r.connections, connID)

	uc := r.users[conn.UserID]
	delete(uc, connID)
	if len(uc) == 0 {
		delete(r.users, conn.UserID)
	}

	liveConnectionsCounter.Dec()
	return conn, true
}

// Get 指定したIDのコネクションを取得します
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// FindByUser 指定したユーザーの全コネクションIDを取得します
//
// 1ユーザーが複数のタブ・デバイスから接続している場合、複数返ります。
func (r *Registry) FindByUser(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uc := r.users[userID]
	result := make([]string, 0, len(uc))
	for id := range uc {
		result = append(result, id)
	}
	return result
}

// IsOnline 指定したユーザーがオンラインかどうか
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Count 接続中のコネクション数を取得します
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
