package room

import (
	"errors"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/leandro-lugaresi/hub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/traPtitech/calQ/event"
	"github.com/traPtitech/calQ/service/connection"
	"github.com/traPtitech/calQ/service/transport"
)

var (
	// ErrConnectionNotFound 登録されていないコネクションです
	ErrConnectionNotFound = errors.New("connection not found")

	roomsCounter = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "calq",
		Name:      "rooms",
	})
)

// Broker ルームブローカー
//
// ルームID→コネクションID集合のインデックスと、各Connection側の参加ルーム集合を
// 同一クリティカルセクション内で更新し、両者の整合性を保つ。
// ルームは最初の参加で暗黙に作られ、空になった時点で削除される。
type Broker struct {
	registry *connection.Registry
	sender   transport.Sender
	hub      *hub.Hub
	rooms    map[uuid.UUID]map[string]struct{}
	mu       sync.RWMutex
}

// NewBroker ルームブローカーを生成します
func NewBroker(registry *connection.Registry, sender transport.Sender, h *hub.Hub) *Broker {
	return &Broker{
		registry: registry,
		sender:   sender,
		hub:      h,
		rooms:    map[uuid.UUID]map[string]struct{}{},
	}
}

// MemberPayload ルームメンバー変動の通知
type MemberPayload struct {
	RoomID   uuid.UUID `json:"roomId"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Members  int       `json:"members"`
}

// Join コネクションをルームに参加させ、参加後のメンバー数を返します
//
// 冪等であり、参加済みのコネクションの場合は何もしません。
func (b *Broker) Join(connID string, roomID uuid.UUID) (int, error) {
	conn, ok := b.registry.Get(connID)
	if !ok {
		return 0, ErrConnectionNotFound
	}

	b.mu.Lock()
	members, ok := b.rooms[roomID]
	if !ok {
		members = map[string]struct{}{}
		b.rooms[roomID] = members
		roomsCounter.Inc()
	}
	if _, joined := members[connID]; joined {
		n := len(members)
		b.mu.Unlock()
		return n, nil
	}
	members[connID] = struct{}{}
	conn.AddRoom(roomID)
	n := len(members)
	b.mu.Unlock()

	b.hub.Publish(hub.Message{
		Name: event.RoomJoined,
		Fields: hub.Fields{
			"conn_id": connID,
			"user_id": conn.UserID,
			"room_id": roomID,
			"members": n,
		},
	})
	b.Broadcast(roomID, transport.EventUserJoined, MemberPayload{
		RoomID:   roomID,
		UserID:   conn.UserID,
		Username: conn.Username,
		Members:  n,
	}, connID)
	return n, nil
}

// Leave コネクションをルームから退出させます
//
// 冪等であり、参加していないルームからの退出は何もしません。
// 空になったルームのエントリは削除されます。
func (b *Broker) Leave(connID string, roomID uuid.UUID) {
	b.mu.Lock()
	members, ok := b.rooms[roomID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, joined := members[connID]; !joined {
		b.mu.Unlock()
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(b.rooms, roomID)
		roomsCounter.Dec()
	}
	n := len(members)
	b.mu.Unlock()

	conn, ok := b.registry.Get(connID)
	if ok {
		conn.RemoveRoom(roomID)
		b.hub.Publish(hub.Message{
			Name: event.RoomLeft,
			Fields: hub.Fields{
				"conn_id": connID,
				"user_id": conn.UserID,
				"room_id": roomID,
				"members": n,
			},
		})
		b.Broadcast(roomID, transport.EventUserLeft, MemberPayload{
			RoomID:   roomID,
			UserID:   conn.UserID,
			Username: conn.Username,
			Members:  n,
		})
	}
}

// LeaveAll コネクションを参加中の全ルームから退出させます (切断時用)
func (b *Broker) LeaveAll(connID string) {
	conn, ok := b.registry.Get(connID)
	if !ok {
		return
	}
	for _, roomID := range conn.Rooms() {
		b.Leave(connID, roomID)
	}
}

// Members ルームのメンバーのコネクションIDのスナップショットを返します
func (b *Broker) Members(roomID uuid.UUID) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	members := b.rooms[roomID]
	result := make([]string, 0, len(members))
	for id := range members {
		result = append(result, id)
	}
	return result
}

// RoomCount 存在するルーム数を取得します
func (b *Broker) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}

// Broadcast ルームの全メンバーにイベントを配信します
//
// excludeに指定したコネクションには配信されません。
// 切断中のコネクションへの配信はベストエフォートであり、失敗しても中断しません。
func (b *Broker) Broadcast(roomID uuid.UUID, eventType string, payload interface{}, exclude ...string) {
	targets := b.Members(roomID)
	for _, connID := range targets {
		skip := false
		for _, e := range exclude {
			if connID == e {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		_ = b.sender.Send(connID, eventType, payload)
	}
}
