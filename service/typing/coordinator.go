package typing

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/traPtitech/calQ/service/room"
	"github.com/traPtitech/calQ/service/transport"
)

// Event 入力状態イベントのペイロード
type Event struct {
	UserID uuid.UUID `json:"userId"`
	RoomID uuid.UUID `json:"roomId"`
}

// Coordinator 入力状態コーディネーター
//
// ルームごとに入力中のユーザーと期限を保持する。エントリは明示的な停止か、
// 定期スイープによる期限切れで削除される。スイープ後に期限切れのエントリが
// 残ることはない。
type Coordinator struct {
	broker   *room.Broker
	ttl      time.Duration
	interval time.Duration
	rooms    map[uuid.UUID]map[uuid.UUID]time.Time
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewCoordinator 入力状態コーディネーターを生成し、スイープを開始します
func NewCoordinator(broker *room.Broker, ttl, interval time.Duration) *Coordinator {
	c := &Coordinator{
		broker:   broker,
		ttl:      ttl,
		interval: interval,
		rooms:    map[uuid.UUID]map[uuid.UUID]time.Time{},
		stop:     make(chan struct{}),
	}
	go func() {
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				c.sweep(now)
			case <-c.stop:
				return
			}
		}
	}()
	return c
}

// Start 入力状態を設定・更新します
//
// 不在→存在の遷移時のみUSER_TYPINGを配信し、更新は期限の延長のみを行う。
// excludeには入力者自身のコネクションIDを渡す。
func (c *Coordinator) Start(roomID, userID uuid.UUID, exclude ...string) {
	c.mu.Lock()
	users, ok := c.rooms[roomID]
	if !ok {
		users = map[uuid.UUID]time.Time{}
		c.rooms[roomID] = users
	}
	_, present := users[userID]
	users[userID] = time.Now().Add(c.ttl)
	c.mu.Unlock()

	if !present {
		c.broker.Broadcast(roomID, transport.EventUserTyping, Event{UserID: userID, RoomID: roomID}, exclude...)
	}
}

// Stop 入力状態を即時に削除します
//
// エントリが存在した場合のみUSER_TYPING_STOPPEDを配信します。
func (c *Coordinator) Stop(roomID, userID uuid.UUID, exclude ...string) {
	c.mu.Lock()
	users, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	_, present := users[userID]
	if present {
		delete(users, userID)
		if len(users) == 0 {
			delete(c.rooms, roomID)
		}
	}
	c.mu.Unlock()

	if present {
		c.broker.Broadcast(roomID, transport.EventUserTypingStopped, Event{UserID: userID, RoomID: roomID}, exclude...)
	}
}

// StopAll 指定したユーザーの入力状態を全ルームから削除します (切断時用)
func (c *Coordinator) StopAll(userID uuid.UUID) {
	c.mu.Lock()
	removed := make([]uuid.UUID, 0)
	for roomID, users := range c.rooms {
		if _, ok := users[userID]; ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(c.rooms, roomID)
			}
			removed = append(removed, roomID)
		}
	}
	c.mu.Unlock()

	for _, roomID := range removed {
		c.broker.Broadcast(roomID, transport.EventUserTypingStopped, Event{UserID: userID, RoomID: roomID})
	}
}

// Typing 指定したルームで入力中のユーザーのスナップショットを返します
func (c *Coordinator) Typing(roomID uuid.UUID) []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.rooms[roomID]
	result := make([]uuid.UUID, 0, len(users))
	for id := range users {
		result = append(result, id)
	}
	return result
}

// Close スイープを停止します
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// sweep 期限切れのエントリを削除し、それぞれについて一度だけ停止イベントを配信する
func (c *Coordinator) sweep(now time.Time) {
	c.mu.Lock()
	expired := make([]Event, 0)
	for roomID, users := range c.rooms {
		for userID, expiresAt := range users {
			if !expiresAt.After(now) {
				delete(users, userID)
				expired = append(expired, Event{UserID: userID, RoomID: roomID})
			}
		}
		if len(users) == 0 {
			delete(c.rooms, roomID)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.broker.Broadcast(e.RoomID, transport.EventUserTypingStopped, e)
	}
}
