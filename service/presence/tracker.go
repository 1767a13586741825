package presence

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/leandro-lugaresi/hub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/traPtitech/calQ/event"
)

var onlineUsersCounter = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "calq",
	Name:      "online_users",
})

// Tracker オンラインユーザートラッカー
//
// コネクションの接続・切断イベントからユーザーごとの接続数を数え、
// 0→1 / 1→0 の遷移でオンライン・オフラインイベントを発行する。
type Tracker struct {
	hub          *hub.Hub
	counters     map[uuid.UUID]*counter
	countersLock sync.Mutex
}

// NewTracker オンラインユーザートラッカーを生成します
func NewTracker(h *hub.Hub) *Tracker {
	tr := &Tracker{
		hub:      h,
		counters: map[uuid.UUID]*counter{},
	}
	go func() {
		for e := range h.Subscribe(8, event.SessionConnected, event.SessionDisconnected).Receiver {
			switch e.Topic() {
			case event.SessionConnected:
				tr.inc(e.Fields["user_id"].(uuid.UUID))
			case event.SessionDisconnected:
				tr.dec(e.Fields["user_id"].(uuid.UUID))
			}
		}
	}()
	return tr
}

// inc 指定したユーザーのカウンタをインクリメントします
func (tr *Tracker) inc(userID uuid.UUID) (toOnline bool) {
	tr.countersLock.Lock()
	c, ok := tr.counters[userID]
	if !ok {
		c = &counter{
			userID: userID,
		}
		tr.counters[userID] = c
	}
	tr.countersLock.Unlock()

	toOnline = c.inc()
	if toOnline {
		onlineUsersCounter.Inc()
		tr.hub.Publish(hub.Message{
			Name: event.UserOnline,
			Fields: hub.Fields{
				"user_id":  userID,
				"datetime": c.getLastUpdated(),
			},
		})
	}
	return
}

// dec 指定したユーザーのカウンタをデクリメントします
func (tr *Tracker) dec(userID uuid.UUID) (toOffline bool) {
	tr.countersLock.Lock()
	c, ok := tr.counters[userID]
	if !ok {
		tr.countersLock.Unlock()
		return
	}
	tr.countersLock.Unlock()

	toOffline = c.dec()
	if toOffline {
		onlineUsersCounter.Dec()
		tr.hub.Publish(hub.Message{
			Name: event.UserOffline,
			Fields: hub.Fields{
				"user_id":  userID,
				"datetime": c.getLastUpdated(),
			},
		})
	}
	return
}

// IsOnline 指定したユーザーがオンラインかどうかを取得します
func (tr *Tracker) IsOnline(userID uuid.UUID) bool {
	tr.countersLock.Lock()
	c, ok := tr.counters[userID]
	if !ok {
		tr.countersLock.Unlock()
		return false
	}
	tr.countersLock.Unlock()

	return c.isOnline()
}

// GetOnlineUserIDs オンラインなユーザーのUUIDの配列を取得します
func (tr *Tracker) GetOnlineUserIDs() []uuid.UUID {
	tr.countersLock.Lock()
	users := make([]uuid.UUID, 0, len(tr.counters))
	for u, c := range tr.counters {
		if c.isOnline() {
			users = append(users, u)
		}
	}
	tr.countersLock.Unlock()
	return users
}

type counter struct {
	sync.RWMutex
	userID      uuid.UUID
	count       int
	lastUpdated time.Time
}

func (s *counter) isOnline() (r bool) {
	s.RLock()
	r = s.count > 0
	s.RUnlock()
	return
}

func (s *counter) inc() (toOnline bool) {
	s.Lock()
	s.count++
	s.lastUpdated = time.Now()
	if s.count == 1 {
		toOnline = true
	}
	s.Unlock()
	return
}

func (s *counter) dec() (toOffline bool) {
	s.Lock()
	if s.count > 0 {
		s.count--
		s.lastUpdated = time.Now()
		if s.count == 0 {
			toOffline = true
		}
	}
	s.Unlock()
	return
}

func (s *counter) getLastUpdated() (t time.Time) {
	s.RLock()
	t = s.lastUpdated
	s.RUnlock()
	return
}
