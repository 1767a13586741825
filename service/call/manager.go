package call

import (
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/leandro-lugaresi/hub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/event"
	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/repository"
	"github.com/traPtitech/calQ/service/connection"
	"github.com/traPtitech/calQ/service/transport"
)

var (
	// ErrCallNotFound 進行中でない通話IDが指定されました
	ErrCallNotFound = errors.New("call not found")
	// ErrInvalidCallState 状態機械上許可されていない遷移が要求されました
	ErrInvalidCallState = errors.New("invalid call state")
	// ErrConnectionNotFound 登録されていないコネクションです
	ErrConnectionNotFound = errors.New("connection not found")

	activeCallsCounter = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "calq",
		Name:      "active_calls",
	})
)

const (
	persistMaxAttempts = 3
	persistBackoff     = 100 * time.Millisecond
)

// Config 通話セッションマネージャーの設定
type Config struct {
	// MissedTimeout 未応答の通話を不在着信にするまでの時間
	MissedTimeout time.Duration
	// SweepInterval 期限切れ通話の定期スイープ間隔
	SweepInterval time.Duration
}

// session 進行中の通話1件分の状態
//
// 状態の検査と遷移は必ずmuを保持して行う。タイマー発火と明示的な遷移が競合した
// 場合、先にロックを取った側の遷移だけが適用される。
type session struct {
	mu             sync.Mutex
	call           *model.Call
	callerConnID   string
	receiverConnID string
	missedTimer    *time.Timer
}

// Manager 通話セッションマネージャー
//
// 進行中の通話についてはメモリ上の状態が正であり、終了状態に達した時点で
// リポジトリに引き渡してメモリからは削除する。
type Manager struct {
	registry *connection.Registry
	sender   transport.Sender
	repo     repository.CallRepository
	hub      *hub.Hub
	logger   *zap.Logger
	config   Config

	sessions map[uuid.UUID]*session
	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager 通話セッションマネージャーを生成し、スイープを開始します
func NewManager(registry *connection.Registry, sender transport.Sender, repo repository.CallRepository, h *hub.Hub, logger *zap.Logger, config Config) *Manager {
	m := &Manager{
		registry: registry,
		sender:   sender,
		repo:     repo,
		hub:      h,
		logger:   logger.Named("call"),
		config:   config,
		sessions: map[uuid.UUID]*session{},
		stop:     make(chan struct{}),
	}
	go func() {
		t := time.NewTicker(config.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.SweepExpired(config.MissedTimeout)
			case <-m.stop:
				return
			}
		}
	}()
	return m
}

// OfferPayload 着信側に中継されるオファー
type OfferPayload struct {
	CallID     uuid.UUID      `json:"callId"`
	CallerID   uuid.UUID      `json:"callerId"`
	CallerName string         `json:"callerName"`
	ChannelID  *uuid.UUID     `json:"channelId"`
	Type       model.CallType `json:"type"`
	Offer      interface{}    `json:"offer"`
}

// SignalPayload 通話中の両者間で中継されるシグナリングデータ
type SignalPayload struct {
	CallID uuid.UUID   `json:"callId"`
	Data   interface{} `json:"data"`
}

// StatusPayload 状態変化の通知
type StatusPayload struct {
	CallID uuid.UUID        `json:"callId"`
	Status model.CallStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// Initiate 通話を開始します
//
// 着信者にライブコネクションが無い場合、オファーを中継せずに即座に不在着信として
// 記録した通話を返します。それ以外の場合は発信中状態の通話を作成し、オファーを
// 着信者のコネクション1つに中継して不在着信タイマーを開始します。
func (m *Manager) Initiate(callerConnID string, receiverID uuid.UUID, channelID *uuid.UUID, callType model.CallType, offer interface{}) (*model.Call, error) {
	caller, ok := m.registry.Get(callerConnID)
	if !ok {
		return nil, ErrConnectionNotFound
	}

	now := time.Now()
	c := &model.Call{
		ID:         uuid.Must(uuid.NewV7()),
		CallerID:   caller.UserID,
		ReceiverID: receiverID,
		ChannelID:  channelID,
		Type:       callType,
		StartTime:  now,
	}

	receiverConns := m.registry.FindByUser(receiverID)
	if len(receiverConns) == 0 {
		// 着信者オフライン: 呼び出さずに即不在着信
		c.Status = model.CallStatusMissed
		c.EndTime = &now
		m.persistCreate(c)
		m.publishStateChanged(c)
		_ = m.sender.Send(callerConnID, transport.EventCallMissed, StatusPayload{CallID: c.ID, Status: c.Status, Reason: "receiver offline"})
		return c, nil
	}

	c.Status = model.CallStatusCalling
	s := &session{
		call:           c,
		callerConnID:   callerConnID,
		receiverConnID: receiverConns[0],
	}
	s.missedTimer = time.AfterFunc(m.config.MissedTimeout, func() {
		m.timeout(c.ID)
	})

	m.mu.Lock()
	m.sessions[c.ID] = s
	m.mu.Unlock()
	activeCallsCounter.Inc()

	m.persistCreate(c)
	m.publishStateChanged(c)
	_ = m.sender.Send(s.receiverConnID, transport.EventCallOffer, OfferPayload{
		CallID:     c.ID,
		CallerID:   caller.UserID,
		CallerName: caller.Username,
		ChannelID:  channelID,
		Type:       callType,
		Offer:      offer,
	})
	return c, nil
}

// MarkRinging 着信側クライアントによるオファー受信確認を記録します
func (m *Manager) MarkRinging(callID uuid.UUID) error {
	s, err := m.get(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.call.Status.CanTransition(model.CallStatusRinging) {
		s.mu.Unlock()
		return ErrInvalidCallState
	}
	s.call.Status = model.CallStatusRinging
	c := *s.call
	callerConnID := s.callerConnID
	s.mu.Unlock()

	m.persistUpdate(c.ID, map[string]interface{}{"status": c.Status})
	m.publishStateChanged(&c)
	_ = m.sender.Send(callerConnID, transport.EventCallRinging, StatusPayload{CallID: c.ID, Status: c.Status})
	return nil
}

// RelayAnswer アンサーを発信者に中継し、通話を応答済みにします
//
// 発信中・呼び出し中のいずれでもない通話の場合、ErrInvalidCallStateを返します。
func (m *Manager) RelayAnswer(callID uuid.UUID, answer interface{}) error {
	s, err := m.get(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.call.Status.CanTransition(model.CallStatusAccepted) {
		s.mu.Unlock()
		return ErrInvalidCallState
	}
	s.call.Status = model.CallStatusAccepted
	s.stopTimer()
	c := *s.call
	callerConnID := s.callerConnID
	s.mu.Unlock()

	m.persistUpdate(c.ID, map[string]interface{}{"status": c.Status})
	m.publishStateChanged(&c)
	_ = m.sender.Send(callerConnID, transport.EventCallAnswer, SignalPayload{CallID: c.ID, Data: answer})
	return nil
}

// RelayReject 通話を拒否し、発信者に通知します
func (m *Manager) RelayReject(callID uuid.UUID) error {
	s, err := m.get(callID)
	if err != nil {
		return err
	}

	c, callerConnID, err := m.finalize(s, model.CallStatusRejected)
	if err != nil {
		return err
	}
	_ = m.sender.Send(callerConnID, transport.EventCallRejected, StatusPayload{CallID: c.ID, Status: c.Status})
	return nil
}

// RelayIceCandidate ICE候補を相手方のコネクションに中継します
//
// ICE候補はアンサーの前後どちらでも到着しうるため、発信中・呼び出し中・応答済みの
// いずれの状態でも無条件に転送する。ペイロードの中身は解釈しない。
func (m *Manager) RelayIceCandidate(callID uuid.UUID, fromConnID string, candidate interface{}) error {
	s, err := m.get(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	status := s.call.Status
	target := s.callerConnID
	if fromConnID == s.callerConnID {
		target = s.receiverConnID
	}
	s.mu.Unlock()

	if status.Terminal() {
		return ErrInvalidCallState
	}
	_ = m.sender.Send(target, transport.EventIceCandidate, SignalPayload{CallID: callID, Data: candidate})
	return nil
}

// End 応答済みの通話を終了します
//
// 通話時間は開始からの経過秒数(切り捨て)で記録されます。
func (m *Manager) End(callID uuid.UUID, byConnID string, reason string) error {
	s, err := m.get(callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.call.Status != model.CallStatusAccepted {
		s.mu.Unlock()
		return ErrInvalidCallState
	}
	target := s.callerConnID
	if byConnID == s.callerConnID {
		target = s.receiverConnID
	}
	s.mu.Unlock()

	c, _, err := m.finalize(s, model.CallStatusEnded)
	if err != nil {
		return err
	}
	_ = m.sender.Send(target, transport.EventCallEnded, StatusPayload{CallID: c.ID, Status: c.Status, Reason: reason})
	return nil
}

// HandleDisconnect コネクション切断時の処理を行います
//
// 切断したコネクションが関与する進行中の通話を、応答前なら不在着信、
// 応答済みなら終了に遷移させます。
func (m *Manager) HandleDisconnect(connID string) {
	m.mu.RLock()
	affected := make([]*session, 0)
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.callerConnID == connID || s.receiverConnID == connID {
			affected = append(affected, s)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, s := range affected {
		target := s.callerConnID
		if connID == s.callerConnID {
			target = s.receiverConnID
		}

		c, _, err := m.finalizeWith(s, resolveStatus)
		if err != nil {
			// 並行する明示的遷移が勝った
			continue
		}
		eventType := transport.EventCallMissed
		if c.Status == model.CallStatusEnded {
			eventType = transport.EventCallEnded
		}
		_ = m.sender.Send(target, eventType, StatusPayload{CallID: c.ID, Status: c.Status, Reason: "peer disconnected"})
	}
}

// SweepExpired 発信中・呼び出し中のままmaxAgeを超えた通話を不在着信にします
//
// 通話ごとのタイマーの取りこぼしやプロセス再起動に対するバックストップ。
// 解決した通話の数を返します。
func (m *Manager) SweepExpired(maxAge time.Duration) int {
	deadline := time.Now().Add(-maxAge)

	m.mu.RLock()
	candidates := make([]*session, 0)
	for _, s := range m.sessions {
		s.mu.Lock()
		if !s.call.Status.Terminal() && s.call.Status != model.CallStatusAccepted && s.call.StartTime.Before(deadline) {
			candidates = append(candidates, s)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range candidates {
		c, callerConnID, err := m.finalize(s, model.CallStatusMissed)
		if err != nil {
			continue
		}
		n++
		_ = m.sender.Send(callerConnID, transport.EventCallMissed, StatusPayload{CallID: c.ID, Status: c.Status, Reason: "timeout"})
	}
	return n
}

// ActiveCalls 進行中の通話のスナップショットを返します
func (m *Manager) ActiveCalls() []*model.Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*model.Call, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		c := *s.call
		s.mu.Unlock()
		result = append(result, &c)
	}
	return result
}

// GetStats 通話の統計情報を取得します
//
// 状態は変更されない読み取り専用操作。
func (m *Manager) GetStats(userID uuid.NullUUID) (*repository.CallStats, error) {
	return m.repo.GetCallStats(userID)
}

// Shutdown 進行中の通話をベストエフォートで解決し、スイープを停止します
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})

	m.mu.RLock()
	remaining := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.mu.RUnlock()

	for _, s := range remaining {
		_, _, _ = m.finalizeWith(s, resolveStatus)
	}
}

// get 進行中の通話セッションを取得する
func (m *Manager) get(callID uuid.UUID) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return s, nil
}

// timeout 通話ごとの不在着信タイマーの発火処理
func (m *Manager) timeout(callID uuid.UUID) {
	s, err := m.get(callID)
	if err != nil {
		return
	}
	c, callerConnID, err := m.finalize(s, model.CallStatusMissed)
	if err != nil {
		// 既に応答・拒否などで解決済み
		return
	}
	_ = m.sender.Send(callerConnID, transport.EventCallMissed, StatusPayload{CallID: c.ID, Status: c.Status, Reason: "timeout"})
}

// resolveStatus 切断・シャットダウン時の解決先: 応答済みなら終了、それ以外は不在着信
func resolveStatus(current model.CallStatus) model.CallStatus {
	if current == model.CallStatusAccepted {
		return model.CallStatusEnded
	}
	return model.CallStatusMissed
}

// finalize 通話を終了状態に遷移させ、永続化してメモリから削除する
//
// 遷移が状態機械上不正な場合、状態を変更せずにErrInvalidCallStateを返す。
// 永続化はロックを保持せずに行われ、失敗してもメモリ上の遷移は覆らない。
func (m *Manager) finalize(s *session, next model.CallStatus) (*model.Call, string, error) {
	return m.finalizeWith(s, func(model.CallStatus) model.CallStatus { return next })
}

// finalizeWith 現在の状態から遷移先を決定しつつ終了させる。決定と遷移は同一
// クリティカルセクション内で行われる
func (m *Manager) finalizeWith(s *session, pick func(model.CallStatus) model.CallStatus) (*model.Call, string, error) {
	s.mu.Lock()
	next := pick(s.call.Status)
	if !s.call.Status.CanTransition(next) {
		s.mu.Unlock()
		return nil, "", ErrInvalidCallState
	}
	s.call.Status = next
	now := time.Now()
	s.call.EndTime = &now
	changes := map[string]interface{}{
		"status":   next,
		"end_time": now,
	}
	if next == model.CallStatusEnded {
		d := int(now.Sub(s.call.StartTime).Seconds())
		s.call.Duration = &d
		changes["duration"] = d
	}
	s.stopTimer()
	c := *s.call
	callerConnID := s.callerConnID
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, c.ID)
	m.mu.Unlock()
	activeCallsCounter.Dec()

	m.persistUpdate(c.ID, changes)
	m.publishStateChanged(&c)
	return &c, callerConnID, nil
}

// stopTimer 不在着信タイマーを停止する。sのロックを保持して呼ぶこと
func (s *session) stopTimer() {
	if s.missedTimer != nil {
		s.missedTimer.Stop()
		s.missedTimer = nil
	}
}

func (m *Manager) publishStateChanged(c *model.Call) {
	m.hub.Publish(hub.Message{
		Name: event.CallStateChanged,
		Fields: hub.Fields{
			"call_id":     c.ID,
			"caller_id":   c.CallerID,
			"receiver_id": c.ReceiverID,
			"status":      c.Status,
		},
	})
}

// persistCreate 通話レコードを作成する。失敗は上限付きでリトライし、最終的には
// ログに記録して切り捨てる (シグナリングの正しさを永続化より優先する)
func (m *Manager) persistCreate(c *model.Call) {
	m.withRetry(func() error {
		return m.repo.CreateCall(c)
	}, "create", c.ID)
}

func (m *Manager) persistUpdate(callID uuid.UUID, changes map[string]interface{}) {
	m.withRetry(func() error {
		return m.repo.UpdateCall(callID, changes)
	}, "update", callID)
}

func (m *Manager) withRetry(f func() error, op string, callID uuid.UUID) {
	var err error
	for i := 0; i < persistMaxAttempts; i++ {
		if err = f(); err == nil {
			return
		}
		if i < persistMaxAttempts-1 {
			time.Sleep(persistBackoff << i)
		}
	}
	m.logger.Error("failed to persist call record",
		zap.String("op", op), zap.Stringer("call_id", callID), zap.Error(err))
}
