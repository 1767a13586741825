package call

import (
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/leandro-lugaresi/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/repository"
	"github.com/traPtitech/calQ/service/connection"
	"github.com/traPtitech/calQ/service/transport"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEvent
}

type sentEvent struct {
	ConnID  string
	Event   string
	Payload interface{}
}

func (f *fakeSender) Send(connID string, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{ConnID: connID, Event: event, Payload: payload})
	return nil
}

func (f *fakeSender) events(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]string, 0)
	for _, s := range f.sent {
		if s.ConnID == connID {
			result = append(result, s.Event)
		}
	}
	return result
}

type fakeRepo struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*model.Call
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{calls: map[uuid.UUID]*model.Call{}}
}

func (r *fakeRepo) CreateCall(call *model.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; ok {
		return repository.ErrAlreadyExists
	}
	c := *call
	r.calls[call.ID] = &c
	return nil
}

func (r *fakeRepo) UpdateCall(callID uuid.UUID, changes map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return repository.ErrNotFound
	}
	if v, ok := changes["status"]; ok {
		c.Status = v.(model.CallStatus)
	}
	if v, ok := changes["end_time"]; ok {
		t := v.(time.Time)
		c.EndTime = &t
	}
	if v, ok := changes["duration"]; ok {
		d := v.(int)
		c.Duration = &d
	}
	return nil
}

func (r *fakeRepo) GetCall(callID uuid.UUID) (*model.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *fakeRepo) GetCalls(_ repository.CallsQuery) ([]*model.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*model.Call, 0, len(r.calls))
	for _, c := range r.calls {
		cc := *c
		result = append(result, &cc)
	}
	return result, nil
}

func (r *fakeRepo) GetActiveCalls() ([]*model.Call, error) {
	return nil, nil
}

func (r *fakeRepo) GetCallStats(_ uuid.NullUUID) (*repository.CallStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repository.CallStats{Counts: map[model.CallStatus]int64{}}
	for _, c := range r.calls {
		stats.Counts[c.Status]++
		if c.Status == model.CallStatusEnded && c.Duration != nil {
			stats.TotalDuration += int64(*c.Duration)
		}
	}
	return stats, nil
}

type env struct {
	registry *connection.Registry
	sender   *fakeSender
	repo     *fakeRepo
	manager  *Manager
}

func setup(t *testing.T) *env {
	t.Helper()
	e := &env{
		registry: connection.NewRegistry(),
		sender:   &fakeSender{},
		repo:     newFakeRepo(),
	}
	e.manager = NewManager(e.registry, e.sender, e.repo, hub.New(), zap.NewNop(), Config{
		MissedTimeout: time.Hour,
		SweepInterval: time.Hour,
	})
	t.Cleanup(e.manager.Shutdown)
	return e
}

func (e *env) connect(t *testing.T, connID string, name string) uuid.UUID {
	t.Helper()
	userID := uuid.Must(uuid.NewV7())
	_, err := e.registry.Add(connID, userID, name)
	require.NoError(t, err)
	return userID
}

func TestManager_Initiate(t *testing.T) {
	t.Parallel()

	t.Run("receiver offline", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		e.connect(t, "c1", "takashi")
		receiverID := uuid.Must(uuid.NewV7())

		c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
		require.NoError(t, err)

		// 呼び出さずに即不在着信・オファーは誰にも中継されない
		assert.Equal(t, model.CallStatusMissed, c.Status)
		assert.NotNil(t, c.EndTime)
		assert.Equal(t, []string{transport.EventCallMissed}, e.sender.events("c1"))
		assert.Empty(t, e.manager.ActiveCalls())

		stored, err := e.repo.GetCall(c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusMissed, stored.Status)
	})

	t.Run("receiver online", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		callerID := e.connect(t, "c1", "takashi")
		receiverID := e.connect(t, "c2", "hanako")

		c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
		require.NoError(t, err)

		assert.Equal(t, model.CallStatusCalling, c.Status)
		assert.Equal(t, callerID, c.CallerID)
		assert.Len(t, e.manager.ActiveCalls(), 1)

		// オファーは着信者のコネクションへ
		events := e.sender.events("c2")
		require.Equal(t, []string{transport.EventCallOffer}, events)
	})

	t.Run("unknown caller connection", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		_, err := e.manager.Initiate("nope", uuid.Must(uuid.NewV7()), nil, model.CallTypeAudio, nil)
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})
}

func TestManager_AnswerFlow(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.connect(t, "c1", "takashi")
	receiverID := e.connect(t, "c2", "hanako")

	c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
	require.NoError(t, err)

	require.NoError(t, e.manager.MarkRinging(c.ID))
	assert.Contains(t, e.sender.events("c1"), transport.EventCallRinging)

	require.NoError(t, e.manager.RelayAnswer(c.ID, "answer-sdp"))
	assert.Contains(t, e.sender.events("c1"), transport.EventCallAnswer)

	// 応答済みの通話への再応答は拒否される
	assert.ErrorIs(t, e.manager.RelayAnswer(c.ID, "answer-sdp"), ErrInvalidCallState)

	require.NoError(t, e.manager.End(c.ID, "c1", "hangup"))
	assert.Contains(t, e.sender.events("c2"), transport.EventCallEnded)
	assert.Empty(t, e.manager.ActiveCalls())

	stored, err := e.repo.GetCall(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, stored.Status)
	require.NotNil(t, stored.EndTime)
	require.NotNil(t, stored.Duration)
	assert.False(t, stored.EndTime.Before(c.StartTime))
	assert.Equal(t, int(stored.EndTime.Sub(c.StartTime).Seconds()), *stored.Duration)

	// 終了した通話への操作はCallNotFound
	assert.ErrorIs(t, e.manager.End(c.ID, "c1", "hangup"), ErrCallNotFound)
}

func TestManager_Reject(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.connect(t, "c1", "takashi")
	receiverID := e.connect(t, "c2", "hanako")

	c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeAudio, "offer-sdp")
	require.NoError(t, err)

	require.NoError(t, e.manager.RelayReject(c.ID))
	assert.Contains(t, e.sender.events("c1"), transport.EventCallRejected)

	stored, err := e.repo.GetCall(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRejected, stored.Status)
	assert.Nil(t, stored.Duration)
}

func TestManager_RelayIceCandidate(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.connect(t, "c1", "takashi")
	receiverID := e.connect(t, "c2", "hanako")

	c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
	require.NoError(t, err)

	// 発信者→着信者
	require.NoError(t, e.manager.RelayIceCandidate(c.ID, "c1", "candidate-1"))
	assert.Contains(t, e.sender.events("c2"), transport.EventIceCandidate)

	// 着信者→発信者 (アンサー前でも通る)
	require.NoError(t, e.manager.RelayIceCandidate(c.ID, "c2", "candidate-2"))
	assert.Contains(t, e.sender.events("c1"), transport.EventIceCandidate)

	assert.ErrorIs(t, e.manager.RelayIceCandidate(uuid.Must(uuid.NewV7()), "c1", "x"), ErrCallNotFound)
}

func TestManager_HandleDisconnect(t *testing.T) {
	t.Parallel()

	t.Run("before answer", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		e.connect(t, "c1", "takashi")
		receiverID := e.connect(t, "c2", "hanako")

		c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
		require.NoError(t, err)

		// 着信者が応答前に切断 → 不在着信
		e.manager.HandleDisconnect("c2")

		stored, err := e.repo.GetCall(c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusMissed, stored.Status)
		assert.Contains(t, e.sender.events("c1"), transport.EventCallMissed)
		assert.Empty(t, e.manager.ActiveCalls())
	})

	t.Run("after answer", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		e.connect(t, "c1", "takashi")
		receiverID := e.connect(t, "c2", "hanako")

		c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
		require.NoError(t, err)
		require.NoError(t, e.manager.RelayAnswer(c.ID, "answer-sdp"))

		// 通話中に発信者が切断 → 終了
		e.manager.HandleDisconnect("c1")

		stored, err := e.repo.GetCall(c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CallStatusEnded, stored.Status)
		require.NotNil(t, stored.Duration)
		assert.Contains(t, e.sender.events("c2"), transport.EventCallEnded)
	})
}

func TestManager_SweepExpired(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.connect(t, "c1", "takashi")
	receiverID := e.connect(t, "c2", "hanako")

	c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
	require.NoError(t, err)

	// 若い通話は掃除されない
	assert.Equal(t, 0, e.manager.SweepExpired(30*time.Minute))

	// 開始時刻を古くしてスイープ
	s, err := e.manager.get(c.ID)
	require.NoError(t, err)
	s.mu.Lock()
	s.call.StartTime = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	assert.Equal(t, 1, e.manager.SweepExpired(30*time.Minute))
	assert.Empty(t, e.manager.ActiveCalls())

	stored, err := e.repo.GetCall(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusMissed, stored.Status)
}

func TestManager_AnswerTimeoutRace(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.connect(t, "c1", "takashi")
	receiverID := e.connect(t, "c2", "hanako")

	c, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
	require.NoError(t, err)

	// タイマー発火と応答が同時に起きても、適用される遷移はちょうど1つ
	var wg sync.WaitGroup
	var answerErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		answerErr = e.manager.RelayAnswer(c.ID, "answer-sdp")
	}()
	go func() {
		defer wg.Done()
		e.manager.timeout(c.ID)
	}()
	wg.Wait()

	stored, err := e.repo.GetCall(c.ID)
	require.NoError(t, err)
	if answerErr == nil {
		assert.Equal(t, model.CallStatusAccepted, stored.Status)
	} else {
		assert.Equal(t, model.CallStatusMissed, stored.Status)
	}
}

func TestManager_Shutdown(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.connect(t, "c1", "takashi")
	receiverID := e.connect(t, "c2", "hanako")

	c1, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeVideo, "offer-sdp")
	require.NoError(t, err)
	c2, err := e.manager.Initiate("c1", receiverID, nil, model.CallTypeAudio, "offer-sdp")
	require.NoError(t, err)
	require.NoError(t, e.manager.RelayAnswer(c2.ID, "answer-sdp"))

	e.manager.Shutdown()

	stored1, err := e.repo.GetCall(c1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusMissed, stored1.Status)
	stored2, err := e.repo.GetCall(c2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, stored2.Status)
	assert.Empty(t, e.manager.ActiveCalls())
}
