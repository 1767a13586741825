package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"
	"github.com/leandro-lugaresi/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/repository"
	"github.com/traPtitech/calQ/router/middlewares"
	"github.com/traPtitech/calQ/service/call"
	"github.com/traPtitech/calQ/service/connection"
	"github.com/traPtitech/calQ/service/presence"
	"github.com/traPtitech/calQ/service/room"
	"github.com/traPtitech/calQ/service/typing"
)

type nopSender struct{}

func (nopSender) Send(string, string, interface{}) error { return nil }

type fakeRepo struct {
	mu    sync.Mutex
	calls []*model.Call
}

func (r *fakeRepo) CreateCall(c *model.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := *c
	r.calls = append(r.calls, &cc)
	return nil
}

func (r *fakeRepo) UpdateCall(uuid.UUID, map[string]interface{}) error { return nil }

func (r *fakeRepo) GetCall(uuid.UUID) (*model.Call, error) { return nil, repository.ErrNotFound }

func (r *fakeRepo) GetCalls(q repository.CallsQuery) ([]*model.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*model.Call, 0)
	for _, c := range r.calls {
		if q.UserID.Valid && c.CallerID != q.UserID.UUID && c.ReceiverID != q.UserID.UUID {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (r *fakeRepo) GetActiveCalls() ([]*model.Call, error) { return nil, nil }

func (r *fakeRepo) GetCallStats(uuid.NullUUID) (*repository.CallStats, error) {
	return &repository.CallStats{Counts: map[model.CallStatus]int64{}}, nil
}

type env struct {
	e      *echo.Echo
	repo   *fakeRepo
	typing *typing.Coordinator
	broker *room.Broker
	reg    *connection.Registry
}

func setup(t *testing.T, adminToken string) *env {
	t.Helper()
	h := hub.New()
	logger := zap.NewNop()
	repo := &fakeRepo{}

	registry := connection.NewRegistry()
	broker := room.NewBroker(registry, nopSender{}, h)
	typingCoordinator := typing.NewCoordinator(broker, 3*time.Second, time.Hour)
	callManager := call.NewManager(registry, nopSender{}, repo, h, logger, call.Config{
		MissedTimeout: time.Hour,
		SweepInterval: time.Hour,
	})
	tracker := presence.NewTracker(h)
	t.Cleanup(func() {
		typingCoordinator.Close()
		callManager.Shutdown()
	})

	config := &Config{Development: true, Version: "test", Revision: "dev", AdminToken: adminToken}
	handlers := &Handlers{
		Repo:     repo,
		Calls:    callManager,
		Presence: tracker,
		Typing:   typingCoordinator,
		Rooms:    broker,
		Hub:      h,
		Logger:   logger,
		Config:   config,
	}
	return &env{
		e:      Setup(handlers, logger, config),
		repo:   repo,
		typing: typingCoordinator,
		broker: broker,
		reg:    registry,
	}
}

func (e *env) request(method, path string, userID uuid.UUID, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if len(body) > 0 {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(middlewares.HeaderUserID, userID.String())
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.e.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_GetPresence(t *testing.T) {
	t.Parallel()

	e := setup(t, "")
	userID := uuid.Must(uuid.NewV7())

	rec := e.request(http.MethodGet, "/api/v1/presence", userID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())
}

func TestHandlers_Unauthorized(t *testing.T) {
	t.Parallel()

	e := setup(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil)
	rec := httptest.NewRecorder()
	e.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_GetRoomTyping(t *testing.T) {
	t.Parallel()

	e := setup(t, "")
	userID := uuid.Must(uuid.NewV7())

	rec := e.request(http.MethodGet, "/api/v1/rooms/not-a-uuid/typing", userID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	roomID := uuid.Must(uuid.NewV7())
	rec = e.request(http.MethodGet, "/api/v1/rooms/"+roomID.String()+"/typing", userID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())
}

func TestHandlers_GetCalls(t *testing.T) {
	t.Parallel()

	e := setup(t, "")
	userID := uuid.Must(uuid.NewV7())
	other := uuid.Must(uuid.NewV7())

	require.NoError(t, e.repo.CreateCall(&model.Call{
		ID:         uuid.Must(uuid.NewV7()),
		CallerID:   userID,
		ReceiverID: other,
		Type:       model.CallTypeVideo,
		Status:     model.CallStatusEnded,
		StartTime:  time.Now(),
	}))
	require.NoError(t, e.repo.CreateCall(&model.Call{
		ID:         uuid.Must(uuid.NewV7()),
		CallerID:   other,
		ReceiverID: uuid.Must(uuid.NewV7()),
		Type:       model.CallTypeAudio,
		Status:     model.CallStatusMissed,
		StartTime:  time.Now(),
	}))

	// 自分が関与する通話だけが返る
	rec := e.request(http.MethodGet, "/api/v1/calls", userID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), `"callerId"`))

	rec = e.request(http.MethodGet, "/api/v1/calls?limit=-1", userID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.request(http.MethodGet, "/api/v1/calls?userId=xxx", userID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.request(http.MethodGet, "/api/v1/calls?since=yesterday", userID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_PostCallsCleanup(t *testing.T) {
	t.Parallel()

	e := setup(t, "s3cr3t")
	userID := uuid.Must(uuid.NewV7())

	rec := e.request(http.MethodPost, "/api/v1/calls/cleanup", userID, `{"maxAgeMinutes":5}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	header := map[string]string{middlewares.HeaderAdminToken: "s3cr3t"}
	rec = e.request(http.MethodPost, "/api/v1/calls/cleanup", userID, `{"maxAgeMinutes":5}`, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resolved":0}`, rec.Body.String())

	rec = e.request(http.MethodPost, "/api/v1/calls/cleanup", userID, `{"maxAgeMinutes":0}`, header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_TokenDisabledCleanup(t *testing.T) {
	t.Parallel()

	e := setup(t, "")
	userID := uuid.Must(uuid.NewV7())

	rec := e.request(http.MethodPost, "/api/v1/calls/cleanup", userID, `{"maxAgeMinutes":5}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
