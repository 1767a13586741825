package presence

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/leandro-lugaresi/hub"
	"github.com/stretchr/testify/assert"
)

func TestTracker_OnlineOffline(t *testing.T) {
	t.Parallel()

	h := hub.New()
	tr := &Tracker{
		hub:      h,
		counters: map[uuid.UUID]*counter{},
	}
	userID := uuid.Must(uuid.NewV7())

	assert.False(t, tr.IsOnline(userID))

	// 0→1 でオンライン
	assert.True(t, tr.inc(userID))
	assert.True(t, tr.IsOnline(userID))

	// 2接続目ではイベントは発生しない
	assert.False(t, tr.inc(userID))

	// 片方切断してもオンラインのまま
	assert.False(t, tr.dec(userID))
	assert.True(t, tr.IsOnline(userID))

	// 1→0 でオフライン
	assert.True(t, tr.dec(userID))
	assert.False(t, tr.IsOnline(userID))

	// 余分なデクリメントは無視される
	assert.False(t, tr.dec(userID))
}

func TestTracker_GetOnlineUserIDs(t *testing.T) {
	t.Parallel()

	h := hub.New()
	tr := &Tracker{
		hub:      h,
		counters: map[uuid.UUID]*counter{},
	}

	u1 := uuid.Must(uuid.NewV7())
	u2 := uuid.Must(uuid.NewV7())
	tr.inc(u1)
	tr.inc(u2)
	tr.dec(u2)

	assert.ElementsMatch(t, []uuid.UUID{u1}, tr.GetOnlineUserIDs())
}
