package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, CallStatusCalling.Terminal())
	assert.False(t, CallStatusRinging.Terminal())
	assert.False(t, CallStatusAccepted.Terminal())
	assert.True(t, CallStatusRejected.Terminal())
	assert.True(t, CallStatusMissed.Terminal())
	assert.True(t, CallStatusEnded.Terminal())
}

func TestCallStatus_CanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from CallStatus
		to   CallStatus
		ok   bool
	}{
		{CallStatusCalling, CallStatusRinging, true},
		{CallStatusCalling, CallStatusAccepted, true},
		{CallStatusCalling, CallStatusRejected, true},
		{CallStatusCalling, CallStatusMissed, true},
		{CallStatusCalling, CallStatusEnded, false},
		{CallStatusRinging, CallStatusAccepted, true},
		{CallStatusRinging, CallStatusRejected, true},
		{CallStatusRinging, CallStatusMissed, true},
		{CallStatusRinging, CallStatusCalling, false},
		{CallStatusRinging, CallStatusEnded, false},
		{CallStatusAccepted, CallStatusEnded, true},
		{CallStatusAccepted, CallStatusMissed, false},
		{CallStatusAccepted, CallStatusRejected, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}

	// 終了状態からはどこにも遷移できない
	for _, from := range []CallStatus{CallStatusRejected, CallStatusMissed, CallStatusEnded} {
		for _, to := range []CallStatus{CallStatusCalling, CallStatusRinging, CallStatusAccepted, CallStatusRejected, CallStatusMissed, CallStatusEnded} {
			assert.False(t, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}
