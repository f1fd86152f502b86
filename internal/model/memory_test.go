package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPayloadValidate(t *testing.T) {
	// history 必须带 outcome。
	require.Error(t, MemoryPayload{Type: MemoryTypeHistory}.Validate())
	require.NoError(t, MemoryPayload{Type: MemoryTypeHistory, Outcome: OutcomeResolved}.Validate())

	// preference 必须带 pref_channel。
	require.Error(t, MemoryPayload{Type: MemoryTypePreference}.Validate())
	require.NoError(t, MemoryPayload{Type: MemoryTypePreference, PrefChannel: ChannelApp}.Validate())

	// 未知类型在边界即被拒绝。
	require.Error(t, MemoryPayload{Type: "note"}.Validate())
}

func TestMemoryPayloadKey(t *testing.T) {
	p := MemoryPayload{Type: MemoryTypeHistory, TicketID: "CF-1"}
	assert.Equal(t, "history:CF-1", p.Key())

	// preference 无工单号，键只含类型。
	assert.Equal(t, "preference:", MemoryPayload{Type: MemoryTypePreference}.Key())
}

func TestMemoryRecordLifecycle(t *testing.T) {
	now := time.Now()
	rec := MemoryRecord{CreatedAt: now.AddDate(0, 0, -5), TTLDays: 7}

	assert.False(t, rec.Expired(now))
	assert.True(t, rec.Active(now))

	assert.True(t, rec.Expired(now.AddDate(0, 0, 3)))
	assert.False(t, rec.Active(now.AddDate(0, 0, 3)))

	rec.Superseded = true
	assert.False(t, rec.Active(now))
}

func TestSessionAppendMessageTrimsWindow(t *testing.T) {
	s := SessionState{SessionID: "s1"}
	for i := 0; i < 10; i++ {
		s.AppendMessage(SessionMessage{Role: "user", Text: "m"}, 8)
	}
	assert.Len(t, s.Messages, 8)
}
