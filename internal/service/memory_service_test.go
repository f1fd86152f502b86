package service

import (
	"context"
	"testing"
	"time"

	"civicfix-go/internal/config"
	"civicfix-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryService(repo *fakeMemoryRepo) MemoryService {
	return NewMemoryService(repo,
		config.MemoryConfig{DefaultTTLDays: 180, FeedbackTTLDays: 365},
		config.SessionConfig{TTLSeconds: 1800, MaxMessages: 8})
}

func historyPayload(ticketID, outcome string) model.MemoryPayload {
	return model.MemoryPayload{Type: model.MemoryTypeHistory, Outcome: outcome, TicketID: ticketID}
}

func TestUpsertSupersedesSameKey(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "u1", "submitted CF-1", historyPayload("CF-1", model.OutcomeSubmitted), 180, 1))
	require.NoError(t, svc.Upsert(ctx, "u1", "resolved CF-1", historyPayload("CF-1", model.OutcomeResolved), 365, 2))

	// 同键 upsert 取代旧记录：活跃记录只剩最新一条。
	active, err := svc.QueryRecent(ctx, "u1", model.MemoryTypeHistory, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.OutcomeResolved, active[0].Payload.Outcome)
	assert.Equal(t, 2, active[0].Version)
}

func TestUpsertSameVersionIsIdempotent(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	payload := historyPayload("CF-2", model.OutcomeSubmitted)
	require.NoError(t, svc.Upsert(ctx, "u1", "submitted", payload, 180, 1))
	require.NoError(t, svc.Upsert(ctx, "u1", "submitted again", payload, 180, 1))

	active, err := svc.QueryRecent(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestUpsertRejectsInvalidPayload(t *testing.T) {
	svc := newTestMemoryService(newFakeMemoryRepo())

	// history 缺 outcome 在边界即被拒绝。
	err := svc.Upsert(context.Background(), "u1", "bad", model.MemoryPayload{Type: model.MemoryTypeHistory}, 180, 1)
	require.Error(t, err)
}

func TestDecayCleanupRemovesSupersededAndExpired(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "u1", "v1", historyPayload("CF-3", model.OutcomeSubmitted), 180, 1))
	require.NoError(t, svc.Upsert(ctx, "u1", "v2", historyPayload("CF-3", model.OutcomeResolved), 180, 2))

	// 直接注入一条已过 TTL 的记录。
	expired := model.MemoryRecord{
		UserID:    "u1",
		Payload:   historyPayload("CF-OLD", model.OutcomeNotResolved),
		CreatedAt: time.Now().AddDate(0, 0, -10),
		TTLDays:   7,
		Version:   1,
	}
	require.NoError(t, repo.PutRecords(ctx, "u1", map[string]model.MemoryRecord{"history:CF-OLD:1": expired}))

	removed, err := svc.DecayCleanup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed) // 被取代的 v1 + 过期记录

	// 清理幂等：再次调用无事发生。
	removed, err = svc.DecayCleanup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	active, err := svc.QueryRecent(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConcurrentUpsertsConvergeToHighestVersion(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	// 直接注入两条同键活跃记录，模拟并发 upsert 各自读到不含对方的
	// 快照、谁也没把谁标记为被取代的结果。
	now := time.Now()
	rec := func(version int, outcome string) model.MemoryRecord {
		return model.MemoryRecord{
			UserID:    "u1",
			Payload:   historyPayload("CF-1", outcome),
			CreatedAt: now,
			TTLDays:   180,
			Version:   version,
		}
	}
	require.NoError(t, repo.PutRecords(ctx, "u1", map[string]model.MemoryRecord{
		"history:CF-1:1": rec(1, model.OutcomeSubmitted),
		"history:CF-1:2": rec(2, model.OutcomeResolved),
	}))

	// 读取侧每键只见最高版本，打分器不会重复计入同一条记忆。
	active, err := svc.QueryRecent(ctx, "u1", model.MemoryTypeHistory, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Version)
	assert.Equal(t, model.OutcomeResolved, active[0].Payload.Outcome)

	// 清理侧把低版本重复当作被取代回收。
	removed, err := svc.DecayCleanup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := repo.ListRecords(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReinforcePreferenceIncrementsWeight(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	require.NoError(t, svc.ReinforcePreference(ctx, "u1", model.ChannelApp))
	require.NoError(t, svc.ReinforcePreference(ctx, "u1", model.ChannelApp))

	prefs, err := svc.QueryRecent(ctx, "u1", model.MemoryTypePreference, 0)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, model.ChannelApp, prefs[0].Payload.PrefChannel)
	assert.Equal(t, 2, prefs[0].Payload.PrefWeight)
}

func TestDeleteUserRemovesAllMemory(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "u1", "a", historyPayload("CF-1", model.OutcomeSubmitted), 180, 1))
	require.NoError(t, svc.ReinforcePreference(ctx, "u1", model.ChannelPortal))
	require.NoError(t, svc.DeleteUser(ctx, "u1"))

	active, err := svc.QueryRecent(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSessionRoundTrip(t *testing.T) {
	repo := newFakeMemoryRepo()
	svc := newTestMemoryService(repo)
	ctx := context.Background()

	state := &model.SessionState{SessionID: "s1"}
	state.AppendMessage(model.SessionMessage{Role: "user", Text: "hello", Time: time.Now()}, 8)
	require.NoError(t, svc.SaveSession(ctx, state))

	loaded, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Messages, 1)

	// 不存在的会话返回 nil，不是错误。
	missing, err := svc.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
