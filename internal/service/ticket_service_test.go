package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTicket(t *testing.T, svc TicketService, autoSubmit bool) *model.Ticket {
	t.Helper()
	ticket, err := svc.Create(context.Background(), CreateTicketInput{
		UserID:        "u1",
		City:          "Pune",
		WardID:        "W12",
		Category:      "Garbage",
		Department:    "Sanitation",
		Channel:       model.ChannelPortal,
		ComplaintText: "garbage not collected for days",
		AutoSubmit:    autoSubmit,
	})
	require.NoError(t, err)
	return ticket
}

func TestCreateTicketStatusAndID(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())

	draft := createTicket(t, svc, false)
	assert.Equal(t, model.TicketStatusNew, draft.Status)
	assert.True(t, strings.HasPrefix(draft.TicketID, "CF-"))
	assert.Len(t, draft.TicketID, 13)

	submitted := createTicket(t, svc, true)
	assert.Equal(t, model.TicketStatusSubmitted, submitted.Status)
	assert.NotEqual(t, draft.TicketID, submitted.TicketID)
}

func TestTrackUnknownTicketReturnsNotFound(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())

	_, _, err := svc.Track(context.Background(), "CF-MISSING")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEscalateFromSubmitted(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())
	ticket := createTicket(t, svc, true)

	updated, plan, err := svc.Escalate(context.Background(), ticket.TicketID, 5)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusEscalated, updated.Status)

	// 升级阶梯：辖区催办 → 部门负责人 → 市政专员 → 申诉机构。
	require.Len(t, plan, 4)
	assert.Equal(t, 0, plan[0].Day)
	assert.Equal(t, "Ward Officer", plan[0].Authority)
	slaDays := svc.SLADays("Sanitation", "Garbage")
	assert.Equal(t, slaDays, plan[1].Day)
	assert.Equal(t, slaDays+7, plan[3].Day)
}

func TestEscalateInvalidTransitions(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())
	ctx := context.Background()

	// new 状态不能直接升级。
	draft := createTicket(t, svc, false)
	_, _, err := svc.Escalate(ctx, draft.TicketID, 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	// resolved 状态不能升级。
	done := createTicket(t, svc, true)
	require.NoError(t, svc.Resolve(ctx, done.TicketID))
	_, _, err = svc.Escalate(ctx, done.TicketID, 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestConcurrentEscalateSingleWinner(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())
	ticket := createTicket(t, svc, true)
	ctx := context.Background()

	// 并发升级：条件更新只有一方真正迁移，双方都拿到已生效的计划。
	var wg sync.WaitGroup
	errs := make([]error, 2)
	plans := make([][]model.EscalationStep, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, plans[i], errs[i] = svc.Escalate(ctx, ticket.TicketID, 5)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, plans[0], 4)
	assert.Len(t, plans[1], 4)

	final, _, err := svc.Track(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusEscalated, final.Status)
}

func TestResolveIsIdempotent(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())
	ticket := createTicket(t, svc, true)
	ctx := context.Background()

	require.NoError(t, svc.Resolve(ctx, ticket.TicketID))
	// 重复 resolve 不报错。
	require.NoError(t, svc.Resolve(ctx, ticket.TicketID))

	final, _, err := svc.Track(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusResolved, final.Status)
}

func TestAbandonFromUnresolvedOnly(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())
	ctx := context.Background()

	ticket := createTicket(t, svc, true)
	require.NoError(t, svc.Abandon(ctx, ticket.TicketID))
	// 重复放弃幂等。
	require.NoError(t, svc.Abandon(ctx, ticket.TicketID))

	final, _, err := svc.Track(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusAbandoned, final.Status)

	// resolved 终态不能再放弃。
	done := createTicket(t, svc, true)
	require.NoError(t, svc.Resolve(ctx, done.TicketID))
	err = svc.Abandon(ctx, done.TicketID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestSLADaysLookup(t *testing.T) {
	svc := NewTicketService(newFakeTicketRepo())

	assert.Equal(t, 3, svc.SLADays("Sanitation", "Garbage"))
	assert.Equal(t, 1, svc.SLADays("Electricity", "Outage"))
	// 类别未知时退回部门级默认，部门未知时退回全局默认 7 天。
	assert.Equal(t, 4, svc.SLADays("Sanitation", "Unknown"))
	assert.Equal(t, 7, svc.SLADays("Unknown Dept", "Stuff"))
}
