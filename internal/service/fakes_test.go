package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"
	"civicfix-go/internal/repository"
	"civicfix-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeEmbedder 返回固定向量，避免测试依赖外部模型服务。
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) CreateImageEmbedding(ctx context.Context, imageB64 string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.4, 0.5, 0.6}, nil
}

// fakeReranker 按预设得分重打分，或返回预设错误。
type fakeReranker struct {
	scores []float64
	err    error
	called bool
}

func (f *fakeReranker) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		out := make([]float64, len(documents))
		copy(out, f.scores)
		return out, nil
	}
	return make([]float64, len(documents)), nil
}

// fakeKnowledgeRepo 是内存知识库，支持按通路注入命中与故障次数。
type fakeKnowledgeRepo struct {
	mu sync.Mutex

	denseHits map[string][]repository.ScoredDocument // 按索引名区分
	lexHits   []repository.ScoredDocument

	// 剩余故障次数：>0 时该通路返回 store_unavailable 并递减，
	// 用于验证透明重试一次的行为。
	denseFailuresLeft int
	lexFailuresLeft   int

	denseCalls int
	lexCalls   int
}

func (f *fakeKnowledgeRepo) DenseSearch(ctx context.Context, index string, vector []float32, filter model.EvidenceFilter, k int) ([]repository.ScoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denseCalls++
	if f.denseFailuresLeft > 0 {
		f.denseFailuresLeft--
		return nil, apperr.New(apperr.KindStoreUnavailable, "知识库不可达")
	}
	return f.denseHits[index], nil
}

func (f *fakeKnowledgeRepo) LexicalSearch(ctx context.Context, index string, query string, filter model.EvidenceFilter, k int) ([]repository.ScoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lexCalls++
	if f.lexFailuresLeft > 0 {
		f.lexFailuresLeft--
		return nil, apperr.New(apperr.KindStoreUnavailable, "知识库不可达")
	}
	return f.lexHits, nil
}

// fakeMemoryRepo 是内存版的记忆与会话存储。
type fakeMemoryRepo struct {
	mu       sync.Mutex
	records  map[string]map[string]model.MemoryRecord
	sessions map[string]model.SessionState
}

func newFakeMemoryRepo() *fakeMemoryRepo {
	return &fakeMemoryRepo{
		records:  make(map[string]map[string]model.MemoryRecord),
		sessions: make(map[string]model.SessionState),
	}
}

func (f *fakeMemoryRepo) PutRecords(ctx context.Context, userID string, records map[string]model.MemoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[userID] == nil {
		f.records[userID] = make(map[string]model.MemoryRecord)
	}
	for field, rec := range records {
		f.records[userID][field] = rec
	}
	return nil
}

func (f *fakeMemoryRepo) ListRecords(ctx context.Context, userID string) (map[string]model.MemoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.MemoryRecord, len(f.records[userID]))
	for field, rec := range f.records[userID] {
		out[field] = rec
	}
	return out, nil
}

func (f *fakeMemoryRepo) DeleteFields(ctx context.Context, userID string, fields []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.records[userID], field)
	}
	return nil
}

func (f *fakeMemoryRepo) DeleteUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, userID)
	return nil
}

func (f *fakeMemoryRepo) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (f *fakeMemoryRepo) SaveSession(ctx context.Context, state *model.SessionState, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[state.SessionID] = *state
	return nil
}

// fakeTicketRepo 是内存工单库，UpdateStatusIf 模拟条件 UPDATE 的原子语义
// （含 MySQL 值未变化时 RowsAffected 为 0 的行为）。
type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*model.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*model.Ticket)}
}

func (f *fakeTicketRepo) Create(ctx context.Context, ticket *model.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	copied := *ticket
	f.tickets[ticket.TicketID] = &copied
	return nil
}

func (f *fakeTicketRepo) FindByID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "工单不存在: "+ticketID)
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTicketRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Ticket
	for _, t := range f.tickets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTicketRepo) UpdateStatusIf(ctx context.Context, ticketID string, from []string, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if t.Status == s {
			if t.Status == to {
				return false, nil
			}
			t.Status = to
			return true, nil
		}
	}
	return false, nil
}
