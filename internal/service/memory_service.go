package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/internal/repository"
	"civicfix-go/pkg/log"
)

// MemoryService 定义了长期记忆与会话状态的操作。
// 不变量：同一 (user_id, payload.type, ticket_id) 键至多一条活跃记录。
// upsert 在写入侧尽力把旧记录标记为被取代；并发写入可能漏标，
// 读取侧每键只取最高版本，清理侧把低版本重复当作被取代回收。
type MemoryService interface {
	Upsert(ctx context.Context, userID, memoryText string, payload model.MemoryPayload, ttlDays, version int) error
	// DecayCleanup 扫描并永久删除已过 TTL 或已被取代的记录。
	// 幂等，适合在每次用户交互时机会式调用；返回删除条数。
	DecayCleanup(ctx context.Context, userID string) (int, error)
	// DeleteUser 永久删除该用户全部记忆（被遗忘权），只返回成功或失败。
	DeleteUser(ctx context.Context, userID string) error
	// QueryRecent 返回该用户最近的活跃记录；memType 为空时不限类型。
	QueryRecent(ctx context.Context, userID, memType string, limit int) ([]model.MemoryRecord, error)
	// ReinforcePreference 强化用户的渠道偏好（每次采纳 +1 权重）。
	ReinforcePreference(ctx context.Context, userID, channel string) error

	GetSession(ctx context.Context, sessionID string) (*model.SessionState, error)
	SaveSession(ctx context.Context, state *model.SessionState) error
}

type memoryService struct {
	memoryRepo repository.MemoryRepository
	cfg        config.MemoryConfig
	sessionTTL time.Duration
	now        func() time.Time
}

// NewMemoryService 创建一个新的 MemoryService 实例。
func NewMemoryService(memoryRepo repository.MemoryRepository, cfg config.MemoryConfig, sessionCfg config.SessionConfig) MemoryService {
	ttl := time.Duration(sessionCfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 1800 * time.Second
	}
	return &memoryService{
		memoryRepo: memoryRepo,
		cfg:        cfg,
		sessionTTL: ttl,
		now:        time.Now,
	}
}

// recordField 生成 hash field：键 + 版本。同键同版本的重试会覆盖
// 同一条记录，因此 upsert 对版本幂等、重试安全。
func recordField(payload model.MemoryPayload, version int) string {
	return fmt.Sprintf("%s:%d", payload.Key(), version)
}

func (s *memoryService) Upsert(ctx context.Context, userID, memoryText string, payload model.MemoryPayload, ttlDays, version int) error {
	if err := payload.Validate(); err != nil {
		return apperr.Wrap(apperr.KindValidationError, "记忆负载非法", err)
	}
	if ttlDays <= 0 {
		ttlDays = s.cfg.DefaultTTLDays
	}

	existing, err := s.memoryRepo.ListRecords(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now()
	writes := map[string]model.MemoryRecord{
		recordField(payload, version): {
			UserID:     userID,
			MemoryText: memoryText,
			Payload:    payload,
			CreatedAt:  now,
			TTLDays:    ttlDays,
			Version:    version,
		},
	}
	// 同键的旧活跃记录标记为被取代（软删除），等待衰减清理回收。
	// 这是快照上的尽力而为：并发 upsert 彼此看不见对方的写入，
	// 漏标的重复由 QueryRecent / DecayCleanup 按版本收敛。
	for field, rec := range existing {
		if rec.Payload.Key() == payload.Key() && rec.Version != version && rec.Active(now) {
			rec.Superseded = true
			writes[field] = rec
		}
	}

	if err := s.memoryRepo.PutRecords(ctx, userID, writes); err != nil {
		return err
	}
	log.Infof("[MemoryService] upsert 成功, user: %s, key: %s, version: %d", userID, payload.Key(), version)
	return nil
}

func (s *memoryService) DecayCleanup(ctx context.Context, userID string) (int, error) {
	records, err := s.memoryRepo.ListRecords(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	// 每键的最高活跃版本；并发 upsert 留下的低版本重复按被取代处理。
	maxVersion := make(map[string]int)
	for _, rec := range records {
		if rec.Active(now) && rec.Version > maxVersion[rec.Payload.Key()] {
			maxVersion[rec.Payload.Key()] = rec.Version
		}
	}
	var stale []string
	for field, rec := range records {
		if rec.Superseded || rec.Expired(now) || rec.Version < maxVersion[rec.Payload.Key()] {
			stale = append(stale, field)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.memoryRepo.DeleteFields(ctx, userID, stale); err != nil {
		return 0, err
	}
	log.Infof("[MemoryService] 衰减清理完成, user: %s, 删除 %d 条", userID, len(stale))
	return len(stale), nil
}

func (s *memoryService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.memoryRepo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	log.Infof("[MemoryService] 已删除用户全部记忆, user: %s", userID)
	return nil
}

func (s *memoryService) QueryRecent(ctx context.Context, userID, memType string, limit int) ([]model.MemoryRecord, error) {
	records, err := s.memoryRepo.ListRecords(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 读取侧去重：每键只保留最高版本，屏蔽并发 upsert 漏标的低版本重复。
	now := s.now()
	latest := make(map[string]model.MemoryRecord)
	for _, rec := range records {
		if !rec.Active(now) {
			continue
		}
		if memType != "" && rec.Payload.Type != memType {
			continue
		}
		key := rec.Payload.Key()
		if cur, ok := latest[key]; !ok || rec.Version > cur.Version {
			latest[key] = rec
		}
	}
	active := make([]model.MemoryRecord, 0, len(latest))
	for _, rec := range latest {
		active = append(active, rec)
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].Payload.Key() < active[j].Payload.Key()
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (s *memoryService) ReinforcePreference(ctx context.Context, userID, channel string) error {
	prefs, err := s.QueryRecent(ctx, userID, model.MemoryTypePreference, 1)
	if err != nil {
		return err
	}

	weight := 1
	version := 1
	if len(prefs) > 0 {
		weight = prefs[0].Payload.PrefWeight + 1
		version = prefs[0].Version + 1
	}
	payload := model.MemoryPayload{
		Type:        model.MemoryTypePreference,
		PrefChannel: channel,
		PrefWeight:  weight,
	}
	text := fmt.Sprintf("Preference: user tends to use %s (weight %d)", channel, weight)
	return s.Upsert(ctx, userID, text, payload, s.cfg.DefaultTTLDays, version)
}

func (s *memoryService) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	return s.memoryRepo.GetSession(ctx, sessionID)
}

func (s *memoryService) SaveSession(ctx context.Context, state *model.SessionState) error {
	return s.memoryRepo.SaveSession(ctx, state, s.sessionTTL)
}
