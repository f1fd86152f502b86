package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// MemoryRepository 定义了长期记忆与会话短期状态的存取接口。
// 记忆以 user 维度的 hash 存储，field 为 "{type}:{ticket_id}:{version}"；
// 取代/衰减语义由 service 层实现，这里只负责原子读写。
type MemoryRepository interface {
	PutRecords(ctx context.Context, userID string, records map[string]model.MemoryRecord) error
	ListRecords(ctx context.Context, userID string) (map[string]model.MemoryRecord, error)
	DeleteFields(ctx context.Context, userID string, fields []string) error
	DeleteUser(ctx context.Context, userID string) error

	GetSession(ctx context.Context, sessionID string) (*model.SessionState, error)
	SaveSession(ctx context.Context, state *model.SessionState, ttl time.Duration) error
}

type redisMemoryRepository struct {
	redisClient *redis.Client
}

// NewMemoryRepository 创建一个新的 MemoryRepository 实例。
func NewMemoryRepository(redisClient *redis.Client) MemoryRepository {
	return &redisMemoryRepository{redisClient: redisClient}
}

func memoryKey(userID string) string {
	return fmt.Sprintf("civicfix:memory:%s", userID)
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("civicfix:sess:%s", sessionID)
}

// PutRecords 在一次 pipeline 中写入多条记录，保证 upsert + 取代标记的原子性。
func (r *redisMemoryRepository) PutRecords(ctx context.Context, userID string, records map[string]model.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(records))
	for field, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal memory record: %w", err)
		}
		fields[field] = data
	}
	if err := r.redisClient.HSet(ctx, memoryKey(userID), fields).Err(); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "记忆库写入失败", err)
	}
	return nil
}

// ListRecords 读取用户的全部记忆记录（含被取代与过期的，由调用方过滤）。
func (r *redisMemoryRepository) ListRecords(ctx context.Context, userID string) (map[string]model.MemoryRecord, error) {
	raw, err := r.redisClient.HGetAll(ctx, memoryKey(userID)).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "记忆库读取失败", err)
	}
	records := make(map[string]model.MemoryRecord, len(raw))
	for field, data := range raw {
		var rec model.MemoryRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			// 坏记录跳过，不影响其余记忆
			continue
		}
		records[field] = rec
	}
	return records, nil
}

// DeleteFields 删除指定的记忆记录，用于衰减清理。
func (r *redisMemoryRepository) DeleteFields(ctx context.Context, userID string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.redisClient.HDel(ctx, memoryKey(userID), fields...).Err(); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "记忆库删除失败", err)
	}
	return nil
}

// DeleteUser 永久删除该用户的全部记忆（被遗忘权），要么全删要么报错。
func (r *redisMemoryRepository) DeleteUser(ctx context.Context, userID string) error {
	if err := r.redisClient.Del(ctx, memoryKey(userID)).Err(); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "记忆库删除失败", err)
	}
	return nil
}

// GetSession 读取会话状态；过期或不存在时返回 nil（读取即校验 TTL）。
func (r *redisMemoryRepository) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	raw, err := r.redisClient.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "会话读取失败", err)
	}
	var state model.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &state, nil
}

// SaveSession 以硬 TTL 保存会话状态，到期由 Redis 自行过期。
func (r *redisMemoryRepository) SaveSession(ctx context.Context, state *model.SessionState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	if err := r.redisClient.Set(ctx, sessionKey(state.SessionID), data, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "会话写入失败", err)
	}
	return nil
}
