package score

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 以 Redis Sorted Set 保存最佳時間
//
// member = 玩家，score = 毫秒。比較與寫入必須是原子操作，
// 否則兩局同時結束時較慢的一局可能覆蓋較快的紀錄，所以用 Lua 腳本。
type RedisStore struct {
	client *redis.Client
	key    string
	script *redis.Script
}

// KEYS[1]: sorted set
// ARGV[1]: 玩家
// ARGV[2]: 耗時（毫秒）
//
// 回傳 1 表示寫入，0 表示沒有比現有紀錄快
var setIfBetterScript = `
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
local elapsed = tonumber(ARGV[2])

if current and tonumber(current) <= elapsed then
    return 0
end

redis.call('ZADD', KEYS[1], elapsed, ARGV[1])
return 1
`

// NewRedisStore 創建 Redis 最佳時間儲存
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		script: redis.NewScript(setIfBetterScript),
	}
}

// SetIfBetter 實作 BestTimeStore
func (s *RedisStore) SetIfBetter(ctx context.Context, participant string, elapsed time.Duration) (bool, error) {
	written, err := s.script.Run(ctx, s.client, []string{s.key}, participant, elapsed.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set if better: %w", err)
	}
	return written == 1, nil
}

// BestTime 實作 BestTimeStore
func (s *RedisStore) BestTime(ctx context.Context, participant string) (time.Duration, bool, error) {
	ms, err := s.client.ZScore(ctx, s.key, participant).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis best time: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}
