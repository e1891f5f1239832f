package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"pointsystem/pkg/daykey"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 按天计数器存储
// ============================================================================
//
// 【为什么限额递增要用 Lua？】
//
// 场景：同一指纹只剩 1 次额度，两个请求同时进来
//
// 如果先 GET 再 INCR（两次往返）：
//   请求1: GET=4 < 5 通过 -> INCR -> 5
//   请求2: GET=4 < 5 通过 -> INCR -> 6   超了！
//
// 用 Lua 把"读-比较-加-续期"压成一次原子操作：
//   请求1: 脚本内 4<5 -> INCR=5
//   请求2: 脚本内 5>=5 -> 返回 -1，计数不动
//
// 【TTL 口径】每次递增都把过期时间重置为"距零点的秒数"，
// 临近零点的连续请求会从最后一次请求起重新推算过期点，这是既定行为
//
// ============================================================================

// incrWithLimitScript 读当前值，达到上限返回 -1，否则 INCR 并续期到零点
var incrWithLimitScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
	return -1
end
local newCount = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return newCount
`)

// CounterStore 带每日过期语义的计数器/标记存储
type CounterStore struct {
	client *redis.Client
	clock  *daykey.Clock
}

func NewCounterStore(client *redis.Client, clock *daykey.Clock) *CounterStore {
	return &CounterStore{client: client, clock: clock}
}

// Clock 暴露时钟，调用方拼日期键时用同一口径
func (s *CounterStore) Clock() *daykey.Clock {
	return s.clock
}

// GetInt 读整数值，键不存在返回 0
func (s *CounterStore) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// IncrWithDailyLimit 原子地"检查并递增"当日计数
// 返回递增后的值；已达上限返回 -1，计数保持不变
func (s *CounterStore) IncrWithDailyLimit(ctx context.Context, key string, limit int) (int64, error) {
	ttl := s.clock.SecondsUntilMidnight()
	result, err := incrWithLimitScript.Run(ctx, s.client, []string{key}, limit, ttl).Int64()
	if err != nil {
		return 0, err
	}
	return result, nil
}

// SetNXUntilMidnight 不存在才写入，过期时间为零点
// 返回 true 表示本次写入成功（之前不存在）
func (s *CounterStore) SetNXUntilMidnight(ctx context.Context, key, value string) (bool, error) {
	ttl := time.Duration(s.clock.SecondsUntilMidnight()) * time.Second
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Exists 键是否存在
func (s *CounterStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetWithTTL 写入并指定过期时间，用于连续签到计数（滑动窗口）
func (s *CounterStore) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
