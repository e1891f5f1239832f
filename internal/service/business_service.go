package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pointsystem/internal/infrastructure/cache"
	"pointsystem/internal/model"
)

var (
	ErrFunctionNotFound = errors.New("功能不存在")
	ErrExceedDailyLimit = errors.New("已达今日免费次数上限")
)

const guestUsageKeyPrefix = "guest_usage:"

// BusinessService 游客用量管控
// 以 (指纹, 功能名, 日期) 为键在 Redis 里计数，键在零点自动过期，
// 游客的"每日次数重置"完全靠 TTL，不需要清零任务
type BusinessService struct {
	counterStore *cache.CounterStore
}

func NewBusinessService(counterStore *cache.CounterStore) *BusinessService {
	return &BusinessService{counterStore: counterStore}
}

// GuestUsage 游客用量状态
type GuestUsage struct {
	CanUse     bool   `json:"can_use"`
	UsageCount int    `json:"usage_count"`
	DailyLimit int    `json:"daily_limit"`
	Remaining  int    `json:"remaining"`
	Message    string `json:"message"`
}

// CheckGuestUsage 查询游客当日用量，不产生任何写入
// 未配置的功能名是调用方错误，返回 ErrFunctionNotFound 而不是默认放行
func (s *BusinessService) CheckGuestUsage(ctx context.Context, fingerprint, functionName string) (*GuestUsage, error) {
	config := model.FindFunctionByName(functionName)
	if config == nil {
		return nil, ErrFunctionNotFound
	}

	usageKey := s.buildUsageKey(fingerprint, functionName)
	count, err := s.counterStore.GetInt(ctx, usageKey)
	if err != nil {
		log.Printf("查询游客用量失败: fingerprint=%s, function=%s, err=%v", fingerprint, functionName, err)
		return nil, fmt.Errorf("查询用量失败: %w", err)
	}

	usageCount := int(count)
	dailyLimit := config.GuestDailyLimit
	canUse := usageCount < dailyLimit

	usage := &GuestUsage{
		CanUse:     canUse,
		UsageCount: usageCount,
		DailyLimit: dailyLimit,
		Remaining:  dailyLimit - usageCount,
	}
	if canUse {
		usage.Message = fmt.Sprintf("今日已使用 %d/%d 次", usageCount, dailyLimit)
	} else {
		usage.Message = fmt.Sprintf("今日 %d/%d 次已用完，登录后可不限次使用", usageCount, dailyLimit)
	}
	return usage, nil
}

// RecordGuestUsage 记录一次游客使用
//
// 【关键点】"检查+递增"必须是一次原子操作：
// 两个并发请求抢最后一次额度时，Lua 脚本保证只有一个能加上去，
// 超限的那个返回当前计数、不产生递增
//
// 每次递增都把过期时间重置到零点（从最后一次请求起算，既定行为）
func (s *BusinessService) RecordGuestUsage(ctx context.Context, fingerprint, functionName string) (*GuestUsage, error) {
	config := model.FindFunctionByName(functionName)
	if config == nil {
		return nil, ErrFunctionNotFound
	}

	usageKey := s.buildUsageKey(fingerprint, functionName)
	dailyLimit := config.GuestDailyLimit

	newCount, err := s.counterStore.IncrWithDailyLimit(ctx, usageKey, dailyLimit)
	if err != nil {
		log.Printf("记录游客用量失败: fingerprint=%s, function=%s, err=%v", fingerprint, functionName, err)
		return nil, fmt.Errorf("记录用量失败: %w", err)
	}

	if newCount < 0 {
		// 已达上限，回读当前计数原样返回
		current, err := s.counterStore.GetInt(ctx, usageKey)
		if err != nil {
			log.Printf("回读游客用量失败: fingerprint=%s, function=%s, err=%v", fingerprint, functionName, err)
			current = int64(dailyLimit)
		}
		usage := &GuestUsage{
			CanUse:     false,
			UsageCount: int(current),
			DailyLimit: dailyLimit,
			Remaining:  dailyLimit - int(current),
			Message:    fmt.Sprintf("今日 %d/%d 次已用完，登录后可不限次使用", current, dailyLimit),
		}
		return usage, ErrExceedDailyLimit
	}

	log.Printf("游客用量已记录: fingerprint=%s, function=%s, count=%d/%d", fingerprint, functionName, newCount, dailyLimit)

	return &GuestUsage{
		CanUse:     true,
		UsageCount: int(newCount),
		DailyLimit: dailyLimit,
		Remaining:  dailyLimit - int(newCount),
		Message:    fmt.Sprintf("今日已使用 %d/%d 次", newCount, dailyLimit),
	}, nil
}

// GetFunctionConfig 查功能配置，找不到返回 nil
func (s *BusinessService) GetFunctionConfig(functionName string) *model.FunctionConfig {
	return model.FindFunctionByName(functionName)
}

// buildUsageKey 键格式 guest_usage:<指纹>:<功能名>:<yyyy-MM-dd>
func (s *BusinessService) buildUsageKey(fingerprint, functionName string) string {
	return guestUsageKeyPrefix + fingerprint + ":" + functionName + ":" + s.counterStore.Clock().Today()
}
