package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pointsystem/internal/config"
	"pointsystem/internal/infrastructure/cache"
	"pointsystem/internal/infrastructure/lock"
	"pointsystem/internal/model"
	"pointsystem/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

var (
	ErrAlreadyClaimed  = errors.New("今日已领取")
	ErrAddPointsFailed = errors.New("发放积分失败")
)

const (
	claimKeyPrefix  = "daily_claim:"
	streakKeyPrefix = "daily_streak:"
)

// DailyClaimService 每日签到
//
// 状态都在 Redis：
//   daily_claim:<uid>:<day>  当日已领标记，零点过期
//   daily_streak:<uid>       连续天数，30天滑动过期，断签30天自动归零
//
// 写入顺序是 发奖励 -> 写标记 -> 写连续天数：中间崩溃时标记不存在，
// 重试会再次放行（至少一次语义，重复发奖只可能出现在崩溃重试场景）
type DailyClaimService struct {
	redisClient  *redis.Client
	counterStore *cache.CounterStore
	pointService *PointService
	cfg          *config.Config
}

func NewDailyClaimService(redisClient *redis.Client, counterStore *cache.CounterStore, pointService *PointService, cfg *config.Config) *DailyClaimService {
	return &DailyClaimService{
		redisClient:  redisClient,
		counterStore: counterStore,
		pointService: pointService,
		cfg:          cfg,
	}
}

// ClaimResult 签到结果
type ClaimResult struct {
	Points        int `json:"points"`
	StreakDays    int `json:"streak_days"`
	NextDayPoints int `json:"next_day_points"` // 明天可领的数量，仅做展示
}

// ClaimInfo 签到面板数据
type ClaimInfo struct {
	Success         bool `json:"success"`
	StreakDays      int  `json:"streak_days"`
	HasClaimedToday bool `json:"has_claimed_today"`
	TodayPoints     int  `json:"today_points"`
	NextDayPoints   int  `json:"next_day_points"`
}

// ClaimFreePoints 领取每日免费积分
//
// 【关键点】并发下的防重领：
// "查标记-发奖励-写标记"不是原子的，按用户加分布式锁让整段串行，
// 拿到锁后再查一次标记（double check），标记本身 SetNX 兜底
func (s *DailyClaimService) ClaimFreePoints(ctx context.Context, userID int64) (*ClaimResult, error) {
	today := s.counterStore.Clock().Today()
	claimKey := fmt.Sprintf("%s%d:%s", claimKeyPrefix, userID, today)
	streakKey := fmt.Sprintf("%s%d", streakKeyPrefix, userID)

	claimLock := lock.NewClaimLock(s.redisClient, userID, idgen.GenerateTaskNo())
	if err := claimLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer claimLock.Unlock(ctx)

	exists, err := s.counterStore.Exists(ctx, claimKey)
	if err != nil {
		log.Printf("查询签到标记失败: userID=%d, err=%v", userID, err)
		return nil, fmt.Errorf("查询签到状态失败: %w", err)
	}
	if exists {
		return nil, ErrAlreadyClaimed
	}

	streakDays, err := s.getStreak(ctx, streakKey)
	if err != nil {
		log.Printf("读取连续签到天数失败: userID=%d, err=%v", userID, err)
		return nil, fmt.Errorf("读取连续签到天数失败: %w", err)
	}

	pointsToClaim := s.calculatePoints(streakDays)

	// 先发奖励再写标记：发放失败时不留任何状态，下次还能领
	if ok := s.pointService.AddPoints(ctx, userID, pointsToClaim, model.PointsTypeFree, "每日签到奖励", "daily_claim_"+today); !ok {
		return nil, ErrAddPointsFailed
	}

	if _, err := s.counterStore.SetNXUntilMidnight(ctx, claimKey, "1"); err != nil {
		log.Printf("写入签到标记失败: userID=%d, err=%v", userID, err)
	}

	streakTTL := time.Duration(s.cfg.Points.StreakWindowDays) * 24 * time.Hour
	if err := s.counterStore.SetWithTTL(ctx, streakKey, streakDays+1, streakTTL); err != nil {
		log.Printf("更新连续签到天数失败: userID=%d, err=%v", userID, err)
	}

	if err := s.pointService.MarkClaimed(ctx, userID, streakDays+1, s.counterStore.Clock().Now()); err != nil {
		log.Printf("更新签到统计失败: userID=%d, err=%v", userID, err)
	}

	log.Printf("签到成功: userID=%d, points=%d, streak=%d", userID, pointsToClaim, streakDays+1)

	return &ClaimResult{
		Points:        pointsToClaim,
		StreakDays:    streakDays + 1,
		NextDayPoints: s.calculatePoints(streakDays + 1),
	}, nil
}

// GetStreakDays 当前连续签到天数，读不到按 0 算
func (s *DailyClaimService) GetStreakDays(ctx context.Context, userID int64) int {
	streakKey := fmt.Sprintf("%s%d", streakKeyPrefix, userID)
	streak, err := s.getStreak(ctx, streakKey)
	if err != nil {
		log.Printf("读取连续签到天数失败: userID=%d, err=%v", userID, err)
		return 0
	}
	return streak
}

// HasClaimedToday 今天是否已领取
func (s *DailyClaimService) HasClaimedToday(ctx context.Context, userID int64) bool {
	claimKey := fmt.Sprintf("%s%d:%s", claimKeyPrefix, userID, s.counterStore.Clock().Today())
	exists, err := s.counterStore.Exists(ctx, claimKey)
	if err != nil {
		log.Printf("查询签到标记失败: userID=%d, err=%v", userID, err)
		return false
	}
	return exists
}

// GetClaimInfo 签到面板，纯读不落任何状态，失败用 Success=false 表达
func (s *DailyClaimService) GetClaimInfo(ctx context.Context, userID int64) *ClaimInfo {
	streakKey := fmt.Sprintf("%s%d", streakKeyPrefix, userID)
	streakDays, err := s.getStreak(ctx, streakKey)
	if err != nil {
		log.Printf("获取签到面板失败: userID=%d, err=%v", userID, err)
		return &ClaimInfo{Success: false}
	}

	return &ClaimInfo{
		Success:         true,
		StreakDays:      streakDays,
		HasClaimedToday: s.HasClaimedToday(ctx, userID),
		TodayPoints:     s.calculatePoints(streakDays),
		NextDayPoints:   s.calculatePoints(streakDays + 1),
	}
}

// calculatePoints 连续签到奖励：第一周 20 + 天数*10 递增，之后每天固定 100
func (s *DailyClaimService) calculatePoints(streakDays int) int {
	if streakDays < 7 {
		return s.cfg.Points.StreakBaseReward + streakDays*s.cfg.Points.StreakStepReward
	}
	return s.cfg.Points.StreakFlatReward
}

func (s *DailyClaimService) getStreak(ctx context.Context, streakKey string) (int, error) {
	val, err := s.counterStore.GetInt(ctx, streakKey)
	if err != nil {
		return 0, err
	}
	return int(val), nil
}
