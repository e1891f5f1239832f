package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pointsystem/internal/model"

	"github.com/stretchr/testify/require"
)

func TestClaimFreePointsFirstTime(t *testing.T) {
	db := setupTestDB(t, "claim_first_time")
	mr, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3001)

	result, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 20, result.Points)
	require.Equal(t, 1, result.StreakDays)
	require.Equal(t, 30, result.NextDayPoints)

	up, err := pointService.GetUserPoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 20, up.FreePoints)
	require.Equal(t, 20, up.Points)
	require.Equal(t, 1, up.ClaimedDays)

	// 标记与连续天数都落在 Redis
	today := counterStore.Clock().Today()
	require.True(t, mr.Exists(fmt.Sprintf("daily_claim:%d:%s", userID, today)))
	streak, err := mr.Get(fmt.Sprintf("daily_streak:%d", userID))
	require.NoError(t, err)
	require.Equal(t, "1", streak)
}

func TestClaimTwiceSameDayRejected(t *testing.T) {
	db := setupTestDB(t, "claim_twice")
	_, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3002)

	_, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)

	_, err = svc.ClaimFreePoints(ctx, userID)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	// 重复领取不加积分、不写明细
	up, err := pointService.GetUserPoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 20, up.FreePoints)

	var count int64
	require.NoError(t, db.Model(&model.PointDetail{}).Where("user_id = ?", userID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestClaimNextDayIncreasesStreak(t *testing.T) {
	db := setupTestDB(t, "claim_next_day")
	mr, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3003)

	_, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)

	// 过零点：当日标记过期，连续天数窗口还在
	mr.FastForward(25 * time.Hour)

	result, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 30, result.Points)
	require.Equal(t, 2, result.StreakDays)
	require.Equal(t, 40, result.NextDayPoints)

	up, err := pointService.GetUserPoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 50, up.FreePoints)
	require.Equal(t, 2, up.ClaimedDays)
}

func TestClaimAfterStreakWindowExpired(t *testing.T) {
	db := setupTestDB(t, "claim_streak_expired")
	mr, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3004)

	_, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)

	// 断签超过滑动窗口，连续天数归零
	mr.FastForward(31 * 24 * time.Hour)

	result, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 20, result.Points)
	require.Equal(t, 1, result.StreakDays)
}

func TestClaimWithSeededStreak(t *testing.T) {
	db := setupTestDB(t, "claim_seeded_streak")
	_, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3005)

	// 已连续签到 5 天，今天是第 6 天
	require.NoError(t, counterStore.SetWithTTL(ctx, fmt.Sprintf("daily_streak:%d", userID), 5, 24*time.Hour))

	result, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 70, result.Points)
	require.Equal(t, 6, result.StreakDays)
}

func TestStreakRewardFormula(t *testing.T) {
	db := setupTestDB(t, "streak_formula")
	_, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	svc := NewDailyClaimService(client, counterStore, NewPointService(db, cfg), cfg)

	cases := []struct {
		streakDays int
		expected   int
	}{
		{0, 20},
		{1, 30},
		{3, 50},
		{6, 80},
		{7, 100},
		{30, 100},
		{365, 100},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, svc.calculatePoints(tc.streakDays),
			"streakDays=%d", tc.streakDays)
	}
}

func TestGetClaimInfo(t *testing.T) {
	db := setupTestDB(t, "claim_info")
	_, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3006)

	info := svc.GetClaimInfo(ctx, userID)
	require.True(t, info.Success)
	require.False(t, info.HasClaimedToday)
	require.Equal(t, 0, info.StreakDays)
	require.Equal(t, 20, info.TodayPoints)
	require.Equal(t, 30, info.NextDayPoints)

	_, err := svc.ClaimFreePoints(ctx, userID)
	require.NoError(t, err)

	info = svc.GetClaimInfo(ctx, userID)
	require.True(t, info.Success)
	require.True(t, info.HasClaimedToday)
	require.Equal(t, 1, info.StreakDays)
	require.Equal(t, 30, info.TodayPoints)
	require.Equal(t, 40, info.NextDayPoints)
}

func TestConcurrentClaimOnlyOneSucceeds(t *testing.T) {
	db := setupTestDB(t, "claim_concurrent")
	_, client, counterStore := setupTestRedis(t)

	cfg := testConfig()
	pointService := NewPointService(db, cfg)
	svc := NewDailyClaimService(client, counterStore, pointService, cfg)
	ctx := context.Background()
	userID := int64(3007)

	const workers = 4
	results := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = svc.ClaimFreePoints(ctx, userID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	require.Equal(t, 1, successes)

	up, err := pointService.GetUserPoints(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 20, up.FreePoints)
}
