package service

import (
	"fmt"
	"testing"

	"pointsystem/internal/config"
	"pointsystem/internal/infrastructure/cache"
	"pointsystem/internal/infrastructure/database"
	"pointsystem/pkg/daykey"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testConfig 测试用配置，口径与默认配置保持一致
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Points = config.PointsConfig{
		Timezone:         "UTC",
		StreakWindowDays: 30,
		StreakBaseReward: 20,
		StreakStepReward: 10,
		StreakFlatReward: 100,
	}
	cfg.Kafka.Topic.PointEvents = "point_events"
	return cfg
}

// setupTestDB 每个测试独立的内存库，单连接避免共享缓存下的锁竞争
func setupTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// setupTestRedis 内存 Redis，测试结束自动回收
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *cache.CounterStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := daykey.MustNewClock("UTC")
	return mr, client, cache.NewCounterStore(client, clock)
}
