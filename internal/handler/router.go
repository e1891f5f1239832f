package handler

import (
	"pointsystem/internal/config"
	"pointsystem/internal/infrastructure/cache"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, counterStore *cache.CounterStore, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(IdentityMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, counterStore, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 积分相关
		points := api.Group("/points")
		{
			points.GET("", h.GetUserPoints)
			points.GET("/history", h.GetPointsHistory)
			points.POST("/claim", h.ClaimFreePoints)
			points.GET("/claim-info", h.GetClaimInfo)
			points.POST("/consume", h.ConsumePoints)
			points.POST("/add", h.AddPoints)
			points.POST("/refund", h.RefundPoints)
		}

		// 业务功能相关
		business := api.Group("/business")
		{
			business.POST("/execute", h.ExecuteFunction)
			business.GET("/functions", h.GetFunctions)
			business.GET("/guest-usage/:function_name", h.CheckGuestUsage)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
