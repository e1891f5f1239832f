package handler

import (
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		// 记录日志
		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-User-ID, X-Fingerprint")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware 身份解析中间件
// 网关完成认证后把用户ID放在 X-User-ID，未登录的前端把浏览器指纹放在 X-Fingerprint，
// 这里只做透传解析，认证本身不在本服务范围内
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userIDStr := c.GetHeader("X-User-ID"); userIDStr != "" {
			if userID, err := strconv.ParseInt(userIDStr, 10, 64); err == nil && userID > 0 {
				c.Set("userID", userID)
			}
		}
		if fingerprint := c.GetHeader("X-Fingerprint"); fingerprint != "" {
			c.Set("fingerprint", fingerprint)
		}
		c.Next()
	}
}

// currentUserID 取已解析的用户ID，0 表示未登录
func currentUserID(c *gin.Context) int64 {
	if v, ok := c.Get("userID"); ok {
		if userID, ok := v.(int64); ok {
			return userID
		}
	}
	return 0
}

// currentFingerprint 取已解析的指纹，空表示没带
func currentFingerprint(c *gin.Context) string {
	if v, ok := c.Get("fingerprint"); ok {
		if fp, ok := v.(string); ok {
			return fp
		}
	}
	return ""
}
