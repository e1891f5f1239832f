package handler

import (
	"errors"
	"strconv"

	"pointsystem/internal/config"
	"pointsystem/internal/infrastructure/cache"
	"pointsystem/internal/model"
	"pointsystem/internal/service"
	"pointsystem/pkg/idgen"
	"pointsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	pointService      *service.PointService
	dailyClaimService *service.DailyClaimService
	businessService   *service.BusinessService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, counterStore *cache.CounterStore, cfg *config.Config) *Handler {
	pointService := service.NewPointService(db, cfg)
	return &Handler{
		pointService:      pointService,
		dailyClaimService: service.NewDailyClaimService(rdb, counterStore, pointService, cfg),
		businessService:   service.NewBusinessService(counterStore),
	}
}

// resolveUserID 优先取网关注入的身份，运维调试时允许 query 传 user_id
func resolveUserID(c *gin.Context) int64 {
	if userID := currentUserID(c); userID > 0 {
		return userID
	}
	if userIDStr := c.Query("user_id"); userIDStr != "" {
		if userID, err := strconv.ParseInt(userIDStr, 10, 64); err == nil {
			return userID
		}
	}
	return 0
}

// ============================================================
// 积分账户相关接口
// ============================================================

// GetUserPoints 查询用户积分
// GET /api/v1/points
func (h *Handler) GetUserPoints(c *gin.Context) {
	userID := resolveUserID(c)
	if userID <= 0 {
		response.ParamError(c, "缺少用户身份")
		return
	}

	up, err := h.pointService.GetUserPoints(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id":         up.UserID,
		"points":          up.Points,
		"free_points":     up.FreePoints,
		"fixed_points":    up.FixedPoints,
		"sub_points":      up.SubPoints,
		"sub_points_left": up.SubPointsLeft,
		"claimed_days":    up.ClaimedDays,
		"claimed_at":      up.ClaimedAt,
	})
}

// GetPointsHistory 分页查询积分明细
// GET /api/v1/points/history?page=1&page_size=10&type=0&points_type=1
func (h *Handler) GetPointsHistory(c *gin.Context) {
	userID := resolveUserID(c)
	if userID <= 0 {
		response.ParamError(c, "缺少用户身份")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	var changeType, pointsType *int
	if v := c.Query("type"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			changeType = &n
		}
	}
	if v := c.Query("points_type"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pointsType = &n
		}
	}

	details, total, err := h.pointService.ListPointDetails(c.Request.Context(), userID, page, pageSize, changeType, pointsType)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      details,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ClaimFreePoints 每日签到领积分
// POST /api/v1/points/claim
func (h *Handler) ClaimFreePoints(c *gin.Context) {
	userID := resolveUserID(c)
	if userID <= 0 {
		response.ParamError(c, "缺少用户身份")
		return
	}

	result, err := h.dailyClaimService.ClaimFreePoints(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyClaimed):
			response.BusinessError(c, response.CodeAlreadyClaimed, err.Error())
		case errors.Is(err, service.ErrAddPointsFailed):
			response.BusinessError(c, response.CodeClaimFailed, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, result)
}

// GetClaimInfo 签到面板
// GET /api/v1/points/claim-info
func (h *Handler) GetClaimInfo(c *gin.Context) {
	userID := resolveUserID(c)
	if userID <= 0 {
		response.ParamError(c, "缺少用户身份")
		return
	}

	info := h.dailyClaimService.GetClaimInfo(c.Request.Context(), userID)
	if !info.Success {
		response.ServerError(c, "获取签到信息失败")
		return
	}
	response.Success(c, info)
}

// ConsumePointsRequest 通用扣减请求
type ConsumePointsRequest struct {
	Amount    int    `json:"amount" binding:"required,gt=0"`
	FuncType  int    `json:"func_type"`
	TaskID    string `json:"task_id"`
	ExtraData string `json:"extra_data"`
}

// ConsumePoints 通用扣减（跨池分摊）
// POST /api/v1/points/consume
func (h *Handler) ConsumePoints(c *gin.Context) {
	userID := resolveUserID(c)
	if userID <= 0 {
		response.ParamError(c, "缺少用户身份")
		return
	}

	var req ConsumePointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if req.TaskID == "" {
		req.TaskID = idgen.GenerateTaskNo()
	}

	result, err := h.pointService.ConsumePoints(c.Request.Context(), userID, req.Amount, req.FuncType, req.TaskID, req.ExtraData)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientPoints) {
			response.BusinessError(c, response.CodeInsufficientPoints, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// AddPointsRequest 加积分请求（充值到账回调、运营补发）
type AddPointsRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int    `json:"amount" binding:"required,gt=0"`
	PointsType  int    `json:"points_type"`
	Description string `json:"description"`
	OrderNo     string `json:"order_no" binding:"required"`
}

// AddPoints 加积分
// POST /api/v1/points/add
func (h *Handler) AddPoints(c *gin.Context) {
	var req AddPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if ok := h.pointService.AddPoints(c.Request.Context(), req.UserID, req.Amount, req.PointsType, req.Description, req.OrderNo); !ok {
		response.ServerError(c, "加积分失败")
		return
	}

	response.Success(c, gin.H{
		"message": "加积分成功",
	})
}

// RefundPointsRequest 退还积分请求
type RefundPointsRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Amount     int    `json:"amount" binding:"required,gt=0"`
	PointsType int    `json:"points_type"`
	Reason     string `json:"reason"`
}

// RefundPoints 退还积分
// POST /api/v1/points/refund
func (h *Handler) RefundPoints(c *gin.Context) {
	var req RefundPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if ok := h.pointService.RefundPoints(c.Request.Context(), req.UserID, req.Amount, req.PointsType, req.Reason); !ok {
		response.BusinessError(c, response.CodeRefundFailed, "退还积分失败")
		return
	}

	response.Success(c, gin.H{
		"message": "退还积分成功",
	})
}

// ============================================================
// 业务功能相关接口
// ============================================================

// ExecuteFunctionRequest 功能执行请求
type ExecuteFunctionRequest struct {
	FunctionName string `json:"function_name" binding:"required"`
	TaskID       string `json:"task_id"`
}

// ExecuteFunction 计量功能入口
// POST /api/v1/business/execute
//
// 【关键点】身份优先级：登录用户 > 游客指纹 > 拒绝
// 1. 登录用户：查余额 -> 判断够不够 -> 选池（银币优先）-> 定向扣减
// 2. 游客：按指纹消耗当日免费额度，检查与递增是一次原子操作
// 3. 两者都没有：额度耗尽，引导登录
func (h *Handler) ExecuteFunction(c *gin.Context) {
	var req ExecuteFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	config := h.businessService.GetFunctionConfig(req.FunctionName)
	if config == nil {
		response.BusinessError(c, response.CodeFunctionNotFound, "功能不存在: "+req.FunctionName)
		return
	}

	if req.TaskID == "" {
		req.TaskID = idgen.GenerateTaskNo()
	}

	if userID := currentUserID(c); userID > 0 {
		h.executeForUser(c, userID, config, req.TaskID)
		return
	}

	if fingerprint := currentFingerprint(c); fingerprint != "" {
		h.executeForGuest(c, fingerprint, config, req.TaskID)
		return
	}

	response.ErrorWithData(c, response.CodeQuotaExhausted, "免费额度已用完，请登录后使用", gin.H{
		"require_login": true,
	})
}

func (h *Handler) executeForUser(c *gin.Context, userID int64, config *model.FunctionConfig, taskID string) {
	up, err := h.pointService.GetUserPoints(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	if !config.HasEnoughPoints(up.FreePoints, up.FixedPoints) {
		response.ErrorWithData(c, response.CodeInsufficientPoints, "积分不足", gin.H{
			"required":          config.CostDisplay(),
			"your_free_points":  up.FreePoints,
			"your_fixed_points": up.FixedPoints,
		})
		return
	}

	pointsType, ok := config.DeterminePointsType(up.FreePoints, up.FixedPoints)
	if !ok {
		response.ErrorWithData(c, response.CodeInsufficientPoints, "积分不足", gin.H{
			"required":          config.CostDisplay(),
			"your_free_points":  up.FreePoints,
			"your_fixed_points": up.FixedPoints,
		})
		return
	}

	cost := config.CostFor(pointsType)
	err = h.pointService.DeductPoints(c.Request.Context(), userID, cost, pointsType, config.FunctionType, taskID, config.FunctionName)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientPoints) {
			response.BusinessError(c, response.CodeInsufficientPoints, "积分不足")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"authenticated":    true,
		"task_id":          taskID,
		"function_type":    config.FunctionType,
		"points_deducted":  cost,
		"points_type":      pointsType,
		"points_type_name": model.PointsTypeName(pointsType),
	})
}

func (h *Handler) executeForGuest(c *gin.Context, fingerprint string, config *model.FunctionConfig, taskID string) {
	usage, err := h.businessService.RecordGuestUsage(c.Request.Context(), fingerprint, config.FunctionName)
	if err != nil {
		if errors.Is(err, service.ErrExceedDailyLimit) {
			response.ErrorWithData(c, response.CodeExceedDailyLimit, usage.Message, gin.H{
				"usage_count":   usage.UsageCount,
				"daily_limit":   usage.DailyLimit,
				"remaining":     usage.Remaining,
				"require_login": true,
			})
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"authenticated":    false,
		"task_id":          taskID,
		"function_type":    config.FunctionType,
		"points_type":      model.PointsTypeTrial,
		"points_type_name": model.PointsTypeName(model.PointsTypeTrial),
		"usage_count":      usage.UsageCount,
		"daily_limit":      usage.DailyLimit,
		"remaining":        usage.Remaining,
	})
}

// CheckGuestUsage 查询游客当日用量
// GET /api/v1/business/guest-usage/:function_name
func (h *Handler) CheckGuestUsage(c *gin.Context) {
	fingerprint := currentFingerprint(c)
	if fingerprint == "" {
		response.ParamError(c, "缺少指纹标识")
		return
	}

	functionName := c.Param("function_name")
	usage, err := h.businessService.CheckGuestUsage(c.Request.Context(), fingerprint, functionName)
	if err != nil {
		if errors.Is(err, service.ErrFunctionNotFound) {
			response.BusinessError(c, response.CodeFunctionNotFound, "功能不存在: "+functionName)
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, usage)
}

// GetFunctions 功能目录
// GET /api/v1/business/functions
func (h *Handler) GetFunctions(c *gin.Context) {
	configs := model.AllFunctions()
	list := make([]gin.H, 0, len(configs))
	for i := range configs {
		fc := &configs[i]
		list = append(list, gin.H{
			"function_type":     fc.FunctionType,
			"function_name":     fc.FunctionName,
			"scene":             fc.Scene,
			"model":             fc.Model,
			"guest_daily_limit": fc.GuestDailyLimit,
			"free_points_cost":  fc.FreePointsCost,
			"fixed_points_cost": fc.FixedPointsCost,
			"cost_display":      fc.CostDisplay(),
		})
	}
	response.Success(c, gin.H{"list": list})
}
