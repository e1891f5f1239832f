package model

import (
	"time"
)

// ============================================================================
// 积分变更方向
// ============================================================================

const (
	PointChangeConsume = 0 // 消耗积分
	PointChangeAdd     = 1 // 增加积分
)

// ============================================================================
// 积分池类型
// 历史数据里存在两套编码，这里统一为一套
// ============================================================================

const (
	PointsTypeFree  = 0 // 免费积分（银币）
	PointsTypeFixed = 1 // 固定积分（金币）
	PointsTypeSub   = 2 // 订阅积分
	PointsTypeTrial = 3 // 游客试用（不扣积分）
)

// PointsTypeName 积分池类型的展示名
func PointsTypeName(pointsType int) string {
	switch pointsType {
	case PointsTypeFree:
		return "免费积分"
	case PointsTypeFixed:
		return "固定积分"
	case PointsTypeSub:
		return "订阅积分"
	case PointsTypeTrial:
		return "游客试用"
	default:
		return "未知"
	}
}

// ============================================================================
// 积分明细实体
// ============================================================================

// PointDetail 积分明细表
// 记录每一笔积分变动，是对账的核心依据
//
// 【重要】明细表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每次余额变更必须产生明细 —— 跨池扣减时每个被扣的池各记一条
// 3. Points 恒为正数，方向由 Type 表达
type PointDetail struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"index;not null" json:"user_id"`
	Points     int       `gorm:"not null" json:"points"`                      // 变动数量（正数）
	Type       int       `gorm:"not null" json:"type"`                        // 0 消耗 / 1 增加
	FuncType   int       `gorm:"not null;default:0" json:"func_type"`         // 业务功能编码，0 为系统
	PointsType int       `gorm:"not null;default:0" json:"points_type"`       // 变动的积分池
	TaskID     string    `gorm:"type:varchar(64);index" json:"task_id"`       // 关联任务号/订单号/签到键
	IsAPI      int       `gorm:"not null;default:0" json:"is_api"`            // 是否 API 调用产生
	ExtraData  string    `gorm:"type:varchar(256)" json:"extra_data"`         // 备注
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PointDetail) TableName() string {
	return "tb_point_detail"
}
