package model

import (
	"time"
)

// UserPoint 用户积分账户表
// 三个积分池：免费积分（银币，签到/任务获得）、固定积分（金币，充值购买）、
// 订阅积分（订阅周期发放，SubPoints 为本期额度，SubPointsLeft 为剩余）
//
// Points 是聚合字段，始终等于 free + fixed + sub_left 之和，
// 每次变更在同一事务内重算，读侧不单独维护
type UserPoint struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Points        int       `gorm:"not null;default:0" json:"points"`          // 聚合总积分
	FreePoints    int       `gorm:"not null;default:0" json:"free_points"`     // 免费积分（银币）
	FixedPoints   int       `gorm:"not null;default:0" json:"fixed_points"`    // 固定积分（金币）
	SubPoints     int       `gorm:"not null;default:0" json:"sub_points"`      // 订阅期额度
	SubPointsLeft int       `gorm:"not null;default:0" json:"sub_points_left"` // 订阅期剩余
	ClaimedDays   int       `gorm:"not null;default:0" json:"claimed_days"`    // 连续签到天数
	ClaimedAt     time.Time `json:"claimed_at"`                                // 最近一次签到时间
	Version       int       `gorm:"not null;default:0" json:"version"`         // 乐观锁版本号
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPoint) TableName() string {
	return "tb_user_points"
}

// TotalAvailable 三个池的可用总和
func (u *UserPoint) TotalAvailable() int {
	return u.FreePoints + u.SubPointsLeft + u.FixedPoints
}

// RecalcAggregate 重算聚合字段
func (u *UserPoint) RecalcAggregate() {
	u.Points = u.FreePoints + u.FixedPoints + u.SubPointsLeft
}
