package repository

import (
	"context"
	"errors"
	"time"

	"pointsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPointAccountNotFound = errors.New("积分账户不存在")
	ErrOptimisticLock       = errors.New("乐观锁冲突，请重试")
)

type PointRepository struct {
	db *gorm.DB
}

func NewPointRepository(db *gorm.DB) *PointRepository {
	return &PointRepository{db: db}
}

func (r *PointRepository) GetByUserID(ctx context.Context, userID int64) (*model.UserPoint, error) {
	var up model.UserPoint
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&up).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPointAccountNotFound
		}
		return nil, err
	}
	return &up, nil
}

// GetOrCreate 懒初始化积分账户，首次访问时各池全部置零
func (r *PointRepository) GetOrCreate(ctx context.Context, userID int64) (*model.UserPoint, error) {
	up, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return up, nil
	}

	if !errors.Is(err, ErrPointAccountNotFound) {
		return nil, err
	}

	newUp := &model.UserPoint{
		UserID:    userID,
		ClaimedAt: time.Unix(0, 0),
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newUp).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// SaveBalances 回写各积分池与聚合字段
// 版本号守护：读快照之后有别的写入进来，这里会零行命中，调用方重读重做
func (r *PointRepository) SaveBalances(ctx context.Context, tx *gorm.DB, up *model.UserPoint) error {
	result := tx.WithContext(ctx).
		Model(&model.UserPoint{}).
		Where("user_id = ? AND version = ?", up.UserID, up.Version).
		Updates(map[string]interface{}{
			"points":          up.Points,
			"free_points":     up.FreePoints,
			"fixed_points":    up.FixedPoints,
			"sub_points":      up.SubPoints,
			"sub_points_left": up.SubPointsLeft,
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	return nil
}

// UpdateClaimStats 更新连续签到天数与最近签到时间
func (r *PointRepository) UpdateClaimStats(ctx context.Context, userID int64, claimedDays int, claimedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserPoint{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"claimed_days": claimedDays,
			"claimed_at":   claimedAt,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPointAccountNotFound
	}

	return nil
}
