package repository

import (
	"context"

	"pointsystem/internal/model"

	"gorm.io/gorm"
)

type DetailRepository struct {
	db *gorm.DB
}

func NewDetailRepository(db *gorm.DB) *DetailRepository {
	return &DetailRepository{db: db}
}

func (r *DetailRepository) Create(ctx context.Context, tx *gorm.DB, detail *model.PointDetail) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(detail).Error
}

// ListByUserID 分页查询积分明细，type / pointsType 传 nil 表示不过滤
func (r *DetailRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int, changeType, pointsType *int) ([]*model.PointDetail, int64, error) {
	var details []*model.PointDetail
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PointDetail{}).Where("user_id = ?", userID)
	if changeType != nil {
		query = query.Where("type = ?", *changeType)
	}
	if pointsType != nil {
		query = query.Where("points_type = ?", *pointsType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&details).Error

	return details, total, err
}

// ListByTaskID 按关联任务号查明细，幂等排查用
func (r *DetailRepository) ListByTaskID(ctx context.Context, userID int64, taskID string) ([]*model.PointDetail, error) {
	var details []*model.PointDetail
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Order("created_at ASC").
		Find(&details).Error
	return details, err
}
