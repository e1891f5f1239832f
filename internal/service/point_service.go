package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"pointsystem/internal/config"
	"pointsystem/internal/model"
	"pointsystem/internal/repository"
	"pointsystem/pkg/idgen"

	"gorm.io/gorm"
)

var ErrInsufficientPoints = errors.New("积分不足")

// maxBalanceRetry 乐观锁冲突的最大重试次数
const maxBalanceRetry = 3

// PointService 积分账务核心
//
// 所有余额变更都走这里：读快照 -> 改池 -> 重算聚合 -> 版本号守护回写，
// 回写与明细、outbox 事件在同一个数据库事务里，任何一步失败整体回滚。
// 并发变更靠版本号检测，冲突后整段重试（CAS 重试循环），
// 绝不做无隔离的读后写
type PointService struct {
	db         *gorm.DB
	cfg        *config.Config
	pointRepo  *repository.PointRepository
	detailRepo *repository.DetailRepository
	outboxRepo *repository.OutboxRepository
}

func NewPointService(db *gorm.DB, cfg *config.Config) *PointService {
	return &PointService{
		db:         db,
		cfg:        cfg,
		pointRepo:  repository.NewPointRepository(db),
		detailRepo: repository.NewDetailRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// PoolSplit 一次扣减中某个池承担的份额
type PoolSplit struct {
	PointsType int `json:"points_type"`
	Points     int `json:"points"`
}

// ConsumeResult 扣减结果
type ConsumeResult struct {
	Consumed   int         `json:"consumed"`
	Splits     []PoolSplit `json:"splits"`
	PointsType int         `json:"points_type"` // 最后触达的池
	Remaining  int         `json:"remaining"`   // 三池剩余总和
}

// GetUserPoints 查询积分账户，不存在则初始化为全零
func (s *PointService) GetUserPoints(ctx context.Context, userID int64) (*model.UserPoint, error) {
	return s.pointRepo.GetOrCreate(ctx, userID)
}

// runWithRetry 执行一次余额变更，乐观锁冲突时重读重做
func (s *PointService) runWithRetry(fn func() error) error {
	var err error
	for i := 0; i < maxBalanceRetry; i++ {
		err = fn()
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
	}
	return err
}

// ConsumePoints 通用扣减：按 免费 -> 订阅 -> 固定 的优先级跨池分摊
//
// 【关键点】
// 1. 原子性：三池总和不足时整体失败，不会留下半扣状态
// 2. 审计：每个被扣到的池各记一条明细，份额分别入账
// 3. 并发安全：余额回写带版本号守护，同一用户的并发扣减要么串行成功要么重试
func (s *PointService) ConsumePoints(ctx context.Context, userID int64, points, funcType int, taskID, extraData string) (*ConsumeResult, error) {
	if points <= 0 {
		return nil, fmt.Errorf("扣减数量必须大于0")
	}

	var result *ConsumeResult

	err := s.runWithRetry(func() error {
		up, err := s.pointRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("获取积分账户失败: %w", err)
		}

		if up.TotalAvailable() < points {
			return ErrInsufficientPoints
		}

		remaining := points
		var splits []PoolSplit

		// 先扣免费积分
		if remaining > 0 && up.FreePoints > 0 {
			n := min(remaining, up.FreePoints)
			up.FreePoints -= n
			remaining -= n
			splits = append(splits, PoolSplit{PointsType: model.PointsTypeFree, Points: n})
		}

		// 再扣订阅积分
		if remaining > 0 && up.SubPointsLeft > 0 {
			n := min(remaining, up.SubPointsLeft)
			up.SubPointsLeft -= n
			remaining -= n
			splits = append(splits, PoolSplit{PointsType: model.PointsTypeSub, Points: n})
		}

		// 最后扣固定积分
		if remaining > 0 && up.FixedPoints > 0 {
			n := min(remaining, up.FixedPoints)
			up.FixedPoints -= n
			remaining -= n
			splits = append(splits, PoolSplit{PointsType: model.PointsTypeFixed, Points: n})
		}

		up.RecalcAggregate()

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.pointRepo.SaveBalances(ctx, tx, up); err != nil {
				return err
			}

			for _, split := range splits {
				detail := &model.PointDetail{
					UserID:     userID,
					Points:     split.Points,
					Type:       model.PointChangeConsume,
					FuncType:   funcType,
					PointsType: split.PointsType,
					TaskID:     taskID,
					ExtraData:  extraData,
				}
				if err := s.detailRepo.Create(ctx, tx, detail); err != nil {
					return fmt.Errorf("记录明细失败: %w", err)
				}
			}

			if err := s.writePointEvent(ctx, tx, userID, model.PointChangeConsume, points, splits, taskID); err != nil {
				return fmt.Errorf("写入事件失败: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = &ConsumeResult{
			Consumed:   points,
			Splits:     splits,
			PointsType: splits[len(splits)-1].PointsType,
			Remaining:  up.TotalAvailable(),
		}
		return nil
	})

	if err != nil {
		if !errors.Is(err, ErrInsufficientPoints) {
			log.Printf("扣减积分失败: userID=%d, points=%d, err=%v", userID, points, err)
		}
		return nil, err
	}

	log.Printf("扣减积分成功: userID=%d, points=%d, taskID=%s", userID, points, taskID)
	return result, nil
}

// DeductPoints 定向扣减：只动指定的池，付费功能选池后走这里
// 指定池余额不足即失败，不会溢出到其它池
func (s *PointService) DeductPoints(ctx context.Context, userID int64, points, pointsType, funcType int, taskID, extraData string) error {
	if points <= 0 {
		return fmt.Errorf("扣减数量必须大于0")
	}

	err := s.runWithRetry(func() error {
		up, err := s.pointRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("获取积分账户失败: %w", err)
		}

		switch pointsType {
		case model.PointsTypeFree:
			if up.FreePoints < points {
				return ErrInsufficientPoints
			}
			up.FreePoints -= points
		case model.PointsTypeFixed:
			if up.FixedPoints < points {
				return ErrInsufficientPoints
			}
			up.FixedPoints -= points
		case model.PointsTypeSub:
			if up.SubPointsLeft < points {
				return ErrInsufficientPoints
			}
			up.SubPointsLeft -= points
		default:
			return fmt.Errorf("未知的积分池类型: %d", pointsType)
		}

		up.RecalcAggregate()

		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.pointRepo.SaveBalances(ctx, tx, up); err != nil {
				return err
			}

			detail := &model.PointDetail{
				UserID:     userID,
				Points:     points,
				Type:       model.PointChangeConsume,
				FuncType:   funcType,
				PointsType: pointsType,
				TaskID:     taskID,
				ExtraData:  extraData,
			}
			if err := s.detailRepo.Create(ctx, tx, detail); err != nil {
				return fmt.Errorf("记录明细失败: %w", err)
			}

			splits := []PoolSplit{{PointsType: pointsType, Points: points}}
			if err := s.writePointEvent(ctx, tx, userID, model.PointChangeConsume, points, splits, taskID); err != nil {
				return fmt.Errorf("写入事件失败: %w", err)
			}
			return nil
		})
	})

	if err != nil {
		if !errors.Is(err, ErrInsufficientPoints) {
			log.Printf("定向扣减失败: userID=%d, points=%d, pointsType=%d, err=%v", userID, points, pointsType, err)
		}
		return err
	}

	log.Printf("定向扣减成功: userID=%d, points=%d, pointsType=%d, taskID=%s", userID, points, pointsType, taskID)
	return nil
}

// AddPoints 加积分（充值到账、签到奖励、运营补发）
// 订阅池入账时额度与剩余同步增加；返回是否成功，存储错误只记日志不外抛
func (s *PointService) AddPoints(ctx context.Context, userID int64, points, pointsType int, description, orderNo string) bool {
	if points <= 0 {
		log.Printf("加积分数量非法: userID=%d, points=%d", userID, points)
		return false
	}

	err := s.runWithRetry(func() error {
		up, err := s.pointRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}

		switch pointsType {
		case model.PointsTypeFree:
			up.FreePoints += points
		case model.PointsTypeFixed:
			up.FixedPoints += points
		case model.PointsTypeSub:
			up.SubPoints += points
			up.SubPointsLeft += points
		default:
			up.FreePoints += points
		}

		up.RecalcAggregate()

		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.pointRepo.SaveBalances(ctx, tx, up); err != nil {
				return err
			}

			detail := &model.PointDetail{
				UserID:     userID,
				Points:     points,
				Type:       model.PointChangeAdd,
				FuncType:   0,
				PointsType: pointsType,
				TaskID:     orderNo,
				ExtraData:  description,
			}
			if err := s.detailRepo.Create(ctx, tx, detail); err != nil {
				return err
			}

			splits := []PoolSplit{{PointsType: pointsType, Points: points}}
			return s.writePointEvent(ctx, tx, userID, model.PointChangeAdd, points, splits, orderNo)
		})
	})

	if err != nil {
		log.Printf("加积分失败: userID=%d, points=%d, pointsType=%d, err=%v", userID, points, pointsType, err)
		return false
	}

	log.Printf("加积分成功: userID=%d, points=%d, pointsType=%d, ref=%s", userID, points, pointsType, orderNo)
	return true
}

// RefundPoints 退还积分到指定池（业务执行失败后的回补）
// 未知池类型回退到固定积分池
func (s *PointService) RefundPoints(ctx context.Context, userID int64, points, pointsType int, reason string) bool {
	if points <= 0 {
		log.Printf("退还数量非法: userID=%d, points=%d", userID, points)
		return false
	}

	taskID := fmt.Sprintf("refund_%d", time.Now().UnixMilli())

	err := s.runWithRetry(func() error {
		up, err := s.pointRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}

		switch pointsType {
		case model.PointsTypeFree:
			up.FreePoints += points
		case model.PointsTypeSub:
			up.SubPointsLeft += points
		default:
			up.FixedPoints += points
		}

		up.RecalcAggregate()

		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.pointRepo.SaveBalances(ctx, tx, up); err != nil {
				return err
			}

			detail := &model.PointDetail{
				UserID:     userID,
				Points:     points,
				Type:       model.PointChangeAdd,
				FuncType:   0,
				PointsType: pointsType,
				TaskID:     taskID,
				ExtraData:  reason,
			}
			if err := s.detailRepo.Create(ctx, tx, detail); err != nil {
				return err
			}

			splits := []PoolSplit{{PointsType: pointsType, Points: points}}
			return s.writePointEvent(ctx, tx, userID, model.PointChangeAdd, points, splits, taskID)
		})
	})

	if err != nil {
		log.Printf("退还积分失败: userID=%d, points=%d, pointsType=%d, err=%v", userID, points, pointsType, err)
		return false
	}

	log.Printf("退还积分成功: userID=%d, points=%d, pointsType=%d, reason=%s", userID, points, pointsType, reason)
	return true
}

// MarkClaimed 更新签到统计，由签到服务在发奖后调用
func (s *PointService) MarkClaimed(ctx context.Context, userID int64, claimedDays int, claimedAt time.Time) error {
	return s.pointRepo.UpdateClaimStats(ctx, userID, claimedDays, claimedAt)
}

// ListPointDetails 分页查询积分明细，changeType / pointsType 传 nil 不过滤
func (s *PointService) ListPointDetails(ctx context.Context, userID int64, page, pageSize int, changeType, pointsType *int) ([]*model.PointDetail, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return s.detailRepo.ListByUserID(ctx, userID, page, pageSize, changeType, pointsType)
}

// writePointEvent 在当前事务内写入积分变更事件，由 OutboxSender 异步投递
func (s *PointService) writePointEvent(ctx context.Context, tx *gorm.DB, userID int64, change, points int, splits []PoolSplit, taskID string) error {
	payload := map[string]interface{}{
		"user_id":    userID,
		"change":     change,
		"points":     points,
		"splits":     splits,
		"task_id":    taskID,
		"changed_at": time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: idgen.GenerateEventNo(),
		Topic:      s.cfg.Kafka.Topic.PointEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
