// internal/service/voucher/infrastructure/gorm_store.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"flashdeal/internal/pkg/logger"
	"flashdeal/internal/service/voucher/domain"
)

// GormVoucherRepository 是 domain.VoucherRepository 的 GORM 实现。
type GormVoucherRepository struct {
	db *gorm.DB
}

// NewGormVoucherRepository 创建一个新的 GORM 仓储实例。
func NewGormVoucherRepository(db *gorm.DB) *GormVoucherRepository {
	return &GormVoucherRepository{db: db}
}

func (r *GormVoucherRepository) FindByID(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	var model SeckillVoucherModel
	err := r.db.WithContext(ctx).Where("voucher_id = ?", voucherID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to find voucher %d", voucherID)
	}
	return &domain.SeckillVoucher{
		VoucherID: model.VoucherID,
		Title:     model.Title,
		Stock:     model.Stock,
		BeginTime: model.BeginTime,
		EndTime:   model.EndTime,
	}, nil
}

func (r *GormVoucherRepository) Save(ctx context.Context, voucher *domain.SeckillVoucher) error {
	model := SeckillVoucherModel{
		VoucherID: voucher.VoucherID,
		Title:     voucher.Title,
		Stock:     voucher.Stock,
		BeginTime: voucher.BeginTime,
		EndTime:   voucher.EndTime,
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return errors.Wrapf(err, "failed to save voucher %d", voucher.VoucherID)
	}
	return nil
}

// GormOrderStore 是 domain.OrderStore 的 GORM 实现。
type GormOrderStore struct {
	db *gorm.DB
}

// NewGormOrderStore 创建订单落库存储。
func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

// Create 在一个事务里完成订单落库：
//  1. 重查 (user_id, voucher_id) 是否已有订单 —— 对消息重投的纵深防御；
//  2. 条件扣减权威库存（stock > 0 才扣），保证权威库存永不为负；
//  3. 插入订单行。
//
// 已有订单或库存已尽时按幂等处理返回 nil：这条意向在权威侧已经终结，
// 调用方应当确认日志记录而不是无限重试。
func (s *GormOrderStore) Create(ctx context.Context, order *domain.VoucherOrder) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 一人一单重查
		var count int64
		if err := tx.Model(&VoucherOrderModel{}).
			Where("user_id = ? AND voucher_id = ?", order.UserID, order.VoucherID).
			Count(&count).Error; err != nil {
			return errors.Wrap(err, "failed to count existing orders")
		}
		if count > 0 {
			logger.Ctx(ctx).Warn().
				Int64("user_id", order.UserID).
				Int64("voucher_id", order.VoucherID).
				Msg("order already persisted, skipping")
			return nil
		}

		// 2. 条件扣减权威库存
		res := tx.Model(&SeckillVoucherModel{}).
			Where("voucher_id = ? AND stock > 0", order.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to decrement stock")
		}
		if res.RowsAffected == 0 {
			logger.Ctx(ctx).Warn().
				Int64("voucher_id", order.VoucherID).
				Msg("authoritative stock exhausted, skipping order")
			return nil
		}

		// 3. 插入订单行
		model := VoucherOrderModel{
			ID:        order.OrderID,
			UserID:    order.UserID,
			VoucherID: order.VoucherID,
		}
		if err := tx.Create(&model).Error; err != nil {
			return errors.Wrapf(err, "failed to insert order %d", order.OrderID)
		}
		return nil
	})
}
