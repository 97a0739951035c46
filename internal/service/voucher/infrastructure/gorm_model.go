// internal/service/voucher/infrastructure/gorm_model.go
package infrastructure

import "time"

// SeckillVoucherModel 对应 tb_seckill_voucher 表，持有库存的权威副本。
type SeckillVoucherModel struct {
	VoucherID int64     `gorm:"column:voucher_id;primaryKey"`
	Title     string    `gorm:"column:title;size:255"`
	Stock     int       `gorm:"column:stock;not null"`
	BeginTime time.Time `gorm:"column:begin_time"`
	EndTime   time.Time `gorm:"column:end_time"`
	CreatedAt time.Time `gorm:"column:create_time;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:update_time;autoUpdateTime"`
}

func (SeckillVoucherModel) TableName() string { return "tb_seckill_voucher" }

// VoucherOrderModel 对应 tb_voucher_order 表。
// (user_id, voucher_id) 上的唯一索引是"一人一单"的最后防线，
// 即使同一条订单意向被重复投递，也只会落一行。
type VoucherOrderModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:uq_user_voucher"`
	VoucherID int64     `gorm:"column:voucher_id;not null;uniqueIndex:uq_user_voucher"`
	CreatedAt time.Time `gorm:"column:create_time;autoCreateTime"`
}

func (VoucherOrderModel) TableName() string { return "tb_voucher_order" }
