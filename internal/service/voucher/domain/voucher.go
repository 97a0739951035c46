// internal/service/voucher/domain/voucher.go
package domain

import (
	"errors"
	"time"
)

var (
	// ErrVoucherNotFound 表示优惠券不存在。
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrSaleNotStarted / ErrSaleEnded 是秒杀窗口校验的业务结果。
	ErrSaleNotStarted = errors.New("seckill has not started yet")
	ErrSaleEnded      = errors.New("seckill has already ended")
)

// SeckillVoucher 是秒杀券实体。
// 库存的权威副本在关系库里；Redis 中的镜像计数器只由准入脚本修改，
// 用于快路径的原子扣减。两个副本的库存在任何时刻都不允许为负。
type SeckillVoucher struct {
	VoucherID int64     `json:"voucherId"`
	Title     string    `json:"title"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"beginTime"`
	EndTime   time.Time `json:"endTime"`
}

// InSaleWindow 校验当前时间是否落在秒杀窗口内。
func (v *SeckillVoucher) InSaleWindow(now time.Time) error {
	if now.Before(v.BeginTime) {
		return ErrSaleNotStarted
	}
	if now.After(v.EndTime) {
		return ErrSaleEnded
	}
	return nil
}
