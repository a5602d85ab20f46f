package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaterialBatchQueueItem 上线物料批次（软删除，永不物理删除）
// 复合索引 (is_deleted, bom_item_code, priority, created_at) 即扣料顺序：
// priority 小者先扣，同优先级按上线时间先后。
// (bom_item_code, batch_code) 在未删除行中唯一，由部分唯一索引兜底并发上线。
type MaterialBatchQueueItem struct {
	ID              string          `json:"id" gorm:"primaryKey;type:uuid"`
	BomItemCode     string          `json:"bom_item_code" gorm:"size:64;not null;index:idx_batch_alloc,priority:2;uniqueIndex:uidx_batch_active,priority:1,where:is_deleted = false"`
	BatchCode       string          `json:"batch_code" gorm:"size:64;not null;index;uniqueIndex:uidx_batch_active,priority:2"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(18,6);not null"`
	RemainingAmount decimal.Decimal `json:"remaining_amount" gorm:"type:decimal(18,6);not null"`
	Priority        int             `json:"priority" gorm:"not null;default:0;index:idx_batch_alloc,priority:3"`
	IsDeleted       bool            `json:"is_deleted" gorm:"not null;default:false;index:idx_batch_alloc,priority:1"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
	CreatedBy       string          `json:"created_by" gorm:"size:64"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index:idx_batch_alloc,priority:4"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (MaterialBatchQueueItem) TableName() string {
	return "mes_material_batches"
}
