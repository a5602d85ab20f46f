package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// TraceStatus 过站记录状态
const (
	TraceStatusInProcess = "in_process"
	TraceStatusPassed    = "passed"
	TraceStatusFailed    = "failed"
	TraceStatusScrapped  = "scrapped"
)

// TraceInfo 单件生产追溯记录，归属唯一工单执行
type TraceInfo struct {
	ID          string     `json:"id" gorm:"primaryKey;type:uuid"`
	WorkOrderID string     `json:"work_order_id" gorm:"type:uuid;not null;index"`
	ExecutionID string     `json:"execution_id" gorm:"type:uuid;not null;index"`
	SN          string     `json:"sn" gorm:"size:64;not null;index"`
	Pin         *string    `json:"pin,omitempty" gorm:"size:64;index"` // 只绑定一次，绑定后不覆盖
	Status      string     `json:"status" gorm:"size:16;not null;default:in_process"`
	Version     int        `json:"version" gorm:"not null;default:0"`
	IsDeleted   bool       `json:"is_deleted" gorm:"not null;default:false"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	BomItems  []TraceBomItem  `json:"bom_items,omitempty" gorm:"foreignKey:TraceInfoID"`
	ProcItems []TraceProcItem `json:"proc_items,omitempty" gorm:"foreignKey:TraceInfoID"`
}

func (TraceInfo) TableName() string {
	return "mes_trace_infos"
}

// TraceBomItem 单件物料消耗，按bom_item_code累计一行
// 约束：Consumption 累计值不超过 Quota（取自首次扣料时的配方行项）
type TraceBomItem struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	TraceInfoID  string          `json:"trace_info_id" gorm:"type:uuid;not null;index"`
	BomItemCode  string          `json:"bom_item_code" gorm:"size:64;not null"`
	MaterialCode string          `json:"material_code" gorm:"size:64;not null"`
	Unit         string          `json:"unit" gorm:"size:16;not null;default:pcs"`
	Quota        decimal.Decimal `json:"quota" gorm:"type:decimal(18,6);not null"`
	Consumption  decimal.Decimal `json:"consumption" gorm:"type:decimal(18,6);not null"`
	BatchCodes   string          `json:"batch_codes" gorm:"size:512"` // 扣料批次，按扣料顺序逗号分隔
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
}

func (TraceBomItem) TableName() string {
	return "mes_trace_bom_items"
}

// TraceProcItem 过站工位记录，(station, key)在未删除行中唯一
type TraceProcItem struct {
	ID          string     `json:"id" gorm:"primaryKey;type:uuid"`
	TraceInfoID string     `json:"trace_info_id" gorm:"type:uuid;not null;index"`
	Station     string     `json:"station" gorm:"size:64;not null"`
	Key         string     `json:"key" gorm:"size:64;not null"`
	Value       string     `json:"value" gorm:"size:512"`
	IsDeleted   bool       `json:"is_deleted" gorm:"not null;default:false"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func (TraceProcItem) TableName() string {
	return "mes_trace_proc_items"
}
