package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkOrderStatus 工单单据状态，只允许正向流转
const (
	WOStatusDraft    = "draft"
	WOStatusReady    = "ready"
	WOStatusStarted  = "started"
	WOStatusFinished = "finished"
)

// woStatusRank 状态序，用于禁止回退
var woStatusRank = map[string]int{
	WOStatusDraft:    0,
	WOStatusReady:    1,
	WOStatusStarted:  2,
	WOStatusFinished: 3,
}

// StatusRank 返回状态在流转序中的位置，未知状态为-1
func StatusRank(status string) int {
	if r, ok := woStatusRank[status]; ok {
		return r
	}
	return -1
}

// WorkOrder 生产工单
type WorkOrder struct {
	ID          string          `json:"id" gorm:"primaryKey;type:uuid"`
	Code        string          `json:"code" gorm:"size:64;not null;uniqueIndex"`
	RecipeID    string          `json:"recipe_id" gorm:"type:uuid;not null;index"`
	ProductCode string          `json:"product_code" gorm:"size:64;not null"`
	Quota       decimal.Decimal `json:"quota" gorm:"type:decimal(18,6);not null"` // 计划产量上限
	DocStatus   string          `json:"doc_status" gorm:"size:16;not null;default:draft"`
	Notes       string          `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy   string          `json:"created_by" gorm:"size:64;not null"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty" gorm:"index"`

	Execution *WorkOrderExecution `json:"execution,omitempty" gorm:"foreignKey:WorkOrderID"`
}

func (WorkOrder) TableName() string {
	return "mes_work_orders"
}

// WorkOrderExecution 工单执行记录，每个工单至多一条
type WorkOrderExecution struct {
	ID          string          `json:"id" gorm:"primaryKey;type:uuid"`
	WorkOrderID string          `json:"work_order_id" gorm:"type:uuid;not null;uniqueIndex"`
	Quota       decimal.Decimal `json:"quota" gorm:"type:decimal(18,6);not null"`
	Completed   decimal.Decimal `json:"completed" gorm:"type:decimal(18,6);not null"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (WorkOrderExecution) TableName() string {
	return "mes_work_order_executions"
}
