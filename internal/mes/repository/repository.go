package repository

import (
	"gorm.io/gorm"
)

// Repositories 仓储集合
type Repositories struct {
	Recipe    *BomRecipeRepository
	Batch     *BatchQueueRepository
	Trace     *TraceRepository
	WorkOrder *WorkOrderRepository
}

// NewRepositories 创建仓储集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Recipe:    NewBomRecipeRepository(db),
		Batch:     NewBatchQueueRepository(db),
		Trace:     NewTraceRepository(db),
		WorkOrder: NewWorkOrderRepository(db),
	}
}
