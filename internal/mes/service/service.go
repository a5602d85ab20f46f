package service

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Recipe    *RecipeService
	Batch     *BatchQueueService
	Trace     *TraceService
	WorkOrder *WorkOrderService
	Dashboard *DashboardService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, db *gorm.DB, rdb *redis.Client) *Services {
	batchSvc := NewBatchQueueService(repos.Batch, db)
	return &Services{
		Recipe:    NewRecipeService(repos.Recipe, db),
		Batch:     batchSvc,
		Trace:     NewTraceService(repos.Trace, repos.WorkOrder, repos.Recipe, batchSvc, db),
		WorkOrder: NewWorkOrderService(repos.WorkOrder, repos.Recipe, db),
		Dashboard: NewDashboardService(repos.WorkOrder, rdb, db),
	}
}
