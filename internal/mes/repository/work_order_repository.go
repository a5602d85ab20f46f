package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WorkOrderRepository struct {
	db *gorm.DB
}

func NewWorkOrderRepository(db *gorm.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// DB 返回底层db用于事务
func (r *WorkOrderRepository) DB() *gorm.DB {
	return r.db
}

// Create 创建工单
func (r *WorkOrderRepository) Create(ctx context.Context, wo *entity.WorkOrder) error {
	return r.db.WithContext(ctx).Create(wo).Error
}

// FindByID 根据ID查找工单（含执行记录）
func (r *WorkOrderRepository) FindByID(ctx context.Context, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := r.db.WithContext(ctx).
		Preload("Execution").
		First(&wo, "id = ? AND deleted_at IS NULL", id).Error
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

// FindForUpdate 加行锁查找工单。开工的原子判定依赖该锁：
// 两个并发Start只有先拿到锁的能通过“无执行记录”检查。
func (r *WorkOrderRepository) FindForUpdate(tx *gorm.DB, id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&wo, "id = ? AND deleted_at IS NULL", id).Error
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

// Save 事务内更新工单，状态流转都在行锁事务里完成
func (r *WorkOrderRepository) Save(tx *gorm.DB, wo *entity.WorkOrder) error {
	return tx.Save(wo).Error
}

// CreateExecution 事务内创建执行记录
func (r *WorkOrderRepository) CreateExecution(tx *gorm.DB, exec *entity.WorkOrderExecution) error {
	return tx.Create(exec).Error
}

// FindExecutionByWorkOrder 取工单的执行记录
func (r *WorkOrderRepository) FindExecutionByWorkOrder(tx *gorm.DB, workOrderID string) (*entity.WorkOrderExecution, error) {
	var exec entity.WorkOrderExecution
	err := tx.Where("work_order_id = ?", workOrderID).First(&exec).Error
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// FindExecutionForUpdate 加行锁取执行记录，报产累计在锁内完成
func (r *WorkOrderRepository) FindExecutionForUpdate(tx *gorm.DB, workOrderID string) (*entity.WorkOrderExecution, error) {
	var exec entity.WorkOrderExecution
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("work_order_id = ?", workOrderID).First(&exec).Error
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

type WorkOrderListParams struct {
	Status      string
	ProductCode string
	Keyword     string
	Page        int
	Size        int
}

// List 工单分页列表
func (r *WorkOrderRepository) List(ctx context.Context, params WorkOrderListParams) ([]entity.WorkOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.WorkOrder{}).Where("deleted_at IS NULL")
	if params.Status != "" {
		query = query.Where("doc_status = ?", params.Status)
	}
	if params.ProductCode != "" {
		query = query.Where("product_code = ?", params.ProductCode)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("code ILIKE ? OR product_code ILIKE ?", kw, kw)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var wos []entity.WorkOrder
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&wos).Error
	return wos, total, err
}

// CountByStatus 各状态工单数（看板用）
func (r *WorkOrderRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		DocStatus string
		Count     int64
	}
	err := r.db.WithContext(ctx).Model(&entity.WorkOrder{}).
		Select("doc_status, COUNT(*) as count").
		Where("deleted_at IS NULL").
		Group("doc_status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.DocStatus] = row.Count
	}
	return result, nil
}
