package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TraceRepository struct {
	db *gorm.DB
}

func NewTraceRepository(db *gorm.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

// DB 返回底层db用于事务
func (r *TraceRepository) DB() *gorm.DB {
	return r.db
}

// Create 创建追溯记录
func (r *TraceRepository) Create(ctx context.Context, trace *entity.TraceInfo) error {
	return r.db.WithContext(ctx).Create(trace).Error
}

// FindByID 根据ID查找追溯记录（含子项）
func (r *TraceRepository) FindByID(ctx context.Context, id string) (*entity.TraceInfo, error) {
	var trace entity.TraceInfo
	err := r.db.WithContext(ctx).
		Preload("BomItems").
		Preload("ProcItems").
		First(&trace, "id = ? AND is_deleted = false", id).Error
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

// FindActiveForUpdate 加行锁查找未删除追溯记录，聚合内串行化的入口
func (r *TraceRepository) FindActiveForUpdate(tx *gorm.DB, id string) (*entity.TraceInfo, error) {
	var trace entity.TraceInfo
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&trace, "id = ? AND is_deleted = false", id).Error
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

// FindActiveByPinForUpdate 按PIN加行锁查找
func (r *TraceRepository) FindActiveByPinForUpdate(tx *gorm.DB, pin string) (*entity.TraceInfo, error) {
	var trace entity.TraceInfo
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&trace, "pin = ? AND is_deleted = false", pin).Error
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

// FindBomItem 取某BOM行项的累计消耗行
func (r *TraceRepository) FindBomItem(tx *gorm.DB, traceID, bomItemCode string) (*entity.TraceBomItem, error) {
	var item entity.TraceBomItem
	err := tx.Where("trace_info_id = ? AND bom_item_code = ? AND deleted_at IS NULL", traceID, bomItemCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindActiveProcItem 查找未删除的(station, key)过站记录
func (r *TraceRepository) FindActiveProcItem(tx *gorm.DB, traceID, station, key string) (*entity.TraceProcItem, error) {
	var item entity.TraceProcItem
	err := tx.Where("trace_info_id = ? AND station = ? AND key = ? AND is_deleted = false",
		traceID, station, key).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindProcItem 根据ID查找过站记录（含已删除）
func (r *TraceRepository) FindProcItem(tx *gorm.DB, traceID, procItemID string) (*entity.TraceProcItem, error) {
	var item entity.TraceProcItem
	err := tx.Where("trace_info_id = ? AND id = ?", traceID, procItemID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type TraceListParams struct {
	WorkOrderID string
	SN          string
	Status      string
	Page        int
	Size        int
}

// List 追溯记录分页列表
func (r *TraceRepository) List(ctx context.Context, params TraceListParams) ([]entity.TraceInfo, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.TraceInfo{}).Where("is_deleted = false")
	if params.WorkOrderID != "" {
		query = query.Where("work_order_id = ?", params.WorkOrderID)
	}
	if params.SN != "" {
		query = query.Where("sn = ?", params.SN)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var traces []entity.TraceInfo
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&traces).Error
	return traces, total, err
}
