package repository

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BatchQueueRepository struct {
	db *gorm.DB
}

func NewBatchQueueRepository(db *gorm.DB) *BatchQueueRepository {
	return &BatchQueueRepository{db: db}
}

// DB 返回底层db用于事务
func (r *BatchQueueRepository) DB() *gorm.DB {
	return r.db
}

// Create 批次上线
func (r *BatchQueueRepository) Create(ctx context.Context, item *entity.MaterialBatchQueueItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// FindActive 查找未删除批次
func (r *BatchQueueRepository) FindActive(ctx context.Context, bomItemCode, batchCode string) (*entity.MaterialBatchQueueItem, error) {
	var item entity.MaterialBatchQueueItem
	err := r.db.WithContext(ctx).
		Where("bom_item_code = ? AND batch_code = ? AND is_deleted = false", bomItemCode, batchCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindActiveByBatchCode 仅按批次号查找未删除批次
func (r *BatchQueueRepository) FindActiveByBatchCode(ctx context.Context, batchCode string) (*entity.MaterialBatchQueueItem, error) {
	var item entity.MaterialBatchQueueItem
	err := r.db.WithContext(ctx).
		Where("batch_code = ? AND is_deleted = false", batchCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListEligibleForUpdate 取可扣料批次并加行锁，扣料顺序即规范分配顺序：
// 优先级升序，同优先级按上线时间先后，最后以id定序保证并发下结果稳定。
func (r *BatchQueueRepository) ListEligibleForUpdate(tx *gorm.DB, bomItemCode string) ([]entity.MaterialBatchQueueItem, error) {
	var items []entity.MaterialBatchQueueItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("is_deleted = false AND bom_item_code = ? AND remaining_amount > 0", bomItemCode).
		Order("priority ASC, created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

// FindActiveForUpdate 按批次号加行锁查找未删除批次
func (r *BatchQueueRepository) FindActiveForUpdate(tx *gorm.DB, batchCode string) (*entity.MaterialBatchQueueItem, error) {
	var item entity.MaterialBatchQueueItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_code = ? AND is_deleted = false", batchCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type BatchListParams struct {
	BomItemCode string
	ShowDeleted bool
	Page        int
	Size        int
}

// List 批次分页列表（按分配顺序）
func (r *BatchQueueRepository) List(ctx context.Context, params BatchListParams) ([]entity.MaterialBatchQueueItem, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.MaterialBatchQueueItem{})
	if !params.ShowDeleted {
		query = query.Where("is_deleted = false")
	}
	if params.BomItemCode != "" {
		query = query.Where("bom_item_code = ?", params.BomItemCode)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var items []entity.MaterialBatchQueueItem
	err := query.Order("priority ASC, created_at ASC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&items).Error
	return items, total, err
}

// SumRemaining 某BOM行项在线余量合计
func (r *BatchQueueRepository) SumRemaining(ctx context.Context, bomItemCode string) (string, error) {
	var result struct{ Total string }
	err := r.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(remaining_amount), 0)::text AS total
		FROM mes_material_batches
		WHERE bom_item_code = ? AND is_deleted = false
	`, bomItemCode).Scan(&result).Error
	return result.Total, err
}
