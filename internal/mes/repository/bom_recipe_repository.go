package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type BomRecipeRepository struct {
	db *gorm.DB
}

func NewBomRecipeRepository(db *gorm.DB) *BomRecipeRepository {
	return &BomRecipeRepository{db: db}
}

// DB 返回底层db用于事务
func (r *BomRecipeRepository) DB() *gorm.DB {
	return r.db
}

// Create 创建配方
func (r *BomRecipeRepository) Create(ctx context.Context, recipe *entity.BomRecipe) error {
	return r.db.WithContext(ctx).Create(recipe).Error
}

// FindByID 根据ID查找配方（含行项）
func (r *BomRecipeRepository) FindByID(ctx context.Context, id string) (*entity.BomRecipe, error) {
	var recipe entity.BomRecipe
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&recipe, "id = ? AND status <> ?", id, entity.RecipeStatusDeleted).Error
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// FindLatestByCode 根据编码查找最高版本的配方
func (r *BomRecipeRepository) FindLatestByCode(ctx context.Context, code string) (*entity.BomRecipe, error) {
	var recipe entity.BomRecipe
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("code = ? AND status <> ?", code, entity.RecipeStatusDeleted).
		Order("revision DESC").
		First(&recipe).Error
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// MaxRevision 取编码当前最大版本号，无记录为0
func (r *BomRecipeRepository) MaxRevision(ctx context.Context, code string) (int, error) {
	var maxRev *int
	err := r.db.WithContext(ctx).Model(&entity.BomRecipe{}).
		Where("code = ?", code).
		Select("MAX(revision)").Scan(&maxRev).Error
	if err != nil {
		return 0, err
	}
	if maxRev == nil {
		return 0, nil
	}
	return *maxRev, nil
}

// Update 更新配方
func (r *BomRecipeRepository) Update(ctx context.Context, recipe *entity.BomRecipe) error {
	return r.db.WithContext(ctx).Save(recipe).Error
}

// CreateItem 创建配方行项
func (r *BomRecipeRepository) CreateItem(ctx context.Context, item *entity.BomRecipeItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// BatchCreateItemsTx 事务内批量创建配方行项
func (r *BomRecipeRepository) BatchCreateItemsTx(tx *gorm.DB, items []entity.BomRecipeItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.Create(&items).Error
}

// FindActiveItem 查找配方中未删除的行项
func (r *BomRecipeRepository) FindActiveItem(ctx context.Context, recipeID, itemCode string) (*entity.BomRecipeItem, error) {
	var item entity.BomRecipeItem
	err := r.db.WithContext(ctx).
		Where("recipe_id = ? AND item_code = ? AND is_deleted = false", recipeID, itemCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindActiveItemTx 事务内查找配方中未删除的行项
func (r *BomRecipeRepository) FindActiveItemTx(tx *gorm.DB, recipeID, itemCode string) (*entity.BomRecipeItem, error) {
	var item entity.BomRecipeItem
	err := tx.
		Where("recipe_id = ? AND item_code = ? AND is_deleted = false", recipeID, itemCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems 配方行项列表（按sort_order）
func (r *BomRecipeRepository) ListItems(ctx context.Context, recipeID string) ([]entity.BomRecipeItem, error) {
	var items []entity.BomRecipeItem
	err := r.db.WithContext(ctx).
		Where("recipe_id = ? AND is_deleted = false", recipeID).
		Order("sort_order ASC").
		Find(&items).Error
	return items, err
}

// CountItems 统计配方行项数
func (r *BomRecipeRepository) CountItems(ctx context.Context, recipeID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.BomRecipeItem{}).
		Where("recipe_id = ? AND is_deleted = false", recipeID).
		Count(&count).Error
	return count, err
}

type RecipeListParams struct {
	ProductCode string
	Status      string
	Keyword     string
	Page        int
	Size        int
}

// List 配方分页列表
func (r *BomRecipeRepository) List(ctx context.Context, params RecipeListParams) ([]entity.BomRecipe, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.BomRecipe{}).
		Where("status <> ?", entity.RecipeStatusDeleted)
	if params.ProductCode != "" {
		query = query.Where("product_code = ?", params.ProductCode)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
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
	var recipes []entity.BomRecipe
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&recipes).Error
	return recipes, total, err
}

// IsNotFound gorm未命中判定
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
