package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// RecipeService BOM配方目录。配方审批通过后不可变，修订产生新版本记录。
type RecipeService struct {
	recipeRepo *repository.BomRecipeRepository
	db         *gorm.DB
}

func NewRecipeService(recipeRepo *repository.BomRecipeRepository, db *gorm.DB) *RecipeService {
	return &RecipeService{recipeRepo: recipeRepo, db: db}
}

type CreateRecipeRequest struct {
	Code        string `json:"code" binding:"required"`
	ProductCode string `json:"product_code" binding:"required"`
}

// Create 创建草稿配方
func (s *RecipeService) Create(ctx context.Context, req CreateRecipeRequest, userID string) (*entity.BomRecipe, error) {
	maxRev, err := s.recipeRepo.MaxRevision(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("查询配方版本失败: %w", err)
	}
	recipe := &entity.BomRecipe{
		ID:          uuid.New().String(),
		Code:        req.Code,
		Revision:    maxRev + 1,
		ProductCode: req.ProductCode,
		Status:      entity.RecipeStatusDraft,
		CreatedBy:   userID,
	}
	if err := s.recipeRepo.Create(ctx, recipe); err != nil {
		return nil, fmt.Errorf("创建配方失败: %w", err)
	}
	return recipe, nil
}

type AddRecipeItemRequest struct {
	ItemCode     string `json:"item_code" binding:"required"`
	MaterialCode string `json:"material_code" binding:"required"`
	Unit         string `json:"unit"`
	Quota        string `json:"quota" binding:"required"`
	Description  string `json:"description"`
}

// AddItem 向草稿配方追加行项。item_code在配方内重复属于调用方契约错误。
func (s *RecipeService) AddItem(ctx context.Context, recipeID string, req AddRecipeItemRequest) (*entity.BomRecipeItem, error) {
	quota, err := decimal.NewFromString(req.Quota)
	if err != nil || quota.Sign() < 0 {
		return nil, fmt.Errorf("用量上限无效: %s", req.Quota)
	}

	recipe, err := s.recipeRepo.FindByID(ctx, recipeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, fmt.Errorf("查询配方失败: %w", err)
	}
	if recipe.Status != entity.RecipeStatusDraft {
		return nil, &entity.RecipeStatusError{RecipeID: recipeID, Status: recipe.Status}
	}
	if recipe.ActiveItem(req.ItemCode) != nil {
		return nil, fmt.Errorf("行项编码重复: %s", req.ItemCode)
	}

	unit := req.Unit
	if unit == "" {
		unit = "pcs"
	}
	count, _ := s.recipeRepo.CountItems(ctx, recipeID)
	item := &entity.BomRecipeItem{
		ID:           uuid.New().String(),
		RecipeID:     recipeID,
		ItemCode:     req.ItemCode,
		MaterialCode: req.MaterialCode,
		Unit:         unit,
		Quota:        quota,
		Description:  req.Description,
		SortOrder:    int(count) + 1,
	}
	if err := s.recipeRepo.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("创建配方行项失败: %w", err)
	}
	return item, nil
}

// Commit 提交配方 draft → committed
func (s *RecipeService) Commit(ctx context.Context, recipeID string) (*entity.BomRecipe, error) {
	return s.advance(ctx, recipeID, entity.RecipeStatusDraft, entity.RecipeStatusCommitted)
}

// Approve 审批配方 committed → approved，此后不可变
func (s *RecipeService) Approve(ctx context.Context, recipeID string) (*entity.BomRecipe, error) {
	return s.advance(ctx, recipeID, entity.RecipeStatusCommitted, entity.RecipeStatusApproved)
}

func (s *RecipeService) advance(ctx context.Context, recipeID, from, to string) (*entity.BomRecipe, error) {
	recipe, err := s.recipeRepo.FindByID(ctx, recipeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, fmt.Errorf("查询配方失败: %w", err)
	}
	if recipe.Status != from {
		return nil, &entity.RecipeStatusError{RecipeID: recipeID, Status: recipe.Status}
	}
	recipe.Status = to
	if err := s.recipeRepo.Update(ctx, recipe); err != nil {
		return nil, fmt.Errorf("更新配方状态失败: %w", err)
	}
	return recipe, nil
}

// NewRevision 从已审批配方复制出新的草稿版本
func (s *RecipeService) NewRevision(ctx context.Context, recipeID, userID string) (*entity.BomRecipe, error) {
	src, err := s.recipeRepo.FindByID(ctx, recipeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, fmt.Errorf("查询配方失败: %w", err)
	}
	if src.Status != entity.RecipeStatusApproved {
		return nil, &entity.RecipeStatusError{RecipeID: recipeID, Status: src.Status}
	}

	maxRev, err := s.recipeRepo.MaxRevision(ctx, src.Code)
	if err != nil {
		return nil, fmt.Errorf("查询配方版本失败: %w", err)
	}
	next := &entity.BomRecipe{
		ID:          uuid.New().String(),
		Code:        src.Code,
		Revision:    maxRev + 1,
		ProductCode: src.ProductCode,
		Status:      entity.RecipeStatusDraft,
		CreatedBy:   userID,
	}
	items := make([]entity.BomRecipeItem, 0, len(src.Items))
	for _, it := range src.Items {
		if it.IsDeleted {
			continue
		}
		items = append(items, entity.BomRecipeItem{
			ID:           uuid.New().String(),
			RecipeID:     next.ID,
			ItemCode:     it.ItemCode,
			MaterialCode: it.MaterialCode,
			Unit:         it.Unit,
			Quota:        it.Quota,
			Description:  it.Description,
			SortOrder:    it.SortOrder,
		})
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		return s.recipeRepo.BatchCreateItemsTx(tx, items)
	})
	if err != nil {
		return nil, fmt.Errorf("创建配方新版本失败: %w", err)
	}
	next.Items = items
	return next, nil
}

// Get 配方详情
func (s *RecipeService) Get(ctx context.Context, recipeID string) (*entity.BomRecipe, error) {
	recipe, err := s.recipeRepo.FindByID(ctx, recipeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, err
	}
	return recipe, nil
}

// GetByCode 按编码取最高版本配方
func (s *RecipeService) GetByCode(ctx context.Context, code string) (*entity.BomRecipe, error) {
	recipe, err := s.recipeRepo.FindLatestByCode(ctx, code)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.RecipeNotFoundError{RecipeID: code}
		}
		return nil, err
	}
	return recipe, nil
}

// GetItem 配方行项查找
func (s *RecipeService) GetItem(ctx context.Context, recipeID, itemCode string) (*entity.BomRecipeItem, error) {
	item, err := s.recipeRepo.FindActiveItem(ctx, recipeID, itemCode)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.BomItemNotFoundError{ItemCode: itemCode}
		}
		return nil, err
	}
	return item, nil
}

// List 配方列表
func (s *RecipeService) List(ctx context.Context, params repository.RecipeListParams) ([]entity.BomRecipe, int64, error) {
	return s.recipeRepo.List(ctx, params)
}

var recipeExportHeaders = []string{
	"序号", "行项编码", "物料编码", "单位", "单台用量", "描述",
}

// ExportExcel 导出配方为xlsx
func (s *RecipeService) ExportExcel(ctx context.Context, recipeID string) (*excelize.File, string, error) {
	recipe, err := s.recipeRepo.FindByID(ctx, recipeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, "", &entity.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, "", fmt.Errorf("查询配方失败: %w", err)
	}
	items, err := s.recipeRepo.ListItems(ctx, recipeID)
	if err != nil {
		return nil, "", fmt.Errorf("查询配方行项失败: %w", err)
	}

	f := excelize.NewFile()
	sheet := "BOM"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range recipeExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	row := 2
	for _, item := range items {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), item.SortOrder)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), item.ItemCode)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), item.MaterialCode)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), item.Unit)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), item.Quota.String())
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), item.Description)
		row++
	}

	colWidths := []float64{6, 16, 16, 8, 12, 24}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("BOM_%s_r%d.xlsx", recipe.Code, recipe.Revision)
	return f, filename, nil
}
