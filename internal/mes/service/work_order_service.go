package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WorkOrderService 工单状态机：draft → ready → started → finished，只进不退
type WorkOrderService struct {
	woRepo     *repository.WorkOrderRepository
	recipeRepo *repository.BomRecipeRepository
	db         *gorm.DB
}

func NewWorkOrderService(woRepo *repository.WorkOrderRepository, recipeRepo *repository.BomRecipeRepository, db *gorm.DB) *WorkOrderService {
	return &WorkOrderService{woRepo: woRepo, recipeRepo: recipeRepo, db: db}
}

type CreateWorkOrderRequest struct {
	RecipeID string `json:"recipe_id" binding:"required"`
	Quota    string `json:"quota" binding:"required"`
	Notes    string `json:"notes"`
}

// Create 按配方创建草稿工单
func (s *WorkOrderService) Create(ctx context.Context, req CreateWorkOrderRequest, userID string) (*entity.WorkOrder, error) {
	quota, err := decimal.NewFromString(req.Quota)
	if err != nil || quota.Sign() <= 0 {
		return nil, fmt.Errorf("计划产量无效: %s", req.Quota)
	}

	recipe, err := s.recipeRepo.FindByID(ctx, req.RecipeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.RecipeNotFoundError{RecipeID: req.RecipeID}
		}
		return nil, fmt.Errorf("查询配方失败: %w", err)
	}

	code := fmt.Sprintf("WO-%s%04d", time.Now().Format("20060102"), time.Now().UnixNano()%10000)
	wo := &entity.WorkOrder{
		ID:          uuid.New().String(),
		Code:        code,
		RecipeID:    recipe.ID,
		ProductCode: recipe.ProductCode,
		Quota:       quota,
		DocStatus:   entity.WOStatusDraft,
		Notes:       req.Notes,
		CreatedBy:   userID,
	}
	if err := s.woRepo.Create(ctx, wo); err != nil {
		return nil, fmt.Errorf("创建工单失败: %w", err)
	}
	return wo, nil
}

// Ready 下达工单 draft → ready
func (s *WorkOrderService) Ready(ctx context.Context, workOrderID string) (*entity.WorkOrder, error) {
	var updated *entity.WorkOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wo, err := s.woRepo.FindForUpdate(tx, workOrderID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
			}
			return fmt.Errorf("查询工单失败: %w", err)
		}
		if wo.DocStatus != entity.WOStatusDraft {
			return &entity.WorkOrderNotReadyError{Status: wo.DocStatus}
		}
		wo.DocStatus = entity.WOStatusReady
		if err := s.woRepo.Save(tx, wo); err != nil {
			return fmt.Errorf("更新工单状态失败: %w", err)
		}
		updated = wo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Start 开工。行锁内判定“尚无执行记录”，并发Start只有一个能成功，
// 落败方拿到的是AlreadyStarted而不是泛化冲突。
func (s *WorkOrderService) Start(ctx context.Context, workOrderID string) (*entity.WorkOrderExecution, error) {
	var created *entity.WorkOrderExecution
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wo, err := s.woRepo.FindForUpdate(tx, workOrderID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
			}
			return fmt.Errorf("查询工单失败: %w", err)
		}

		// 已关工单不可重新开工
		if wo.DocStatus == entity.WOStatusFinished {
			return &entity.WorkOrderNotReadyError{Status: wo.DocStatus}
		}

		if exec, execErr := s.woRepo.FindExecutionByWorkOrder(tx, wo.ID); execErr == nil {
			return &entity.WorkOrderAlreadyStartedError{ExecutionID: exec.ID}
		} else if !repository.IsNotFound(execErr) {
			return fmt.Errorf("查询执行记录失败: %w", execErr)
		}

		if wo.DocStatus != entity.WOStatusReady {
			return &entity.WorkOrderNotReadyError{Status: wo.DocStatus}
		}

		created = &entity.WorkOrderExecution{
			ID:          uuid.New().String(),
			WorkOrderID: wo.ID,
			Quota:       wo.Quota,
			Completed:   decimal.Zero,
			StartedAt:   time.Now(),
		}
		if err := s.woRepo.CreateExecution(tx, created); err != nil {
			return fmt.Errorf("创建执行记录失败: %w", err)
		}
		wo.DocStatus = entity.WOStatusStarted
		if err := s.woRepo.Save(tx, wo); err != nil {
			return fmt.Errorf("更新工单状态失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordProduction 报产。超出计划产量整笔拒绝，不做部分累计。
func (s *WorkOrderService) RecordProduction(ctx context.Context, workOrderID string, quantity decimal.Decimal) (*entity.WorkOrderExecution, error) {
	if quantity.Sign() <= 0 {
		return nil, &entity.MiscError{Message: fmt.Sprintf("报产数量无效: %s", quantity)}
	}

	var updated *entity.WorkOrderExecution
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wo, err := s.woRepo.FindForUpdate(tx, workOrderID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
			}
			return fmt.Errorf("查询工单失败: %w", err)
		}
		if wo.DocStatus == entity.WOStatusFinished {
			return &entity.WorkOrderFinishedError{WorkOrderID: workOrderID}
		}
		if wo.DocStatus != entity.WOStatusStarted {
			return &entity.WorkOrderNotReadyError{Status: wo.DocStatus}
		}

		exec, err := s.woRepo.FindExecutionForUpdate(tx, wo.ID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.WorkOrderNotExecutingError{WorkOrderID: workOrderID}
			}
			return fmt.Errorf("查询执行记录失败: %w", err)
		}

		if exec.Completed.Add(quantity).Cmp(exec.Quota) > 0 {
			return &entity.WorkOrderQuotaExceedsError{
				Quota:       exec.Quota,
				Accumulated: exec.Completed,
				Current:     quantity,
			}
		}
		exec.Completed = exec.Completed.Add(quantity)
		if err := tx.Save(exec).Error; err != nil {
			return fmt.Errorf("更新执行记录失败: %w", err)
		}
		updated = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close 关单 started → finished。不级联处理子追溯记录。
func (s *WorkOrderService) Close(ctx context.Context, workOrderID string) (*entity.WorkOrder, error) {
	var updated *entity.WorkOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wo, err := s.woRepo.FindForUpdate(tx, workOrderID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
			}
			return fmt.Errorf("查询工单失败: %w", err)
		}
		if wo.DocStatus == entity.WOStatusFinished {
			return &entity.WorkOrderFinishedError{WorkOrderID: workOrderID}
		}
		if wo.DocStatus != entity.WOStatusStarted {
			return &entity.WorkOrderNotReadyError{Status: wo.DocStatus}
		}

		now := time.Now()
		wo.DocStatus = entity.WOStatusFinished
		if err := s.woRepo.Save(tx, wo); err != nil {
			return fmt.Errorf("更新工单状态失败: %w", err)
		}
		if exec, execErr := s.woRepo.FindExecutionForUpdate(tx, wo.ID); execErr == nil {
			exec.FinishedAt = &now
			if err := tx.Save(exec).Error; err != nil {
				return fmt.Errorf("更新执行记录失败: %w", err)
			}
		} else if !repository.IsNotFound(execErr) {
			return fmt.Errorf("查询执行记录失败: %w", execErr)
		}
		updated = wo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type MaintainDocumentRequest struct {
	Quota string `json:"quota"`
	Notes *string `json:"notes"`
}

// MaintainDocument 单据维护。备注随时可改，计划产量只在draft/ready可改。
func (s *WorkOrderService) MaintainDocument(ctx context.Context, workOrderID string, req MaintainDocumentRequest) (*entity.WorkOrder, error) {
	var updated *entity.WorkOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wo, err := s.woRepo.FindForUpdate(tx, workOrderID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
			}
			return fmt.Errorf("查询工单失败: %w", err)
		}

		if req.Quota != "" {
			if wo.DocStatus != entity.WOStatusDraft && wo.DocStatus != entity.WOStatusReady {
				return &entity.DocStatusError{
					Message: fmt.Sprintf("工单 %s 已开工, 计划产量不可修改", wo.Code),
				}
			}
			quota, convErr := decimal.NewFromString(req.Quota)
			if convErr != nil || quota.Sign() <= 0 {
				return &entity.DocStatusError{Message: fmt.Sprintf("计划产量无效: %s", req.Quota)}
			}
			wo.Quota = quota
		}
		if req.Notes != nil {
			wo.Notes = *req.Notes
		}
		if err := s.woRepo.Save(tx, wo); err != nil {
			return fmt.Errorf("更新工单失败: %w", err)
		}
		updated = wo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get 工单详情
func (s *WorkOrderService) Get(ctx context.Context, workOrderID string) (*entity.WorkOrder, error) {
	wo, err := s.woRepo.FindByID(ctx, workOrderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
		}
		return nil, err
	}
	return wo, nil
}

// List 工单列表
func (s *WorkOrderService) List(ctx context.Context, params repository.WorkOrderListParams) ([]entity.WorkOrder, int64, error) {
	return s.woRepo.List(ctx, params)
}
