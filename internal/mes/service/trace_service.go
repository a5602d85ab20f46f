package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/result"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TraceService 单件追溯聚合：绑定PIN、扣料（校验配方额度并走批次队列）、
// 过站记录。所有写操作在单个事务内完成，任一环节出错整体回滚。
type TraceService struct {
	traceRepo  *repository.TraceRepository
	woRepo     *repository.WorkOrderRepository
	recipeRepo *repository.BomRecipeRepository
	batchSvc   *BatchQueueService
	db         *gorm.DB
}

func NewTraceService(traceRepo *repository.TraceRepository, woRepo *repository.WorkOrderRepository,
	recipeRepo *repository.BomRecipeRepository, batchSvc *BatchQueueService, db *gorm.DB) *TraceService {
	return &TraceService{
		traceRepo:  traceRepo,
		woRepo:     woRepo,
		recipeRepo: recipeRepo,
		batchSvc:   batchSvc,
		db:         db,
	}
}

// CreateTrace 在已开工工单下登记一个追溯单元
func (s *TraceService) CreateTrace(ctx context.Context, workOrderID, sn string) (*entity.TraceInfo, error) {
	wo, err := s.woRepo.FindByID(ctx, workOrderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.WorkOrderNotFoundError{WorkOrderID: workOrderID}
		}
		return nil, fmt.Errorf("查询工单失败: %w", err)
	}
	if wo.DocStatus != entity.WOStatusStarted {
		return nil, &entity.WorkOrderNotReadyError{Status: wo.DocStatus}
	}
	if wo.Execution == nil {
		return nil, &entity.WorkOrderNotExecutingError{WorkOrderID: workOrderID}
	}

	trace := &entity.TraceInfo{
		ID:          uuid.New().String(),
		WorkOrderID: wo.ID,
		ExecutionID: wo.Execution.ID,
		SN:          sn,
		Status:      entity.TraceStatusInProcess,
	}
	if err := s.traceRepo.Create(ctx, trace); err != nil {
		return nil, fmt.Errorf("创建追溯记录失败: %w", err)
	}
	return trace, nil
}

// addBomState 扣料管道在各步骤间传递的中间状态
type addBomState struct {
	trace      *entity.TraceInfo
	recipeItem *entity.BomRecipeItem
	existing   *entity.TraceBomItem // 已有累计行，可能为nil
	outcome    ConsumeOutcome
	saved      *entity.TraceBomItem
}

// AddBomItem 单件扣料：查配方行项 → 校验单台用量上限 → 批次队列扣料 → 落累计行。
// 批次缺口视为失败，事务回滚后不保留任何部分扣料。
func (s *TraceService) AddBomItem(ctx context.Context, traceID, bomItemCode string, amount decimal.Decimal) (*entity.TraceBomItem, error) {
	if amount.Sign() <= 0 {
		return nil, &entity.MiscError{Message: fmt.Sprintf("扣料数量无效: %s", amount)}
	}

	var saved *entity.TraceBomItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := result.Bind(s.lockTrace(tx, traceID), func(trace *entity.TraceInfo) result.Result[addBomState] {
			return s.resolveRecipeItem(tx, trace, bomItemCode)
		})
		res = result.Bind(res, func(st addBomState) result.Result[addBomState] {
			return s.checkQuota(tx, st, amount)
		})
		res = result.Bind(res, func(st addBomState) result.Result[addBomState] {
			return s.allocate(tx, st, bomItemCode, amount)
		})
		res = result.Bind(res, func(st addBomState) result.Result[addBomState] {
			return s.persistConsumption(tx, st, amount)
		})

		st, err := res.Unwrap()
		if err != nil {
			return err
		}
		saved = st.saved
		return s.bumpVersion(tx, st.trace.ID)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// lockTrace 加行锁取追溯记录
func (s *TraceService) lockTrace(tx *gorm.DB, traceID string) result.Result[*entity.TraceInfo] {
	trace, err := s.traceRepo.FindActiveForUpdate(tx, traceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return result.Err[*entity.TraceInfo](&entity.TraceInfoNotFoundError{TraceID: traceID})
		}
		return result.Err[*entity.TraceInfo](fmt.Errorf("查询追溯记录失败: %w", err))
	}
	return result.Ok(trace)
}

// resolveRecipeItem 沿工单找到配方行项
func (s *TraceService) resolveRecipeItem(tx *gorm.DB, trace *entity.TraceInfo, bomItemCode string) result.Result[addBomState] {
	var wo entity.WorkOrder
	if err := tx.First(&wo, "id = ?", trace.WorkOrderID).Error; err != nil {
		return result.Err[addBomState](fmt.Errorf("查询工单失败: %w", err))
	}
	item, err := s.recipeRepo.FindActiveItemTx(tx, wo.RecipeID, bomItemCode)
	if err != nil {
		if repository.IsNotFound(err) {
			return result.Err[addBomState](&entity.BomItemNotFoundError{ItemCode: bomItemCode})
		}
		return result.Err[addBomState](fmt.Errorf("查询配方行项失败: %w", err))
	}
	return result.Ok(addBomState{trace: trace, recipeItem: item})
}

// checkQuota 校验累计消耗不超过单台用量上限
func (s *TraceService) checkQuota(tx *gorm.DB, st addBomState, amount decimal.Decimal) result.Result[addBomState] {
	accumulation := decimal.Zero
	existing, err := s.traceRepo.FindBomItem(tx, st.trace.ID, st.recipeItem.ItemCode)
	if err == nil {
		st.existing = existing
		accumulation = existing.Consumption
	} else if !repository.IsNotFound(err) {
		return result.Err[addBomState](fmt.Errorf("查询消耗记录失败: %w", err))
	}

	if accumulation.Add(amount).Cmp(st.recipeItem.Quota) > 0 {
		return result.Err[addBomState](&entity.BomItemExceedsQuotaError{
			ItemCode:     st.recipeItem.ItemCode,
			Quota:        st.recipeItem.Quota,
			Accumulation: accumulation,
			Addition:     amount,
		})
	}
	return result.Ok(st)
}

// allocate 从批次队列扣料，缺口即失败
func (s *TraceService) allocate(tx *gorm.DB, st addBomState, bomItemCode string, amount decimal.Decimal) result.Result[addBomState] {
	outcome, err := s.batchSvc.ConsumeInTx(tx, bomItemCode, amount)
	if err != nil {
		return result.Err[addBomState](fmt.Errorf("批次扣料失败: %w", err))
	}
	if outcome.Shortfall.Sign() > 0 {
		return result.Err[addBomState](&entity.MiscError{
			Message: fmt.Sprintf("物料 %s 批次余量不足, 缺口%s", bomItemCode, outcome.Shortfall),
		})
	}
	st.outcome = outcome
	return result.Ok(st)
}

// persistConsumption 写入或更新累计消耗行
func (s *TraceService) persistConsumption(tx *gorm.DB, st addBomState, amount decimal.Decimal) result.Result[addBomState] {
	codes := st.outcome.BatchCodes()
	if st.existing != nil {
		st.existing.Consumption = st.existing.Consumption.Add(amount)
		if len(codes) > 0 {
			if st.existing.BatchCodes != "" {
				st.existing.BatchCodes += "," + strings.Join(codes, ",")
			} else {
				st.existing.BatchCodes = strings.Join(codes, ",")
			}
		}
		if err := tx.Save(st.existing).Error; err != nil {
			return result.Err[addBomState](fmt.Errorf("更新消耗记录失败: %w", err))
		}
		st.saved = st.existing
		return result.Ok(st)
	}

	item := &entity.TraceBomItem{
		ID:           uuid.New().String(),
		TraceInfoID:  st.trace.ID,
		BomItemCode:  st.recipeItem.ItemCode,
		MaterialCode: st.recipeItem.MaterialCode,
		Unit:         st.recipeItem.Unit,
		Quota:        st.recipeItem.Quota,
		Consumption:  amount,
		BatchCodes:   strings.Join(codes, ","),
	}
	if err := tx.Create(item).Error; err != nil {
		return result.Err[addBomState](fmt.Errorf("创建消耗记录失败: %w", err))
	}
	st.saved = item
	return result.Ok(st)
}

// AddProcItem 追加过站记录，(station, key)在未删除行中唯一
func (s *TraceService) AddProcItem(ctx context.Context, traceID, station, key, value string) (*entity.TraceProcItem, error) {
	var created *entity.TraceProcItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trace, err := s.traceRepo.FindActiveForUpdate(tx, traceID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.TraceInfoNotFoundError{TraceID: traceID}
			}
			return fmt.Errorf("查询追溯记录失败: %w", err)
		}

		if _, err := s.traceRepo.FindActiveProcItem(tx, trace.ID, station, key); err == nil {
			return &entity.ProcItemAlreadyExistsError{Station: station, Key: key}
		} else if !repository.IsNotFound(err) {
			return fmt.Errorf("查询过站记录失败: %w", err)
		}

		created = &entity.TraceProcItem{
			ID:          uuid.New().String(),
			TraceInfoID: trace.ID,
			Station:     station,
			Key:         key,
			Value:       value,
		}
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("创建过站记录失败: %w", err)
		}
		return s.bumpVersion(tx, trace.ID)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteProcItem 软删除过站记录，重复删除报已删除
func (s *TraceService) DeleteProcItem(ctx context.Context, traceID, procItemID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trace, err := s.traceRepo.FindActiveForUpdate(tx, traceID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.TraceInfoNotFoundError{TraceID: traceID}
			}
			return fmt.Errorf("查询追溯记录失败: %w", err)
		}

		item, err := s.traceRepo.FindProcItem(tx, trace.ID, procItemID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.ProcItemNotFoundError{ProcItemID: procItemID}
			}
			return fmt.Errorf("查询过站记录失败: %w", err)
		}
		if item.IsDeleted {
			return &entity.ProcItemAlreadyDeletedError{ProcItemID: procItemID}
		}

		now := time.Now()
		if err := tx.Model(&entity.TraceProcItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now}).Error; err != nil {
			return fmt.Errorf("删除过站记录失败: %w", err)
		}
		return s.bumpVersion(tx, trace.ID)
	})
}

// BindPin 绑定PIN，至多一次，已绑定的不覆盖
func (s *TraceService) BindPin(ctx context.Context, traceID, pin string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trace, err := s.traceRepo.FindActiveForUpdate(tx, traceID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.TraceInfoNotFoundError{TraceID: traceID}
			}
			return fmt.Errorf("查询追溯记录失败: %w", err)
		}
		if trace.Pin != nil {
			return &entity.PinAlreadyBoundError{TraceID: traceID, Pin: *trace.Pin}
		}
		if err := tx.Model(&entity.TraceInfo{}).
			Where("id = ?", trace.ID).
			Update("pin", pin).Error; err != nil {
			return fmt.Errorf("绑定PIN失败: %w", err)
		}
		return s.bumpVersion(tx, trace.ID)
	})
}

// ForceStatusCondition 强制改状态的检索条件，按ID或PIN定位
type ForceStatusCondition struct {
	TraceID string `json:"trace_id"`
	Pin     string `json:"pin"`
}

// ForceStatus 操作员覆盖：绕过常规校验直接改写状态
func (s *TraceService) ForceStatus(ctx context.Context, cond ForceStatusCondition, newStatus string) (*entity.TraceInfo, error) {
	var updated *entity.TraceInfo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trace *entity.TraceInfo
		var err error
		ident := cond.TraceID
		switch {
		case cond.TraceID != "":
			trace, err = s.traceRepo.FindActiveForUpdate(tx, cond.TraceID)
		case cond.Pin != "":
			ident = cond.Pin
			trace, err = s.traceRepo.FindActiveByPinForUpdate(tx, cond.Pin)
		default:
			return &entity.TraceInfoNotFoundError{TraceID: ""}
		}
		if err != nil {
			if repository.IsNotFound(err) {
				return &entity.TraceInfoNotFoundError{TraceID: ident}
			}
			return fmt.Errorf("查询追溯记录失败: %w", err)
		}

		if err := tx.Model(&entity.TraceInfo{}).
			Where("id = ?", trace.ID).
			Update("status", newStatus).Error; err != nil {
			return fmt.Errorf("强制改状态失败: %w", err)
		}
		if err := s.bumpVersion(tx, trace.ID); err != nil {
			return err
		}
		trace.Status = newStatus
		trace.Version++
		updated = trace
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get 追溯详情（含子项）
func (s *TraceService) Get(ctx context.Context, traceID string) (*entity.TraceInfo, error) {
	trace, err := s.traceRepo.FindByID(ctx, traceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &entity.TraceInfoNotFoundError{TraceID: traceID}
		}
		return nil, err
	}
	return trace, nil
}

// List 追溯列表
func (s *TraceService) List(ctx context.Context, params repository.TraceListParams) ([]entity.TraceInfo, int64, error) {
	return s.traceRepo.List(ctx, params)
}

// bumpVersion 每次聚合内写操作递增版本号
func (s *TraceService) bumpVersion(tx *gorm.DB, traceID string) error {
	return tx.Model(&entity.TraceInfo{}).
		Where("id = ?", traceID).
		Update("version", gorm.Expr("version + 1")).Error
}
