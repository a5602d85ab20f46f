package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"gorm.io/gorm"
)

// BatchQueueService 物料批次队列：上线、按序扣料、补偿回退、下线
type BatchQueueService struct {
	batchRepo *repository.BatchQueueRepository
	db        *gorm.DB
}

func NewBatchQueueService(batchRepo *repository.BatchQueueRepository, db *gorm.DB) *BatchQueueService {
	return &BatchQueueService{batchRepo: batchRepo, db: db}
}

type LoadBatchRequest struct {
	BomItemCode string `json:"bom_item_code" binding:"required"`
	BatchCode   string `json:"batch_code" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Priority    int    `json:"priority"`
}

// Load 批次上线。(bom_item_code, batch_code)在未删除行中必须唯一。
func (s *BatchQueueService) Load(ctx context.Context, req LoadBatchRequest, userID string) (*entity.MaterialBatchQueueItem, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("批次数量无效: %s", req.Amount)
	}

	if existing, findErr := s.batchRepo.FindActive(ctx, req.BomItemCode, req.BatchCode); findErr == nil && existing != nil {
		return nil, &entity.BatchAlreadyExistsError{BomItemCode: req.BomItemCode, BatchCode: req.BatchCode}
	}

	item := &entity.MaterialBatchQueueItem{
		ID:              uuid.New().String(),
		BomItemCode:     req.BomItemCode,
		BatchCode:       req.BatchCode,
		TotalAmount:     amount,
		RemainingAmount: amount,
		Priority:        req.Priority,
		CreatedBy:       userID,
	}
	if err := s.batchRepo.Create(ctx, item); err != nil {
		// 并发上线同一批次时预检双双通过，由部分唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &entity.BatchAlreadyExistsError{BomItemCode: req.BomItemCode, BatchCode: req.BatchCode}
		}
		return nil, fmt.Errorf("批次上线失败: %w", err)
	}
	return item, nil
}

// Allocation 单个批次的扣料结果
type Allocation struct {
	BatchCode string          `json:"batch_code"`
	Amount    decimal.Decimal `json:"amount"`
}

// ConsumeOutcome 一次扣料的完整结果。Shortfall>0表示批次耗尽仍未扣够，
// 是否接受部分扣料由调用方决定（追溯服务一律视为失败并整体回滚）。
type ConsumeOutcome struct {
	Allocations []Allocation    `json:"allocations"`
	Shortfall   decimal.Decimal `json:"shortfall"`
}

// BatchCodes 按扣料顺序拼接批次号
func (o ConsumeOutcome) BatchCodes() []string {
	codes := make([]string, 0, len(o.Allocations))
	for _, a := range o.Allocations {
		codes = append(codes, a.BatchCode)
	}
	return codes
}

// ConsumeInTx 在调用方事务内按规范顺序贪心扣料。
// 未知的bom_item_code得到空候选集，等价于全额缺口。
func (s *BatchQueueService) ConsumeInTx(tx *gorm.DB, bomItemCode string, amount decimal.Decimal) (ConsumeOutcome, error) {
	outcome := ConsumeOutcome{Shortfall: decimal.Zero}
	if amount.Sign() <= 0 {
		return outcome, fmt.Errorf("扣料数量无效: %s", amount)
	}

	batches, err := s.batchRepo.ListEligibleForUpdate(tx, bomItemCode)
	if err != nil {
		return outcome, fmt.Errorf("查询批次失败: %w", err)
	}

	need := amount
	for i := range batches {
		if need.Sign() <= 0 {
			break
		}
		batch := &batches[i]
		take := decimal.Min(batch.RemainingAmount, need)
		batch.RemainingAmount = batch.RemainingAmount.Sub(take)
		if err := tx.Model(&entity.MaterialBatchQueueItem{}).
			Where("id = ?", batch.ID).
			Update("remaining_amount", batch.RemainingAmount).Error; err != nil {
			return outcome, fmt.Errorf("扣减批次余量失败: %w", err)
		}
		outcome.Allocations = append(outcome.Allocations, Allocation{BatchCode: batch.BatchCode, Amount: take})
		need = need.Sub(take)
	}
	outcome.Shortfall = need
	return outcome, nil
}

// ReleaseInTx 回补批次余量，仅作为外层事务放弃暂扣后的补偿动作，上限为总量。
// 只在未删除行中定位，批次号被重新上线时不会误中已下线的旧行。
func (s *BatchQueueService) ReleaseInTx(tx *gorm.DB, batchCode string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("回补数量无效: %s", amount)
	}
	batch, err := s.batchRepo.FindActiveForUpdate(tx, batchCode)
	if err != nil {
		if repository.IsNotFound(err) {
			return &entity.BatchNotFoundError{BatchCode: batchCode}
		}
		return fmt.Errorf("查询批次失败: %w", err)
	}
	restored := decimal.Min(batch.RemainingAmount.Add(amount), batch.TotalAmount)
	if err := tx.Model(&entity.MaterialBatchQueueItem{}).
		Where("id = ?", batch.ID).
		Update("remaining_amount", restored).Error; err != nil {
		return fmt.Errorf("回补批次余量失败: %w", err)
	}
	return nil
}

// Release 独立事务的回补入口，供上游补偿调用
func (s *BatchQueueService) Release(ctx context.Context, batchCode string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ReleaseInTx(tx, batchCode, amount)
	})
}

// Remove 批次下线（软删除，行不物理删除）
func (s *BatchQueueService) Remove(ctx context.Context, batchCode string) error {
	batch, err := s.batchRepo.FindActiveByBatchCode(ctx, batchCode)
	if err != nil {
		if repository.IsNotFound(err) {
			// 区分从未上线与已下线
			var count int64
			s.db.WithContext(ctx).Model(&entity.MaterialBatchQueueItem{}).
				Where("batch_code = ?", batchCode).Count(&count)
			if count > 0 {
				return &entity.BatchAlreadyRemovedError{BatchCode: batchCode}
			}
			return &entity.BatchNotFoundError{BatchCode: batchCode}
		}
		return fmt.Errorf("查询批次失败: %w", err)
	}
	now := time.Now()
	return s.db.WithContext(ctx).Model(&entity.MaterialBatchQueueItem{}).
		Where("id = ?", batch.ID).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now}).Error
}

// List 批次列表
func (s *BatchQueueService) List(ctx context.Context, params repository.BatchListParams) ([]entity.MaterialBatchQueueItem, int64, error) {
	return s.batchRepo.List(ctx, params)
}

// RemainingTotal 某BOM行项在线可用余量合计
func (s *BatchQueueService) RemainingTotal(ctx context.Context, bomItemCode string) (string, error) {
	return s.batchRepo.SumRemaining(ctx, bomItemCode)
}

// ImportResult 批次导入结果
type ImportResult struct {
	Created int      `json:"created"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// ImportCSV 从CSV批量上线批次，列: bom_item_code,batch_code,amount,priority。
// 线边设备导出的清单多为GBK编码，非UTF-8时先转码。
func (s *BatchQueueService) ImportCSV(ctx context.Context, r io.Reader, userID string) (*ImportResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	if !utf8.Valid(raw) {
		decoded, decErr := io.ReadAll(transform.NewReader(strings.NewReader(string(raw)), simplifiedchinese.GBK.NewDecoder()))
		if decErr != nil {
			return nil, fmt.Errorf("文件编码转换失败: %w", decErr)
		}
		raw = decoded
	}

	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析CSV失败: %w", err)
	}

	result := &ImportResult{}
	for i, row := range rows {
		if i == 0 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "bom_item_code") {
			continue // 跳过表头
		}
		if len(row) < 3 || strings.TrimSpace(row[0]) == "" {
			result.Failed++
			continue
		}
		req := LoadBatchRequest{
			BomItemCode: strings.TrimSpace(row[0]),
			BatchCode:   strings.TrimSpace(row[1]),
			Amount:      strings.TrimSpace(row[2]),
		}
		if len(row) > 3 {
			if p, convErr := strconv.Atoi(strings.TrimSpace(row[3])); convErr == nil {
				req.Priority = p
			}
		}
		if _, loadErr := s.Load(ctx, req, userID); loadErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: %v", i+1, loadErr))
			continue
		}
		result.Created++
	}
	return result, nil
}
