package entity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind 领域错误分类，处理层据此映射稳定的外部错误码
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAlreadyDone   Kind = "already_done"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindInvalidState  Kind = "invalid_state"
	KindMisc          Kind = "misc"
)

// DomainError 所有领域错误的公共接口。每个操作只会返回自己闭集内的变体，
// 基础设施故障不走这里，直接以包装错误向上冒泡并整体回滚。
type DomainError interface {
	error
	Kind() Kind
}

// KindOf 取错误的领域分类，非领域错误一律视为Misc
func KindOf(err error) Kind {
	var de DomainError
	if errors.As(err, &de) {
		return de.Kind()
	}
	return KindMisc
}

// ---- 配方 ----

type RecipeNotFoundError struct {
	RecipeID string
}

func (e *RecipeNotFoundError) Error() string { return fmt.Sprintf("配方不存在: %s", e.RecipeID) }
func (e *RecipeNotFoundError) Kind() Kind    { return KindNotFound }

type RecipeStatusError struct {
	RecipeID string
	Status   string
}

func (e *RecipeStatusError) Error() string {
	return fmt.Sprintf("配方 %s 当前状态不允许该操作: %s", e.RecipeID, e.Status)
}
func (e *RecipeStatusError) Kind() Kind { return KindInvalidState }

type BomItemNotFoundError struct {
	ItemCode string
}

func (e *BomItemNotFoundError) Error() string { return fmt.Sprintf("BOM行项不存在: %s", e.ItemCode) }
func (e *BomItemNotFoundError) Kind() Kind    { return KindNotFound }

// ---- 批次队列 ----

type BatchAlreadyExistsError struct {
	BomItemCode string
	BatchCode   string
}

func (e *BatchAlreadyExistsError) Error() string {
	return fmt.Sprintf("批次已存在: %s/%s", e.BomItemCode, e.BatchCode)
}
func (e *BatchAlreadyExistsError) Kind() Kind { return KindAlreadyDone }

type BatchNotFoundError struct {
	BatchCode string
}

func (e *BatchNotFoundError) Error() string { return fmt.Sprintf("批次不存在: %s", e.BatchCode) }
func (e *BatchNotFoundError) Kind() Kind    { return KindNotFound }

type BatchAlreadyRemovedError struct {
	BatchCode string
}

func (e *BatchAlreadyRemovedError) Error() string { return fmt.Sprintf("批次已下线: %s", e.BatchCode) }
func (e *BatchAlreadyRemovedError) Kind() Kind    { return KindAlreadyDone }

// ---- 追溯记录 ----

type TraceInfoNotFoundError struct {
	TraceID string
}

func (e *TraceInfoNotFoundError) Error() string {
	return fmt.Sprintf("追溯记录不存在: %s", e.TraceID)
}
func (e *TraceInfoNotFoundError) Kind() Kind { return KindNotFound }

// BomItemExceedsQuotaError 扣料超出单台用量上限。
// 携带上限/已累计/本次增量，供上游决定改量重试还是升级处理。
type BomItemExceedsQuotaError struct {
	ItemCode     string
	Quota        decimal.Decimal
	Accumulation decimal.Decimal
	Addition     decimal.Decimal
}

func (e *BomItemExceedsQuotaError) Error() string {
	return fmt.Sprintf("物料 %s 超出用量上限: 上限%s, 已累计%s, 本次%s",
		e.ItemCode, e.Quota, e.Accumulation, e.Addition)
}
func (e *BomItemExceedsQuotaError) Kind() Kind { return KindQuotaExceeded }

type ProcItemAlreadyExistsError struct {
	Station string
	Key     string
}

func (e *ProcItemAlreadyExistsError) Error() string {
	return fmt.Sprintf("过站记录已存在: (%s, %s)", e.Station, e.Key)
}
func (e *ProcItemAlreadyExistsError) Kind() Kind { return KindAlreadyDone }

type ProcItemNotFoundError struct {
	ProcItemID string
}

func (e *ProcItemNotFoundError) Error() string {
	return fmt.Sprintf("过站记录不存在: %s", e.ProcItemID)
}
func (e *ProcItemNotFoundError) Kind() Kind { return KindNotFound }

type ProcItemAlreadyDeletedError struct {
	ProcItemID string
}

func (e *ProcItemAlreadyDeletedError) Error() string {
	return fmt.Sprintf("过站记录已删除: %s", e.ProcItemID)
}
func (e *ProcItemAlreadyDeletedError) Kind() Kind { return KindAlreadyDone }

type PinAlreadyBoundError struct {
	TraceID string
	Pin     string
}

func (e *PinAlreadyBoundError) Error() string {
	return fmt.Sprintf("追溯记录 %s 已绑定PIN: %s", e.TraceID, e.Pin)
}
func (e *PinAlreadyBoundError) Kind() Kind { return KindAlreadyDone }

// ---- 工单 ----

type WorkOrderNotFoundError struct {
	WorkOrderID string
}

func (e *WorkOrderNotFoundError) Error() string {
	return fmt.Sprintf("工单不存在: %s", e.WorkOrderID)
}
func (e *WorkOrderNotFoundError) Kind() Kind { return KindNotFound }

type WorkOrderNotReadyError struct {
	Status string
}

func (e *WorkOrderNotReadyError) Error() string {
	return fmt.Sprintf("工单当前状态不允许该操作: %s", e.Status)
}
func (e *WorkOrderNotReadyError) Kind() Kind { return KindInvalidState }

type WorkOrderAlreadyStartedError struct {
	ExecutionID string
}

func (e *WorkOrderAlreadyStartedError) Error() string {
	return fmt.Sprintf("工单已开工, 执行记录: %s", e.ExecutionID)
}
func (e *WorkOrderAlreadyStartedError) Kind() Kind { return KindAlreadyDone }

type WorkOrderNotExecutingError struct {
	WorkOrderID string
}

func (e *WorkOrderNotExecutingError) Error() string {
	return fmt.Sprintf("工单无执行记录: %s", e.WorkOrderID)
}
func (e *WorkOrderNotExecutingError) Kind() Kind { return KindInvalidState }

type WorkOrderFinishedError struct {
	WorkOrderID string
}

func (e *WorkOrderFinishedError) Error() string {
	return fmt.Sprintf("工单已完结: %s", e.WorkOrderID)
}
func (e *WorkOrderFinishedError) Kind() Kind { return KindAlreadyDone }

// WorkOrderQuotaExceedsError 报产超出计划产量，整笔拒绝不做部分累计
type WorkOrderQuotaExceedsError struct {
	Quota       decimal.Decimal
	Accumulated decimal.Decimal
	Current     decimal.Decimal
}

func (e *WorkOrderQuotaExceedsError) Error() string {
	return fmt.Sprintf("超出计划产量: 上限%s, 已累计%s, 本次%s",
		e.Quota, e.Accumulated, e.Current)
}
func (e *WorkOrderQuotaExceedsError) Kind() Kind { return KindQuotaExceeded }

type DocStatusError struct {
	Message string
}

func (e *DocStatusError) Error() string { return e.Message }
func (e *DocStatusError) Kind() Kind    { return KindInvalidState }

// MiscError 未归类领域失败（如批次余量不足导致的扣料失败）
type MiscError struct {
	Message string
}

func (e *MiscError) Error() string { return e.Message }
func (e *MiscError) Kind() Kind    { return KindMisc }
