package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TraceHandler 过站追溯接口
type TraceHandler struct {
	svc *service.TraceService
}

func NewTraceHandler(svc *service.TraceService) *TraceHandler {
	return &TraceHandler{svc: svc}
}

type createTraceRequest struct {
	WorkOrderID string `json:"work_order_id" binding:"required"`
	SN          string `json:"sn" binding:"required"`
}

// Create POST /api/v1/traces
func (h *TraceHandler) Create(c *gin.Context) {
	var req createTraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	trace, err := h.svc.CreateTrace(c.Request.Context(), req.WorkOrderID, req.SN)
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, trace)
}

type addBomItemRequest struct {
	BomItemCode string `json:"bom_item_code" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// AddBomItem POST /api/v1/traces/:id/bom-items 记录物料消耗
func (h *TraceHandler) AddBomItem(c *gin.Context) {
	var req addBomItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		BadRequest(c, "扣料数量无效: "+req.Amount)
		return
	}
	item, err := h.svc.AddBomItem(c.Request.Context(), c.Param("id"), req.BomItemCode, amount)
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, item)
}

type addProcItemRequest struct {
	Station string `json:"station" binding:"required"`
	Key     string `json:"key" binding:"required"`
	Value   string `json:"value"`
}

// AddProcItem POST /api/v1/traces/:id/proc-items 记录过站参数
func (h *TraceHandler) AddProcItem(c *gin.Context) {
	var req addProcItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, err := h.svc.AddProcItem(c.Request.Context(), c.Param("id"), req.Station, req.Key, req.Value)
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, item)
}

// DeleteProcItem DELETE /api/v1/traces/:id/proc-items/:item_id
func (h *TraceHandler) DeleteProcItem(c *gin.Context) {
	if err := h.svc.DeleteProcItem(c.Request.Context(), c.Param("id"), c.Param("item_id")); err != nil {
		DomainError(c, err)
		return
	}
	Success(c, nil)
}

type bindPinRequest struct {
	Pin string `json:"pin" binding:"required"`
}

// BindPin POST /api/v1/traces/:id/pin 绑定PIN，至多一次
func (h *TraceHandler) BindPin(c *gin.Context) {
	var req bindPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.BindPin(c.Request.Context(), c.Param("id"), req.Pin); err != nil {
		DomainError(c, err)
		return
	}
	Success(c, nil)
}

type forceStatusRequest struct {
	TraceID string `json:"trace_id"`
	Pin     string `json:"pin"`
	Status  string `json:"status" binding:"required"`
}

// ForceStatus POST /api/v1/traces/force-status 操作员覆盖
func (h *TraceHandler) ForceStatus(c *gin.Context) {
	var req forceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	switch req.Status {
	case entity.TraceStatusInProcess, entity.TraceStatusPassed,
		entity.TraceStatusFailed, entity.TraceStatusScrapped:
	default:
		BadRequest(c, "状态值无效: "+req.Status)
		return
	}
	cond := service.ForceStatusCondition{TraceID: req.TraceID, Pin: req.Pin}
	trace, err := h.svc.ForceStatus(c.Request.Context(), cond, req.Status)
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, trace)
}

// Get GET /api/v1/traces/:id
func (h *TraceHandler) Get(c *gin.Context) {
	trace, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, trace)
}

// List GET /api/v1/traces
func (h *TraceHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.TraceListParams{
		WorkOrderID: c.Query("work_order_id"),
		SN:          c.Query("sn"),
		Status:      c.Query("status"),
		Page:        page,
		Size:        pageSize,
	}
	traces, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, "获取追溯列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": traces, "total": total})
}
