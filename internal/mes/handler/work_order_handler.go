package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WorkOrderHandler 工单接口
type WorkOrderHandler struct {
	svc *service.WorkOrderService
}

func NewWorkOrderHandler(svc *service.WorkOrderService) *WorkOrderHandler {
	return &WorkOrderHandler{svc: svc}
}

// Create POST /api/v1/work-orders
func (h *WorkOrderHandler) Create(c *gin.Context) {
	var req service.CreateWorkOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	wo, err := h.svc.Create(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, wo)
}

// Ready POST /api/v1/work-orders/:id/ready
func (h *WorkOrderHandler) Ready(c *gin.Context) {
	wo, err := h.svc.Ready(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, wo)
}

// Start POST /api/v1/work-orders/:id/start 开工
func (h *WorkOrderHandler) Start(c *gin.Context) {
	exec, err := h.svc.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, exec)
}

type recordProductionRequest struct {
	Quantity string `json:"quantity" binding:"required"`
}

// RecordProduction POST /api/v1/work-orders/:id/production 报产
func (h *WorkOrderHandler) RecordProduction(c *gin.Context) {
	var req recordProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		BadRequest(c, "报产数量无效: "+req.Quantity)
		return
	}
	exec, err := h.svc.RecordProduction(c.Request.Context(), c.Param("id"), quantity)
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, exec)
}

// Close POST /api/v1/work-orders/:id/close 关单
func (h *WorkOrderHandler) Close(c *gin.Context) {
	wo, err := h.svc.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, wo)
}

// Maintain PATCH /api/v1/work-orders/:id 单据维护
func (h *WorkOrderHandler) Maintain(c *gin.Context) {
	var req service.MaintainDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	wo, err := h.svc.MaintainDocument(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, wo)
}

// Get GET /api/v1/work-orders/:id
func (h *WorkOrderHandler) Get(c *gin.Context) {
	wo, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, wo)
}

// List GET /api/v1/work-orders
func (h *WorkOrderHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.WorkOrderListParams{
		Status:      c.Query("status"),
		ProductCode: c.Query("product_code"),
		Keyword:     c.Query("keyword"),
		Page:        page,
		Size:        pageSize,
	}
	wos, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, "获取工单列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": wos, "total": total})
}
