package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BatchHandler 物料批次队列接口
type BatchHandler struct {
	svc *service.BatchQueueService
}

func NewBatchHandler(svc *service.BatchQueueService) *BatchHandler {
	return &BatchHandler{svc: svc}
}

// Load POST /api/v1/batches 批次上线
func (h *BatchHandler) Load(c *gin.Context) {
	var req service.LoadBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, err := h.svc.Load(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, item)
}

// Remove DELETE /api/v1/batches/:batch_code 批次下线
func (h *BatchHandler) Remove(c *gin.Context) {
	if err := h.svc.Remove(c.Request.Context(), c.Param("batch_code")); err != nil {
		DomainError(c, err)
		return
	}
	Success(c, nil)
}

type releaseRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Release POST /api/v1/batches/:batch_code/release 回补余量
func (h *BatchHandler) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		BadRequest(c, "回补数量无效: "+req.Amount)
		return
	}
	if err := h.svc.Release(c.Request.Context(), c.Param("batch_code"), amount); err != nil {
		DomainError(c, err)
		return
	}
	Success(c, nil)
}

// List GET /api/v1/batches
func (h *BatchHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.BatchListParams{
		BomItemCode: c.Query("bom_item_code"),
		ShowDeleted: c.Query("show_deleted") == "true",
		Page:        page,
		Size:        pageSize,
	}
	items, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, "获取批次列表失败: "+err.Error())
		return
	}
	data := gin.H{"items": items, "total": total}
	// 按行项过滤时附带在线余量合计，供线边备料查询
	if params.BomItemCode != "" {
		if remaining, sumErr := h.svc.RemainingTotal(c.Request.Context(), params.BomItemCode); sumErr == nil {
			data["remaining_total"] = remaining
		}
	}
	Success(c, data)
}

// Import POST /api/v1/batches/import CSV批量上线
func (h *BatchHandler) Import(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "缺少上传文件")
		return
	}
	src, err := file.Open()
	if err != nil {
		InternalError(c, "打开上传文件失败: "+err.Error())
		return
	}
	defer src.Close()

	result, err := h.svc.ImportCSV(c.Request.Context(), src, GetUserID(c))
	if err != nil {
		InternalError(c, "导入失败: "+err.Error())
		return
	}
	Success(c, result)
}
