package handler

import (
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Recipe    *RecipeHandler
	Batch     *BatchHandler
	Trace     *TraceHandler
	WorkOrder *WorkOrderHandler
	Dashboard *DashboardHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Recipe:    NewRecipeHandler(svc.Recipe),
		Batch:     NewBatchHandler(svc.Batch),
		Trace:     NewTraceHandler(svc.Trace),
		WorkOrder: NewWorkOrderHandler(svc.WorkOrder),
		Dashboard: NewDashboardHandler(svc.Dashboard),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// DomainError 领域错误统一出口，按错误类别映射应用码与HTTP状态。
// 非领域错误一律落500，避免把数据库细节泄给调用方。
func DomainError(c *gin.Context, err error) {
	switch entity.KindOf(err) {
	case entity.KindNotFound:
		Error(c, 40400, err.Error())
	case entity.KindAlreadyDone:
		Error(c, 40900, err.Error())
	case entity.KindQuotaExceeded:
		Error(c, 42200, err.Error())
	case entity.KindInvalidState:
		Error(c, 40901, err.Error())
	default:
		Error(c, 50000, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}
	return page, pageSize
}
