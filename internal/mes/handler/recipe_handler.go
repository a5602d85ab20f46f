package handler

import (
	"fmt"
	"net/url"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

// RecipeHandler BOM配方接口
type RecipeHandler struct {
	svc *service.RecipeService
}

func NewRecipeHandler(svc *service.RecipeService) *RecipeHandler {
	return &RecipeHandler{svc: svc}
}

// Create POST /api/v1/recipes
func (h *RecipeHandler) Create(c *gin.Context) {
	var req service.CreateRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	recipe, err := h.svc.Create(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, recipe)
}

// AddItem POST /api/v1/recipes/:id/items
func (h *RecipeHandler) AddItem(c *gin.Context) {
	var req service.AddRecipeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, err := h.svc.AddItem(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, item)
}

// Commit POST /api/v1/recipes/:id/commit
func (h *RecipeHandler) Commit(c *gin.Context) {
	recipe, err := h.svc.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, recipe)
}

// Approve POST /api/v1/recipes/:id/approve
func (h *RecipeHandler) Approve(c *gin.Context) {
	recipe, err := h.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, recipe)
}

// NewRevision POST /api/v1/recipes/:id/revisions
func (h *RecipeHandler) NewRevision(c *gin.Context) {
	recipe, err := h.svc.NewRevision(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		DomainError(c, err)
		return
	}
	Created(c, recipe)
}

// Get GET /api/v1/recipes/:id
func (h *RecipeHandler) Get(c *gin.Context) {
	recipe, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, recipe)
}

// GetItem GET /api/v1/recipes/:id/items/:item_code
func (h *RecipeHandler) GetItem(c *gin.Context) {
	item, err := h.svc.GetItem(c.Request.Context(), c.Param("id"), c.Param("item_code"))
	if err != nil {
		DomainError(c, err)
		return
	}
	Success(c, item)
}

// List GET /api/v1/recipes
func (h *RecipeHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.RecipeListParams{
		Status:      c.Query("status"),
		ProductCode: c.Query("product_code"),
		Keyword:     c.Query("keyword"),
		Page:        page,
		Size:        pageSize,
	}
	recipes, total, err := h.svc.List(c.Request.Context(), params)
	if err != nil {
		InternalError(c, "获取配方列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": recipes, "total": total})
}

// Export GET /api/v1/recipes/:id/export 导出xlsx
func (h *RecipeHandler) Export(c *gin.Context) {
	f, filename, err := h.svc.ExportExcel(c.Request.Context(), c.Param("id"))
	if err != nil {
		DomainError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(filename)))
	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "导出失败: "+err.Error())
	}
}
