package handler

import (
	"io"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/gin-gonic/gin"
)

// maxImportSize caps a YAML import body.
const maxImportSize = 2 << 20

// TemplateHandler 模板处理器
type TemplateHandler struct {
	svc  *service.TemplateService
	errs *errorResponder
}

func NewTemplateHandler(svc *service.TemplateService, errs *errorResponder) *TemplateHandler {
	return &TemplateHandler{svc: svc, errs: errs}
}

// List 模板列表
// GET /api/v1/templates?status=xxx&type=xxx&machine_id=xxx&search=xxx
func (h *TemplateHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":     c.Query("status"),
		"type":       c.Query("type"),
		"machine_id": c.Query("machine_id"),
		"search":     c.Query("search"),
	}

	items, total, err := h.svc.ListTemplates(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Paginated(c, items, total, page, pageSize)
}

// Get 模板详情
// GET /api/v1/templates/:id
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.svc.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, tpl)
}

// Create 创建模板
// POST /api/v1/templates
func (h *TemplateHandler) Create(c *gin.Context) {
	var req service.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	tpl, err := h.svc.CreateTemplate(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Created(c, tpl)
}

// Update 更新模板
// PUT /api/v1/templates/:id
func (h *TemplateHandler) Update(c *gin.Context) {
	var req service.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	tpl, err := h.svc.UpdateTemplate(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, tpl)
}

// Activate 发布模板
// POST /api/v1/templates/:id/activate
func (h *TemplateHandler) Activate(c *gin.Context) {
	tpl, err := h.svc.ActivateTemplate(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, tpl)
}

// Deprecate 停用模板
// POST /api/v1/templates/:id/deprecate
func (h *TemplateHandler) Deprecate(c *gin.Context) {
	tpl, err := h.svc.DeprecateTemplate(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, tpl)
}

// Import 导入YAML模板
// POST /api/v1/templates/import  (body: YAML)
func (h *TemplateHandler) Import(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize+1))
	if err != nil {
		BadRequest(c, "读取请求体失败: "+err.Error())
		return
	}
	if len(body) == 0 {
		BadRequest(c, "请求体为空")
		return
	}
	if len(body) > maxImportSize {
		BadRequest(c, "导入文件过大")
		return
	}

	result, err := h.svc.ImportTemplates(c.Request.Context(), GetUserID(c), body)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, result)
}
