package handler

import (
	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/gin-gonic/gin"
)

// RunHandler 检查执行处理器
type RunHandler struct {
	svc      *service.RunService
	photoSvc *service.PhotoService
	errs     *errorResponder
}

func NewRunHandler(svc *service.RunService, photoSvc *service.PhotoService, errs *errorResponder) *RunHandler {
	return &RunHandler{svc: svc, photoSvc: photoSvc, errs: errs}
}

// List 执行记录列表
// GET /api/v1/runs?template_id=xxx&machine_id=xxx&user_id=xxx&status=xxx
func (h *RunHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"template_id": c.Query("template_id"),
		"machine_id":  c.Query("machine_id"),
		"user_id":     c.Query("user_id"),
		"status":      c.Query("status"),
	}
	if c.Query("mine") == "true" {
		filters["user_id"] = GetUserID(c)
	}

	items, total, err := h.svc.ListRuns(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Paginated(c, items, total, page, pageSize)
}

// Create 开始检查
// POST /api/v1/runs
func (h *RunHandler) Create(c *gin.Context) {
	var req service.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	run, err := h.svc.CreateRun(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Created(c, run)
}

// Get 执行详情（含答案与进度）
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	detail, err := h.svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, detail)
}

// SubmitAnswer 提交答案
// PUT /api/v1/runs/:id/answers/:itemId
func (h *RunHandler) SubmitAnswer(c *gin.Context) {
	var req service.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.SubmitAnswer(c.Request.Context(), c.Param("id"), c.Param("itemId"), GetUserID(c), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, result)
}

// Complete 完成检查
// POST /api/v1/runs/:id/complete
func (h *RunHandler) Complete(c *gin.Context) {
	run, err := h.svc.CompleteRun(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, run)
}

// Abort 中止检查
// POST /api/v1/runs/:id/abort
func (h *RunHandler) Abort(c *gin.Context) {
	var req service.AbortRunRequest
	// 请求体可选
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}

	run, err := h.svc.AbortRun(c.Request.Context(), c.Param("id"), GetUserID(c), req.Reason)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, run)
}

// Activities 执行操作日志
// GET /api/v1/runs/:id/activities
func (h *RunHandler) Activities(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.ListActivities(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Paginated(c, items, total, page, pageSize)
}

// PresignPhoto 获取照片上传地址
// POST /api/v1/runs/:id/photos/presign
func (h *RunHandler) PresignPhoto(c *gin.Context) {
	var req service.PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	upload, err := h.photoSvc.PresignUpload(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, upload)
}

// GetPhoto 获取答案照片地址
// GET /api/v1/runs/:id/answers/:itemId/photo
func (h *RunHandler) GetPhoto(c *gin.Context) {
	link, err := h.photoSvc.GetPhotoURL(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, link)
}
