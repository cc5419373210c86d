package handler

import (
	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/gin-gonic/gin"
)

// MachineHandler 设备处理器
type MachineHandler struct {
	svc  *service.MachineService
	errs *errorResponder
}

func NewMachineHandler(svc *service.MachineService, errs *errorResponder) *MachineHandler {
	return &MachineHandler{svc: svc, errs: errs}
}

// List 设备列表
// GET /api/v1/machines?work_centre=xxx&status=xxx&search=xxx
func (h *MachineHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"work_centre": c.Query("work_centre"),
		"status":      c.Query("status"),
		"search":      c.Query("search"),
	}

	items, total, err := h.svc.ListMachines(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Paginated(c, items, total, page, pageSize)
}

// Get 设备详情
// GET /api/v1/machines/:id
func (h *MachineHandler) Get(c *gin.Context) {
	m, err := h.svc.GetMachine(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, m)
}

// Create 创建设备
// POST /api/v1/machines
func (h *MachineHandler) Create(c *gin.Context) {
	var req service.CreateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	m, err := h.svc.CreateMachine(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Created(c, m)
}

// Update 更新设备
// PUT /api/v1/machines/:id
func (h *MachineHandler) Update(c *gin.Context) {
	var req service.UpdateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	m, err := h.svc.UpdateMachine(c.Request.Context(), c.Param("id"), GetUserID(c), &req)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, m)
}
