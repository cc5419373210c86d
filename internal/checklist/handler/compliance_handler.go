package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/gin-gonic/gin"
)

// ComplianceHandler 合规看板处理器
type ComplianceHandler struct {
	svc  *service.ComplianceService
	errs *errorResponder
}

func NewComplianceHandler(svc *service.ComplianceService, errs *errorResponder) *ComplianceHandler {
	return &ComplianceHandler{svc: svc, errs: errs}
}

// List 合规看板
// GET /api/v1/compliance?from=2024-03-01&to=2024-03-31&machine_id=xxx&template_id=xxx&include_unscheduled=true
func (h *ComplianceHandler) List(c *gin.Context) {
	q, err := parseComplianceQuery(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	entries, err := h.svc.ListCompliance(c.Request.Context(), q)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	Success(c, gin.H{"items": entries})
}

// Export 导出合规看板
// GET /api/v1/compliance/export
func (h *ComplianceHandler) Export(c *gin.Context) {
	q, err := parseComplianceQuery(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	f, filename, err := h.svc.ExportCompliance(c.Request.Context(), q)
	if err != nil {
		h.errs.respond(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}

func parseComplianceQuery(c *gin.Context) (service.ComplianceQuery, error) {
	q := service.ComplianceQuery{
		MachineID:  c.Query("machine_id"),
		TemplateID: c.Query("template_id"),
	}

	if v := c.Query("from"); v != "" {
		from, _, err := parseQueryTime(v)
		if err != nil {
			return q, fmt.Errorf("invalid from: %s", v)
		}
		q.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, dateOnly, err := parseQueryTime(v)
		if err != nil {
			return q, fmt.Errorf("invalid to: %s", v)
		}
		// 纯日期包含当天
		if dateOnly {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		q.To = &to
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return q, fmt.Errorf("to must not be before from")
	}

	if v := c.Query("include_unscheduled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("invalid include_unscheduled: %s", v)
		}
		q.IncludeUnscheduled = b
	}
	return q, nil
}

func parseQueryTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
