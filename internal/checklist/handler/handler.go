package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 检查单处理器集合
type Handlers struct {
	Template   *TemplateHandler
	Machine    *MachineHandler
	Run        *RunHandler
	Compliance *ComplianceHandler
	SSE        *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	errs := &errorResponder{logger: logger}
	return &Handlers{
		Template:   NewTemplateHandler(svc.Template, errs),
		Machine:    NewMachineHandler(svc.Machine, errs),
		Run:        NewRunHandler(svc.Run, svc.Photo, errs),
		Compliance: NewComplianceHandler(svc.Compliance, errs),
		SSE:        NewSSEHandler(hub),
	}
}

// RegisterRoutes 注册路由. Writes on templates and machines need the supervisor role.
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup, supervisor gin.HandlerFunc) {
	templates := api.Group("/templates")
	{
		templates.GET("", h.Template.List)
		templates.GET("/:id", h.Template.Get)
		templates.POST("", supervisor, h.Template.Create)
		templates.POST("/import", supervisor, h.Template.Import)
		templates.PUT("/:id", supervisor, h.Template.Update)
		templates.POST("/:id/activate", supervisor, h.Template.Activate)
		templates.POST("/:id/deprecate", supervisor, h.Template.Deprecate)
	}

	machines := api.Group("/machines")
	{
		machines.GET("", h.Machine.List)
		machines.GET("/:id", h.Machine.Get)
		machines.POST("", supervisor, h.Machine.Create)
		machines.PUT("/:id", supervisor, h.Machine.Update)
	}

	runs := api.Group("/runs")
	{
		runs.GET("", h.Run.List)
		runs.POST("", h.Run.Create)
		runs.GET("/:id", h.Run.Get)
		runs.PUT("/:id/answers/:itemId", h.Run.SubmitAnswer)
		runs.GET("/:id/answers/:itemId/photo", h.Run.GetPhoto)
		runs.POST("/:id/complete", h.Run.Complete)
		runs.POST("/:id/abort", h.Run.Abort)
		runs.GET("/:id/activities", h.Run.Activities)
		runs.POST("/:id/photos/presign", h.Run.PresignPhoto)
	}

	api.GET("/compliance", h.Compliance.List)
	api.GET("/compliance/export", h.Compliance.Export)
	api.GET("/sse/events", h.SSE.Stream)
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带附加数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

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

// Paginated 分页列表响应
func Paginated(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// 业务错误码
const (
	CodeValidation        = 40001
	CodeScheduling        = 40002
	CodeInvalidDefinition = 40003
	CodeMachineMismatch   = 40004
	CodeConflict          = 40900
	CodeCompletionBlocked = 40901
	CodeRunClosed         = 40902
	CodeActiveRunExists   = 40903
	CodeTemplateState     = 40904
	CodeStorageDisabled   = 50300
)

// RunClosedMessage is the only detail clients get for an action on a terminated run.
const RunClosedMessage = "this checklist can no longer be edited"

type errorResponder struct {
	logger *zap.Logger
}

// respond translates service and engine errors into the response envelope.
func (r *errorResponder) respond(c *gin.Context, err error) {
	var (
		validation *engine.ValidationError
		blocked    *engine.CompletionBlockedError
		invalid    *engine.InvalidTransitionError
		scheduling *engine.SchedulingError
		exists     *engine.ActiveRunExistsError
	)

	switch {
	case errors.As(err, &validation):
		ErrorWithData(c, CodeValidation, validation.Error(), gin.H{
			"item_id": validation.ItemID,
			"reason":  validation.Reason,
		})
	case errors.As(err, &blocked):
		ErrorWithData(c, CodeCompletionBlocked, "checklist is incomplete", gin.H{
			"unanswered_item_ids":    nonNil(blocked.Unanswered),
			"missing_photo_item_ids": nonNil(blocked.MissingPhoto),
		})
	case errors.As(err, &invalid):
		r.logger.Warn("Checklist integrity violation",
			zap.String("run_id", invalid.RunID),
			zap.String("status", string(invalid.From)),
			zap.String("action", invalid.Action),
			zap.String("user_id", GetUserID(c)),
			zap.String("path", c.Request.URL.Path),
		)
		Error(c, CodeRunClosed, RunClosedMessage)
	case errors.As(err, &exists):
		ErrorWithData(c, CodeActiveRunExists, exists.Error(), gin.H{"run_id": exists.RunID})
	case errors.As(err, &scheduling):
		Error(c, CodeScheduling, scheduling.Error())
	case errors.Is(err, engine.ErrInvalidDefinition), errors.Is(err, service.ErrInvalidMachine):
		Error(c, CodeInvalidDefinition, err.Error())
	case errors.Is(err, engine.ErrMachineMismatch):
		Error(c, CodeMachineMismatch, err.Error())
	case errors.Is(err, engine.ErrTemplateNotActive),
		errors.Is(err, service.ErrTemplateDeprecated),
		errors.Is(err, service.ErrInvalidStatusChange):
		Error(c, CodeTemplateState, err.Error())
	case errors.Is(err, service.ErrTemplateConflict), errors.Is(err, service.ErrMachineCodeExists):
		Error(c, CodeConflict, err.Error())
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrPhotoNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrPhotoStorageDisabled):
		Error(c, CodeStorageDisabled, err.Error())
	default:
		r.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		InternalError(c, "internal error")
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
