package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/events"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/storage"
	"go.uber.org/zap"
)

// Options 服务配置
type Options struct {
	DueSoonDays     int
	SingleActiveRun bool
	PhotoURLExpiry  time.Duration
}

// Services 服务集合
type Services struct {
	Template   *TemplateService
	Run        *RunService
	Machine    *MachineService
	Compliance *ComplianceService
	Photo      *PhotoService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, logger *zap.Logger, opts Options) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}

	templateSvc := NewTemplateService(repos.Template, repos.Machine, logger)
	templateSvc.SetActivityLogRepo(repos.ActivityLog)

	runSvc := NewRunService(repos.Run, repos.Template, repos.Machine, logger, opts.SingleActiveRun)
	runSvc.SetActivityLogRepo(repos.ActivityLog)

	machineSvc := NewMachineService(repos.Machine, logger)
	machineSvc.SetActivityLogRepo(repos.ActivityLog)

	return &Services{
		Template:   templateSvc,
		Run:        runSvc,
		Machine:    machineSvc,
		Compliance: NewComplianceService(repos.Run, repos.Template, repos.Machine, logger, opts.DueSoonDays),
		Photo:      NewPhotoService(repos.Run, opts.PhotoURLExpiry),
	}
}

// SetPublisher 注入事件发布器
func (s *Services) SetPublisher(p events.Publisher) {
	s.Template.SetPublisher(p)
	s.Run.SetPublisher(p)
}

// SetClock overrides the time source of every service.
func (s *Services) SetClock(now func() time.Time) {
	s.Template.SetClock(now)
	s.Run.SetClock(now)
	s.Machine.SetClock(now)
	s.Compliance.SetClock(now)
	s.Photo.SetClock(now)
}

// SetObjectStore 注入对象存储
func (s *Services) SetObjectStore(store storage.ObjectStore) {
	s.Photo.SetObjectStore(store)
}

// base carries the collaborators shared by the write-side services.
type base struct {
	logger          *zap.Logger
	now             func() time.Time
	publisher       events.Publisher
	activityLogRepo *repository.ActivityLogRepository
}

func newBase(logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (b *base) SetClock(now func() time.Time) {
	b.now = now
}

// SetPublisher 注入事件发布器
func (b *base) SetPublisher(p events.Publisher) {
	b.publisher = p
}

// SetActivityLogRepo 注入操作日志仓库
func (b *base) SetActivityLogRepo(repo *repository.ActivityLogRepository) {
	b.activityLogRepo = repo
}

func (b *base) publish(ctx context.Context, e events.Event) {
	if b.publisher == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.now()
	}
	b.publisher.Publish(ctx, e)
}

// logActivity records a transition after commit. A failure here never undoes the
// transition, so it is only logged.
func (b *base) logActivity(ctx context.Context, entityType, entityID, action, from, to, content, operatorID string) {
	if b.activityLogRepo == nil {
		return
	}
	if err := b.activityLogRepo.LogActivity(ctx, entityType, entityID, action, from, to, content, operatorID, ""); err != nil {
		b.logger.Warn("Failed to write activity log",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
