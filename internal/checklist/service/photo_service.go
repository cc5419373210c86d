package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/storage"
	"github.com/google/uuid"
)

var (
	// ErrPhotoStorageDisabled 未配置对象存储
	ErrPhotoStorageDisabled = errors.New("photo storage is not configured")
	ErrPhotoNotFound        = errors.New("photo not found")
)

var allowedPhotoExts = map[string]string{
	".jpg":  ".jpg",
	".jpeg": ".jpg",
	".png":  ".png",
	".webp": ".webp",
	".heic": ".heic",
}

// PhotoService 照片证据服务. Uploads go straight from the client to the
// bucket; the answer only stores the object key.
type PhotoService struct {
	runRepo *repository.RunRepository
	store   storage.ObjectStore
	expiry  time.Duration
	now     func() time.Time
}

func NewPhotoService(runRepo *repository.RunRepository, expiry time.Duration) *PhotoService {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &PhotoService{runRepo: runRepo, expiry: expiry, now: time.Now}
}

// SetObjectStore 注入对象存储
func (s *PhotoService) SetObjectStore(store storage.ObjectStore) {
	s.store = store
}

// SetClock overrides the time source.
func (s *PhotoService) SetClock(now func() time.Time) {
	s.now = now
}

// PresignRequest 上传签名请求
type PresignRequest struct {
	ItemID   string `json:"item_id" binding:"required"`
	Filename string `json:"filename" binding:"required"`
}

// PhotoUpload 上传签名结果
type PhotoUpload struct {
	UploadURL string    `json:"upload_url"`
	PhotoURL  string    `json:"photo_url"` // 提交答案时回传
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignUpload 生成照片上传地址
func (s *PhotoService) PresignUpload(ctx context.Context, runID string, req *PresignRequest) (*PhotoUpload, error) {
	if s.store == nil {
		return nil, ErrPhotoStorageDisabled
	}
	run, err := s.runRepo.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := engine.CanMutate(run.ID, run.Status, engine.ActionAnswer); err != nil {
		return nil, err
	}
	if run.Template == nil {
		return nil, fmt.Errorf("template %s: %w", run.TemplateID, repository.ErrNotFound)
	}
	if _, ok := run.Template.Def().Item(req.ItemID); !ok {
		return nil, &engine.ValidationError{ItemID: req.ItemID, Reason: "item does not belong to this checklist"}
	}

	ext, ok := allowedPhotoExts[strings.ToLower(path.Ext(req.Filename))]
	if !ok {
		return nil, &engine.ValidationError{ItemID: req.ItemID, Reason: "unsupported photo format"}
	}

	key := fmt.Sprintf("runs/%s/%s/%s%s", run.ID, req.ItemID, uuid.New().String(), ext)
	url, err := s.store.PresignPut(ctx, key, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return &PhotoUpload{
		UploadURL: url,
		PhotoURL:  key,
		ExpiresAt: s.now().Add(s.expiry),
	}, nil
}

// PhotoLink 照片访问地址
type PhotoLink struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GetPhotoURL 获取答案照片的访问地址. External references are returned as-is.
func (s *PhotoService) GetPhotoURL(ctx context.Context, runID, itemID string) (*PhotoLink, error) {
	answer, err := s.runRepo.FindAnswer(ctx, runID, itemID)
	if err != nil {
		return nil, err
	}
	if !engine.HasPhoto(answer.PhotoURL) {
		return nil, ErrPhotoNotFound
	}
	ref := *answer.PhotoURL
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return &PhotoLink{URL: ref}, nil
	}
	if s.store == nil {
		return nil, ErrPhotoStorageDisabled
	}

	exists, err := s.store.Exists(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("stat photo: %w", err)
	}
	if !exists {
		return nil, ErrPhotoNotFound
	}
	url, err := s.store.PresignGet(ctx, ref, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	expiresAt := s.now().Add(s.expiry)
	return &PhotoLink{URL: url, ExpiresAt: &expiresAt}, nil
}
