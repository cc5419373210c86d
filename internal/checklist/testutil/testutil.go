package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "nimo-inspection-test-secret"

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB opens an isolated in-memory SQLite database with every
// inspection table migrated. It is closed when the test ends.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", strings.ReplaceAll(uuid.New().String(), "-", ""))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// 单连接：内存库随连接存在，且写入天然串行
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(entity.Models()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles []string) string {
	if roles == nil {
		roles = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"perms": []string{},
		"iss":   "nimo-inspection",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a supervisor test user
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Supervisor", "supervisor@test.com", []string{"supervisor"})
}

// OperatorTestToken returns a token for an operator without supervisor rights
func OperatorTestToken() string {
	return GenerateTestToken("test-operator-001", "Test Operator", "operator@test.com", []string{"operator"})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	return DoRawRequest(r, method, path, "application/json", reqBody.Bytes(), token)
}

// DoRawRequest sends a body verbatim with the given content type
func DoRawRequest(r *gin.Engine, method, path, contentType string, body []byte, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedMachine creates an active machine
func SeedMachine(t *testing.T, db *gorm.DB, id, code string) *entity.Machine {
	t.Helper()
	m := &entity.Machine{
		ID:        id,
		Code:      code,
		Name:      "Machine " + code,
		Status:    entity.MachineStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed machine: %v", err)
	}
	return m
}

// SeedTemplate stores a template as given; status and frequency are not validated.
func SeedTemplate(t *testing.T, db *gorm.DB, id string, status engine.TemplateStatus, machineID, frequency *string, def engine.Definition) *entity.Template {
	t.Helper()
	now := time.Now()
	tpl := &entity.Template{
		ID:             id,
		Name:           "Template " + id,
		Type:           engine.TemplateTypePreRun,
		Status:         status,
		Version:        1,
		MachineID:      machineID,
		Frequency:      frequency,
		Definition:     datatypes.NewJSONType(def),
		RetiredItemIDs: datatypes.JSONSlice[string]{},
		CreatedBy:      "test-user-001",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == engine.TemplateStatusActive {
		tpl.ActivatedAt = &now
	}
	if err := db.Create(tpl).Error; err != nil {
		t.Fatalf("Failed to seed template: %v", err)
	}
	return tpl
}

// SampleDefinition has two sections and five items: c1 is critical and
// p1 requires a photo.
func SampleDefinition() engine.Definition {
	lo, hi := 2.0, 8.0
	return engine.Definition{Sections: []engine.Section{
		{ID: "s1", Title: "Safety", Items: []engine.Item{
			{ID: "c1", Label: "Emergency stop works", Type: engine.ItemTypeYesNo, Required: true, Critical: true},
			{ID: "p1", Label: "Guard fitted", Type: engine.ItemTypeYesNo, Required: true, PhotoRequired: true},
			{ID: "n1", Label: "Hydraulic pressure", Type: engine.ItemTypeNumeric, Required: true, MinValue: &lo, MaxValue: &hi, Unit: "bar"},
		}},
		{ID: "s2", Title: "Housekeeping", Items: []engine.Item{
			{ID: "y1", Label: "Area clean", Type: engine.ItemTypeYesNo, Required: true},
			{ID: "t1", Label: "Notes", Type: engine.ItemTypeText},
		}},
	}}
}

// StrPtr returns a pointer to s
func StrPtr(s string) *string {
	return &s
}

// FakeObjectStore is an in-memory storage.ObjectStore.
type FakeObjectStore struct {
	mu      sync.Mutex
	Objects map[string]bool
	Err     error
}

func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{Objects: make(map[string]bool)}
}

func (f *FakeObjectStore) PresignPut(_ context.Context, key string, expiry time.Duration) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return fmt.Sprintf("https://objects.test/evidence/%s?op=put&expires=%d", key, int(expiry.Seconds())), nil
}

func (f *FakeObjectStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return fmt.Sprintf("https://objects.test/evidence/%s?op=get&expires=%d", key, int(expiry.Seconds())), nil
}

func (f *FakeObjectStore) Exists(_ context.Context, key string) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Objects[key], nil
}

// Put marks key as uploaded
func (f *FakeObjectStore) Put(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[key] = true
}
