package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/testutil"
	"github.com/bitfantasy/nimo-inspection/internal/middleware"
)

func setupHandlerEnv(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svc := service.NewServices(repository.NewRepositories(db), nil, service.Options{})
	svc.SetObjectStore(testutil.NewFakeObjectStore())

	r := testutil.SetupRouter()
	api := testutil.AuthGroup(r, "/api/v1")
	NewHandlers(svc, sse.NewHub(nil), nil).RegisterRoutes(api, middleware.RequireRole("supervisor"))

	return &testutil.TestEnv{DB: db, Router: r, T: t}
}

func dataMap(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return data
}

func startRun(t *testing.T, env *testutil.TestEnv) string {
	t.Helper()
	testutil.SeedMachine(t, env.DB, "m1", "PR-01")
	testutil.SeedTemplate(t, env.DB, "t1", engine.TemplateStatusActive, testutil.StrPtr("m1"), testutil.StrPtr("weekly"), testutil.SampleDefinition())

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/runs", map[string]string{
		"template_id": "t1",
		"machine_id":  "m1",
	}, testutil.OperatorTestToken())
	if w.Code != http.StatusCreated {
		t.Fatalf("create run: %d %s", w.Code, w.Body.String())
	}
	return dataMap(t, testutil.ParseResponse(w))["id"].(string)
}

func submit(t *testing.T, env *testutil.TestEnv, runID, itemID string, body map[string]interface{}) {
	t.Helper()
	w := testutil.DoRequest(env.Router, "PUT", "/api/v1/runs/"+runID+"/answers/"+itemID, body, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("answer %s: %d %s", itemID, w.Code, w.Body.String())
	}
}

func TestRequiresAuthentication(t *testing.T) {
	env := setupHandlerEnv(t)
	w := testutil.DoRequest(env.Router, "GET", "/api/v1/templates", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestTemplateWritesRequireSupervisor(t *testing.T) {
	env := setupHandlerEnv(t)
	body := map[string]interface{}{
		"name":       "Press pre-run",
		"type":       "pre_run",
		"definition": testutil.SampleDefinition(),
	}

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/templates", body, testutil.OperatorTestToken())
	if w.Code != http.StatusForbidden {
		t.Fatalf("operator create: expected 403, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/templates", body, testutil.DefaultTestToken())
	if w.Code != http.StatusCreated {
		t.Fatalf("supervisor create: %d %s", w.Code, w.Body.String())
	}
	tpl := dataMap(t, testutil.ParseResponse(w))
	if tpl["status"] != "draft" {
		t.Errorf("status = %v", tpl["status"])
	}

	// 读取不需要主管权限
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/templates?status=draft", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	list := dataMap(t, testutil.ParseResponse(w))
	if items := list["items"].([]interface{}); len(items) != 1 {
		t.Errorf("items = %v", items)
	}
}

func TestCreateTemplateInvalidDefinition(t *testing.T) {
	env := setupHandlerEnv(t)
	w := testutil.DoRequest(env.Router, "POST", "/api/v1/templates", map[string]interface{}{
		"name": "Broken",
		"type": "pre_run",
		"definition": map[string]interface{}{"sections": []interface{}{
			map[string]interface{}{"id": "s1", "title": "Safety", "items": []interface{}{
				map[string]interface{}{"id": "x", "label": "Dial", "type": "slider"},
			}},
		}},
	}, testutil.DefaultTestToken())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if code := testutil.ParseResponse(w)["code"]; code != float64(CodeInvalidDefinition) {
		t.Errorf("code = %v", code)
	}
}

func TestImportTemplates(t *testing.T) {
	env := setupHandlerEnv(t)
	testutil.SeedMachine(t, env.DB, "fl1", "FL-01")

	doc := []byte(`
templates:
  - name: Forklift daily
    type: pre_run
    frequency: daily
    machine_code: FL-01
    activate: true
    sections:
      - id: s1
        title: Safety
        items:
          - {id: brakes, question: "Brakes OK?", type: yes_no, required: true, critical: true}
`)
	w := testutil.DoRawRequest(env.Router, "POST", "/api/v1/templates/import", "application/x-yaml", doc, testutil.DefaultTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	result := dataMap(t, testutil.ParseResponse(w))
	if result["created"] != float64(1) {
		t.Errorf("result = %v", result)
	}

	w = testutil.DoRawRequest(env.Router, "POST", "/api/v1/templates/import", "application/x-yaml", doc, testutil.DefaultTestToken())
	if result := dataMap(t, testutil.ParseResponse(w)); result["unchanged"] != float64(1) {
		t.Errorf("second import = %v", result)
	}

	w = testutil.DoRawRequest(env.Router, "POST", "/api/v1/templates/import", "application/x-yaml", nil, testutil.DefaultTestToken())
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", w.Code)
	}
}

func TestCompleteBlockedReportsItems(t *testing.T) {
	env := setupHandlerEnv(t)
	runID := startRun(t, env)

	submit(t, env, runID, "c1", map[string]interface{}{"value": true})
	submit(t, env, runID, "p1", map[string]interface{}{"value": true})
	submit(t, env, runID, "n1", map[string]interface{}{"value": 5})

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/runs/"+runID+"/complete", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"] != float64(CodeCompletionBlocked) {
		t.Errorf("code = %v", resp["code"])
	}
	data := dataMap(t, resp)
	if got := data["unanswered_item_ids"].([]interface{}); len(got) != 2 || got[0] != "y1" || got[1] != "t1" {
		t.Errorf("unanswered = %v", got)
	}
	if got := data["missing_photo_item_ids"].([]interface{}); len(got) != 1 || got[0] != "p1" {
		t.Errorf("missing photos = %v", got)
	}
}

func TestClosedRunRejectsEdits(t *testing.T) {
	env := setupHandlerEnv(t)
	runID := startRun(t, env)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/runs/"+runID+"/abort", map[string]string{"reason": "shift ended"}, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("abort: %d %s", w.Code, w.Body.String())
	}
	if run := dataMap(t, testutil.ParseResponse(w)); run["status"] != "aborted" {
		t.Fatalf("run = %v", run)
	}

	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/runs/"+runID+"/answers/c1", map[string]interface{}{"value": true}, testutil.OperatorTestToken())
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	resp := testutil.ParseResponse(w)
	if resp["code"] != float64(CodeRunClosed) || resp["message"] != RunClosedMessage {
		t.Errorf("resp = %v", resp)
	}
	if strings.Contains(w.Body.String(), "aborted") {
		t.Errorf("closed-run response leaks state: %s", w.Body.String())
	}

	// 中止请求体可选
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/runs/"+runID+"/abort", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusConflict {
		t.Errorf("abort twice: expected 409, got %d", w.Code)
	}
}

func TestSubmitAnswerValidationError(t *testing.T) {
	env := setupHandlerEnv(t)
	runID := startRun(t, env)

	w := testutil.DoRequest(env.Router, "PUT", "/api/v1/runs/"+runID+"/answers/n1", map[string]interface{}{"value": "high"}, testutil.OperatorTestToken())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	resp := testutil.ParseResponse(w)
	if resp["code"] != float64(CodeValidation) || dataMap(t, resp)["item_id"] != "n1" {
		t.Errorf("resp = %v", resp)
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/runs/missing", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run: expected 404, got %d", w.Code)
	}
}

func TestRunDetailAndActivities(t *testing.T) {
	env := setupHandlerEnv(t)
	runID := startRun(t, env)
	submit(t, env, runID, "y1", map[string]interface{}{"value": false, "comment": "oil on floor"})

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/runs/"+runID, nil, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	detail := dataMap(t, testutil.ParseResponse(w))
	progress := detail["progress"].(map[string]interface{})
	if progress["answered"] != float64(1) || progress["failed"] != float64(1) || progress["total"] != float64(5) {
		t.Errorf("progress = %v", progress)
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/runs/"+runID+"/activities", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("activities: %d", w.Code)
	}
	items := dataMap(t, testutil.ParseResponse(w))["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["action"] != "create" {
		t.Errorf("activities = %v", items)
	}
}

func TestPresignPhoto(t *testing.T) {
	env := setupHandlerEnv(t)
	runID := startRun(t, env)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/runs/"+runID+"/photos/presign", map[string]string{
		"item_id":  "p1",
		"filename": "guard.JPEG",
	}, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("presign: %d %s", w.Code, w.Body.String())
	}
	upload := dataMap(t, testutil.ParseResponse(w))
	key, _ := upload["photo_url"].(string)
	if !strings.HasPrefix(key, "runs/"+runID+"/p1/") || !strings.HasSuffix(key, ".jpg") {
		t.Errorf("photo_url = %q", key)
	}
	if u, _ := upload["upload_url"].(string); !strings.Contains(u, "op=put") {
		t.Errorf("upload_url = %q", u)
	}
}

func TestComplianceListAndExport(t *testing.T) {
	env := setupHandlerEnv(t)
	runID := startRun(t, env)

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/compliance", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("compliance: %d %s", w.Code, w.Body.String())
	}
	items := dataMap(t, testutil.ParseResponse(w))["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("items = %v", items)
	}
	entry := items[0].(map[string]interface{})
	if entry["status"] != "in_progress" || entry["current_run_id"] != runID {
		t.Errorf("entry = %v", entry)
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/compliance?from=2024-13-01", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad from: expected 400, got %d", w.Code)
	}
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/compliance?from=2024-03-10&to=2024-03-01", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted window: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/compliance/export", nil, testutil.OperatorTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Compliance_") {
		t.Errorf("content disposition = %q", cd)
	}
	// xlsx 是 zip 包
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Errorf("export body is not an xlsx archive")
	}
}

func TestParseQueryTime(t *testing.T) {
	tm, dateOnly, err := parseQueryTime("2024-03-01")
	if err != nil || !dateOnly || tm.Day() != 1 {
		t.Errorf("date: %v %v %v", tm, dateOnly, err)
	}
	tm, dateOnly, err = parseQueryTime("2024-03-01T10:00:00Z")
	if err != nil || dateOnly || tm.Hour() != 10 {
		t.Errorf("rfc3339: %v %v %v", tm, dateOnly, err)
	}
	if _, _, err := parseQueryTime("yesterday"); err == nil {
		t.Error("expected error")
	}
}
