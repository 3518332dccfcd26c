package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ugc-platform/internal/ai"
	"github.com/suPer8Hu/ugc-platform/internal/auth"
	"github.com/suPer8Hu/ugc-platform/internal/config"
	"github.com/suPer8Hu/ugc-platform/internal/generation"
	"github.com/suPer8Hu/ugc-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
	"github.com/suPer8Hu/ugc-platform/internal/storage"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type promptGenerator struct {
	name string
	fail map[string]error
}

func (g *promptGenerator) Name() string { return g.name }

func (g *promptGenerator) Generate(_ context.Context, req ai.Request) (*ai.Artifact, error) {
	for needle, err := range g.fail {
		if strings.Contains(req.Prompt, needle) {
			return nil, err
		}
	}
	return &ai.Artifact{Data: []byte("png"), MIMEType: "image/png"}, nil
}

type apiEnv struct {
	router *gin.Engine
	token  string
	ref    string
}

func newAPIEnv(t *testing.T, fail map[string]error) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(generation.Models()...))

	hash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	cfg := config.Config{JWTSecret: "test-secret", AdminPasswordHash: hash, CORSOrigins: []string{"*"}}

	store := storage.NewMemoryStorage("")
	ref, err := store.Put(context.Background(), "refs/a.jpg", []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	require.NoError(t, err)

	quota := ai.NewMemoryQuotaStore(time.Hour)
	images := ai.NewFallbackClient(quota, []ai.Generator{&promptGenerator{name: "fake:image", fail: fail}})

	repo := generation.NewRepo(db)
	planners := generation.NewPlannerRegistry(generation.DefaultPlanners(nil)...)
	exec := generation.NewExecutor(repo, store, map[generation.Kind]generation.ArtifactGenerator{
		generation.KindImage: images,
	}, planners, nil)

	h := &handlers.Handler{
		Cfg:          cfg,
		Log:          logger.Nop(),
		Repo:         repo,
		Orchestrator: generation.NewOrchestrator(repo, planners, generation.ClientDispatcher{}, 0, nil),
		Executor:     exec,
		Quota:        map[string]handlers.QuotaReporter{"image": images},
	}
	token, err := auth.SignAdminJWT(cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	return &apiEnv{router: NewRouter(h), token: token, ref: ref}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestLogin(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.token = ""

	w, out := env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "admin-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out["token"])

	w, out = env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid password", out["error"])
}

func TestGenerationRequiresAuth(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.token = ""

	w, out := env.do(t, http.MethodGet, "/api/admin/generation/status?job_id=x", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, out["error"])
}

func TestGenerationFlow(t *testing.T) {
	env := newAPIEnv(t, map[string]error{"cafe": errors.New("upstream 500")})

	w, out := env.do(t, http.MethodPost, "/api/admin/generation/start", map[string]any{
		"job_type": "scene_photos",
		"params":   map[string]any{"reference_image_url": env.ref, "scenes": []string{"beach", "cafe"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	jobID, _ := out["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "pending", out["status"])
	assert.EqualValues(t, 2, out["total_count"])
	assert.Len(t, out["units"], 2)

	w, out = env.do(t, http.MethodPost, "/api/admin/generation/execute-unit", map[string]any{"job_id": jobID, "unit_index": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "generating", out["job_status"])
	assert.EqualValues(t, 1, out["completed_count"])

	w, out = env.do(t, http.MethodPost, "/api/admin/generation/execute-unit", map[string]any{"job_id": jobID, "unit_index": 1})
	require.Equal(t, http.StatusOK, w.Code)
	unit := out["unit"].(map[string]any)
	assert.Equal(t, "failed", unit["status"])
	assert.Contains(t, unit["error"], "upstream 500")

	w, out = env.do(t, http.MethodGet, "/api/admin/generation/status?job_id="+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", out["status"])
	assert.EqualValues(t, 2, out["completed_count"])
	assert.EqualValues(t, 1, out["succeeded_count"])

	w, _ = env.do(t, http.MethodGet, "/api/admin/generation/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerationErrors(t *testing.T) {
	env := newAPIEnv(t, nil)

	w, out := env.do(t, http.MethodPost, "/api/admin/generation/start", map[string]any{
		"job_type": "gender_conversion",
		"params":   map[string]any{"target_gender": "male", "items": []any{}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "items")

	w, _ = env.do(t, http.MethodPost, "/api/admin/generation/start", map[string]any{"job_type": "nope", "params": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/admin/generation/status?job_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/admin/generation/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/admin/generation/execute-unit", map[string]any{"job_id": "missing", "unit_index": 0})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/admin/generation/execute-unit", map[string]any{"job_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteUnitQuotaExhaustedIs429(t *testing.T) {
	env := newAPIEnv(t, map[string]error{"beach": &ai.RateLimitError{Provider: "fake:image", StatusCode: 429}})

	_, out := env.do(t, http.MethodPost, "/api/admin/generation/start", map[string]any{
		"job_type": "scene_photos",
		"params":   map[string]any{"reference_image_url": env.ref, "scenes": []string{"beach"}},
	})
	jobID := out["job_id"].(string)

	w, out := env.do(t, http.MethodPost, "/api/admin/generation/execute-unit", map[string]any{"job_id": jobID, "unit_index": 0})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, out["error"], "all providers failed")

	w, out = env.do(t, http.MethodGet, "/api/admin/generation/quota", nil)
	require.Equal(t, http.StatusOK, w.Code)
	image := out["image"].([]any)
	require.Len(t, image, 1)
	assert.Equal(t, true, image[0].(map[string]any)["exhausted"])
}

func TestNoRoute(t *testing.T) {
	env := newAPIEnv(t, nil)
	w, out := env.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route not found", out["error"])
}
