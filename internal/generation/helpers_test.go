package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ugc-platform/internal/ai"
	"github.com/suPer8Hu/ugc-platform/internal/storage"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

// scriptedGenerator answers per call; calls are counted per prompt.
type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func newScripted() *scriptedGenerator {
	return &scriptedGenerator{fail: map[string]error{}}
}

func (g *scriptedGenerator) failOn(promptContains string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[promptContains] = err
}

func (g *scriptedGenerator) clearFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = map[string]error{}
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGenerator) Generate(_ context.Context, req ai.Request) (*ai.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	for needle, err := range g.fail {
		if strings.Contains(req.Prompt, needle) {
			return nil, err
		}
	}
	return &ai.Artifact{Data: []byte("out:" + req.Prompt), MIMEType: "image/png", Provider: "fake"}, nil
}

type testEnv struct {
	repo  *Repo
	store *storage.MemoryStorage
	gen   *scriptedGenerator
	exec  *Executor
	orch  *Orchestrator
	refs  []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	store := storage.NewMemoryStorage("")
	gen := newScripted()
	planners := NewPlannerRegistry(DefaultPlanners(nil)...)

	exec := NewExecutor(repo, store, map[Kind]ArtifactGenerator{KindImage: gen, KindVideo: gen}, planners, nil)
	orch := NewOrchestrator(repo, planners, ClientDispatcher{}, 0, nil)

	var refs []string
	for i := 0; i < 3; i++ {
		url, err := store.Put(context.Background(), fmt.Sprintf("refs/%d.jpg", i), []byte{0xFF, 0xD8, 0xFF, byte(i)}, "image/jpeg")
		require.NoError(t, err)
		refs = append(refs, url)
	}
	return &testEnv{repo: repo, store: store, gen: gen, exec: exec, orch: orch, refs: refs}
}

// startScenes creates a scene_photos job with one unit per scene.
func (e *testEnv) startScenes(t *testing.T, scenes ...string) *Job {
	t.Helper()
	params, err := json.Marshal(map[string]any{
		"reference_image_url": e.refs[0],
		"scenes":              scenes,
	})
	require.NoError(t, err)
	job, err := e.orch.StartJob(context.Background(), TypeScenePhotos, params)
	require.NoError(t, err)
	return job
}

var errProvider = errors.New("provider exploded")
