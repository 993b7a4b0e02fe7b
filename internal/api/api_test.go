package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/starford/railguard/internal/closure"
	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/pipeline"
)

// testEnv sets up a temp SQLite ledger and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string, trigger RunFunc) (*ledger.DB, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, trigger, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, trigger RunFunc, sseHandler http.Handler) (*ledger.DB, http.Handler) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "railguard-api-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, NewRouter(db, trigger, authEnabled, authToken, sseHandler)
}

func seed(t *testing.T, db *ledger.DB, id string, started time.Time) {
	t.Helper()
	err := db.RecordRun(context.Background(), &pipeline.Result{
		RunID:      id,
		Root:       "/srv/shop",
		Status:     pipeline.StatusCompleted,
		Classes:    &closure.Set{Names: []string{"User"}, Identities: []string{"user.rb"}, Passes: 2},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestListRuns(t *testing.T) {
	db, router := testEnv(t, "", nil)
	now := time.Now()
	seed(t, db, "first", now)
	seed(t, db, "second", now.Add(time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RunListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Runs) != 1 || resp.Runs[0].ID != "second" {
		t.Errorf("response = %+v", resp)
	}
}

func TestListRuns_BadPage(t *testing.T) {
	_, router := testEnv(t, "", nil)

	for _, q := range []string{"limit=abc", "offset=-1"} {
		req := httptest.NewRequest(http.MethodGet, "/runs?"+q, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestGetRun(t *testing.T) {
	db, router := testEnv(t, "", nil)
	seed(t, db, "r1", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/runs/r1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var run RunDetail
	_ = json.Unmarshal(w.Body.Bytes(), &run)
	if run.ID != "r1" || len(run.ClassList) != 1 || run.ClassList[0].Name != "User" {
		t.Errorf("run = %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	_, router := testEnv(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/runs/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run = %d, want 404", w.Code)
	}
}

func TestTriggerRun(t *testing.T) {
	_, router := testEnv(t, "", func(context.Context) (*pipeline.Result, error) {
		return &pipeline.Result{RunID: "new", Status: pipeline.StatusCompleted}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res RunResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.RunID != "new" {
		t.Errorf("result = %+v", res)
	}
}

func TestTriggerRun_Failed(t *testing.T) {
	_, router := testEnv(t, "", func(context.Context) (*pipeline.Result, error) {
		return &pipeline.Result{RunID: "bad", Status: pipeline.StatusFailed, Error: "parse failed"}, fmt.Errorf("parse failed")
	})

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestTriggerRun_NotMounted(t *testing.T) {
	_, router := testEnv(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	_, router := testEnv(t, "secret123", func(context.Context) (*pipeline.Result, error) {
		return &pipeline.Result{RunID: "x"}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/runs?access_token=secret123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("query token GET = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/runs?access_token=secret123", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token POST = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// Minimal SSE handler stub: writes headers and blocks until context done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvFull(t, true, "secret", nil, sseStub)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvFull(t, true, "tok", nil, sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
