package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskfleet/internal/lease"
)

func seedStore(t *testing.T) lease.Store {
	t.Helper()
	st := lease.NewMemory(0)
	ctx := context.Background()

	if err := st.EnsureRow(ctx, "send-digest", true); err != nil {
		t.Fatalf("EnsureRow: %v", err)
	}
	if err := st.Release(ctx, "send-digest", "sent:42", time.Now()); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := st.EnsureRow(ctx, "rebuild-index", true); err != nil {
		t.Fatalf("EnsureRow: %v", err)
	}
	if ok, err := st.TryClaim(ctx, "rebuild-index", time.Now()); err != nil || !ok {
		t.Fatalf("TryClaim = (%v, %v)", ok, err)
	}
	return st
}

func newTestRouter(t *testing.T) (http.Handler, lease.Store) {
	t.Helper()
	st := seedStore(t)
	return NewRouter(NewService(st), HTTPConfig{}), st
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var reports []TaskReport
	if err := json.NewDecoder(rec.Body).Decode(&reports); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	// Store lists by id: rebuild-index, send-digest.
	if reports[0].ID != "rebuild-index" || !reports[0].IsRunning {
		t.Fatalf("rebuild-index report: %+v", reports[0])
	}
	if reports[1].ID != "send-digest" || reports[1].IsRunning {
		t.Fatalf("send-digest report: %+v", reports[1])
	}
	if reports[1].LastResult != "sent:42" || reports[1].LastExecutedAt == nil {
		t.Fatalf("send-digest outcome not projected: %+v", reports[1])
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/send-digest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rep TaskReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.ID != "send-digest" || rep.IsRunning || rep.LastResult != "sent:42" || !rep.Enabled {
		t.Fatalf("report: %+v", rep)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()
	router, st := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/tasks/send-digest/enabled",
		strings.NewReader(`{"enabled": false}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rep TaskReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Enabled {
		t.Fatal("report still shows enabled")
	}

	// A suppressed task must not be claimable.
	ok, err := st.TryClaim(context.Background(), "send-digest", time.Now())
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if ok {
		t.Fatal("claimed a task disabled through the API")
	}
}

func TestSetEnabledBadBody(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/tasks/send-digest/enabled",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
