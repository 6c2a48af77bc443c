package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/heartbeat"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
	"github.com/kimhsiao/attendsync/internal/sync/scheduler"
)

type fakeSyncer struct {
	result    *syncpkg.Result
	syncErr   error
	status    scheduler.SchedulerStatus
	statusErr error
	calls     int
}

func (f *fakeSyncer) SyncNow(context.Context) (*syncpkg.Result, error) {
	f.calls++
	return f.result, f.syncErr
}

func (f *fakeSyncer) GetStatus(context.Context) (scheduler.SchedulerStatus, error) {
	return f.status, f.statusErr
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestSyncHandler_GetStatus(t *testing.T) {
	last := time.UnixMilli(1_700_000_000_000)
	syncer := &fakeSyncer{status: scheduler.SchedulerStatus{
		IsRunning:    true,
		IsOnline:     true,
		LastSyncTime: &last,
		PendingItems: 4,
		LastResult:   &syncpkg.Result{Success: true, Processed: 2, Duration: 1500 * time.Millisecond},
	}}
	router := NewRouter(RouterConfig{Sync: NewSyncHandler(syncer)})

	rec := do(t, router, http.MethodGet, "/api/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Online)
	assert.True(t, resp.Running)
	assert.Equal(t, 4, resp.PendingChanges)
	require.NotNil(t, resp.LastSync)
	assert.Equal(t, int64(1_700_000_000_000), *resp.LastSync)
	assert.Nil(t, resp.LastRun)
	require.NotNil(t, resp.LastResult)
	assert.Equal(t, 2, resp.LastResult.Processed)
	assert.Equal(t, int64(1500), resp.LastResult.DurationMS)
}

func TestSyncHandler_GetStatus_error(t *testing.T) {
	syncer := &fakeSyncer{statusErr: apperrors.New(apperrors.ErrDatabase, "closed")}
	router := NewRouter(RouterConfig{Sync: NewSyncHandler(syncer)})

	rec := do(t, router, http.MethodGet, "/api/sync/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DATABASE_ERROR", resp.Code)
}

func TestSyncHandler_SyncNow(t *testing.T) {
	syncer := &fakeSyncer{result: &syncpkg.Result{Success: true, Processed: 3, Pulled: 7, StartedAt: 42}}
	router := NewRouter(RouterConfig{Sync: NewSyncHandler(syncer)})

	rec := do(t, router, http.MethodPost, "/api/sync/now")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.calls)

	var resp ResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 7, resp.Pulled)
	assert.Equal(t, int64(42), resp.StartedAt)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, router, http.MethodGet, "/api/sync/now").Code)
}

func TestSyncHandler_SyncNow_errors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.ErrSyncInProgress, "busy"), http.StatusConflict},
		{apperrors.New(apperrors.ErrOffline, "cannot sync while offline"), http.StatusServiceUnavailable},
		{apperrors.Wrap(apperrors.ErrSyncFailed, "pull failed", context.DeadlineExceeded), http.StatusBadGateway},
		{apperrors.New(apperrors.ErrSyncTimeout, "sync interrupted"), http.StatusGatewayTimeout},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		syncer := &fakeSyncer{syncErr: tt.err, result: &syncpkg.Result{Errors: []string{"pull: boom"}}}
		router := NewRouter(RouterConfig{Sync: NewSyncHandler(syncer)})

		rec := do(t, router, http.MethodPost, "/api/sync/now")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(apperrors.CodeOf(tt.err)), resp.Code)
	}
}

func TestNewRouter_mounts(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	router := NewRouter(RouterConfig{
		Heartbeat: heartbeat.NewHandler(heartbeat.Config{}),
		Metrics:   metrics,
		Timeout:   time.Second,
	})

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodHead, heartbeat.Path).Code)
	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodGet, heartbeat.ReadyPath).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/sync/status").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/ws").Code)
}
