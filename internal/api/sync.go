package api

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/logging"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
	"github.com/kimhsiao/attendsync/internal/sync/scheduler"
)

// Syncer runs manual syncs and reports sync status.
type Syncer interface {
	SyncNow(ctx context.Context) (*syncpkg.Result, error)
	GetStatus(ctx context.Context) (scheduler.SchedulerStatus, error)
}

// SyncHandler handles sync status and trigger requests.
type SyncHandler struct {
	syncer Syncer
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// ResultResponse is the JSON form of a sync result.
type ResultResponse struct {
	Success    bool     `json:"success"`
	Processed  int      `json:"processed"`
	Pulled     int      `json:"pulled"`
	Conflicts  int      `json:"conflicts"`
	Aborted    bool     `json:"aborted,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	StartedAt  int64    `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`
}

func resultResponse(res *syncpkg.Result) *ResultResponse {
	if res == nil {
		return nil
	}
	return &ResultResponse{
		Success:    res.Success,
		Processed:  res.Processed,
		Pulled:     res.Pulled,
		Conflicts:  res.Conflicts,
		Aborted:    res.Aborted,
		Errors:     res.Errors,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
	}
}

// StatusResponse is the body of GET /api/sync/status.
type StatusResponse struct {
	Online         bool            `json:"online"`
	Running        bool            `json:"running"`
	SyncInProgress bool            `json:"sync_in_progress"`
	LastSync       *int64          `json:"last_sync,omitempty"`
	LastRun        *int64          `json:"last_run,omitempty"`
	PendingChanges int             `json:"pending_changes"`
	LastResult     *ResultResponse `json:"last_result,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncer.GetStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := StatusResponse{
		Online:         st.IsOnline,
		Running:        st.IsRunning,
		SyncInProgress: st.SyncInProgress,
		PendingChanges: st.PendingItems,
		LastResult:     resultResponse(st.LastResult),
		LastError:      st.LastError,
	}
	if st.LastSyncTime != nil {
		ms := st.LastSyncTime.UnixMilli()
		resp.LastSync = &ms
	}
	if st.LastRunTime != nil {
		ms := st.LastRunTime.UnixMilli()
		resp.LastRun = &ms
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncNow handles POST /api/sync/now. A failed pull still returns the
// partial result alongside the error.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncer.SyncNow(r.Context())
	if err != nil {
		if res != nil {
			logging.Warn("Manual sync finished with errors", map[string]interface{}{
				"code":   apperrors.CodeOf(err),
				"errors": len(res.Errors),
			})
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

// statusFor maps an error code to an HTTP status.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrOffline, apperrors.ErrRemoteUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrSyncTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrSyncFailed, apperrors.ErrDependencyNotSynced:
		return http.StatusBadGateway
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}
