package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ignite/nurture-engine/internal/domain"
	"github.com/ignite/nurture-engine/internal/pkg/httputil"
	"github.com/ignite/nurture-engine/internal/service/lifecycle"
)

type runNightlyRequest struct {
	Mode      string `json:"mode"`
	ForceFull bool   `json:"force_full"`
	ClientID  *int64 `json:"client_id"`
}

// RunNightly triggers the prospect lifecycle job and returns its report.
// The same code path runs from cmd/nightly on a schedule; this endpoint is
// the operator's manual trigger.
//
//	POST /api/v1/jobs/run-nightly
func (h *Handlers) RunNightly(w http.ResponseWriter, r *http.Request) {
	// An empty body means "incremental run with defaults".
	var req runNightlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	if req.Mode == "" {
		req.Mode = string(domain.JobIncremental)
	}
	mode, err := domain.ParseJobMode(req.Mode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.ForceFull {
		mode = domain.JobFull
	}

	// Detach from the request context: once the batch starts it must run to
	// completion even if the caller disconnects or the router's timeout
	// fires. Half-processed batches are worse than a slow response; the
	// report lands in job_runs either way.
	ctx := context.WithoutCancel(r.Context())

	report, err := h.jobs.Run(ctx, mode, req.ClientID)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrJobRunning):
			httputil.Conflict(w, err.Error())
		case errors.Is(err, lifecycle.ErrClientRequired):
			httputil.BadRequest(w, err.Error())
		default:
			respondSafeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.publishReport(ctx, report)

	httputil.OK(w, report)
}

// publishReport pushes a finished run to the optional report sinks. Sink
// failures are logged, never surfaced: the run itself already succeeded.
func (h *Handlers) publishReport(ctx context.Context, report *domain.RunReport) {
	if h.archiver != nil {
		if err := h.archiver.StoreReport(ctx, report); err != nil {
			log.Printf("[API] archive run %s: %v", report.ID, err)
		}
	}
	if h.notifier != nil {
		if err := h.notifier.SendRunDigest(ctx, report); err != nil {
			log.Printf("[API] digest for run %s: %v", report.ID, err)
		}
	}
}

// ListRuns returns the most recent lifecycle job reports.
//
//	GET /api/v1/jobs/runs?limit=20
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.jobs.Runs(r.Context(), limit)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// SyncWarehouse pulls firmographic company data from the warehouse into
// the visitors table.
//
//	POST /api/v1/jobs/sync-warehouse
func (h *Handlers) SyncWarehouse(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "warehouse sync is not configured")
		return
	}

	updated, err := h.syncer.SyncVisitors(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"visitors_updated": updated,
	})
}
