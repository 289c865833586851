package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/ad-performance-scorer/internal/export"
	"github.com/AngelCh415/ad-performance-scorer/internal/metrics"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/store"
	"github.com/AngelCh415/ad-performance-scorer/internal/utils"
)

type Runner interface {
	Run(ctx context.Context, since *time.Time) (models.Run, error)
}

type Exporter interface {
	Export(ctx context.Context, run models.Run) (int, error)
}

type Deps struct {
	Runner   Runner
	Reports  *metrics.Service
	Store    *store.MemoryStore
	Exporter Exporter
	// Reload re-reads the benchmark table; nil disables the endpoint.
	Reload func() error
}

type runSummary struct {
	RunID   string            `json:"run_id"`
	Scored  int               `json:"scored"`
	Skipped int               `json:"skipped"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func NewRouter(log *slog.Logger, d Deps) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.Post("/pipeline/run", func(w http.ResponseWriter, r *http.Request) {
		var since *time.Time
		if q := r.URL.Query().Get("since"); q != "" {
			t, err := time.Parse("2006-01-02", q)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad since (YYYY-MM-DD)")
				return
			}
			since = &t
		}
		run, err := d.Runner.Run(r.Context(), since)
		if err != nil && len(run.Reports) == 0 {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runSummary{
			RunID:   run.ID,
			Scored:  len(run.Reports),
			Skipped: run.Skipped,
			Errors:  run.Errors,
		})
	})

	mux.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Store.Runs())
	})

	mux.Get("/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		run, ok := d.Store.Run(chi.URLParam(r, "runID"))
		if !ok {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
		rows, err := d.Reports.QueryReports(r.URL.Query())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if r.URL.Query().Get("format") == "csv" {
			w.Header().Set("Content-Type", "text/csv")
			w.WriteHeader(http.StatusOK)
			if err := export.WriteCSV(w, rows); err != nil {
				log.Error("csv write failed", slog.String("rid", utils.RID(r.Context())), slog.String("err", err.Error()))
			}
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.Get("/reports/{adID}", func(w http.ResponseWriter, r *http.Request) {
		rep, err := d.Reports.Report(r.URL.Query().Get("run_id"), chi.URLParam(r, "adID"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.Post("/export/run", func(w http.ResponseWriter, r *http.Request) {
		var (
			run models.Run
			ok  bool
		)
		if id := r.URL.Query().Get("run_id"); id != "" {
			run, ok = d.Store.Run(id)
		} else {
			run, ok = d.Store.Latest()
		}
		if !ok {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		n, err := d.Exporter.Export(r.Context(), run)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "exported": n})
	})

	if d.Reload != nil {
		mux.Post("/benchmarks/reload", func(w http.ResponseWriter, r *http.Request) {
			if err := d.Reload(); err != nil {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, metrics.ErrRunNotFound), errors.Is(err, metrics.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, export.ErrSinkNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var se interface{ Retryable() bool }
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
