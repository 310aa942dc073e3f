// Package api exposes the column store over HTTP: one endpoint per
// operation defined on a sketch (update, merge, estimate, raw bytes), routed
// with gorilla/mux the way the rest of the retrieved analytical-tooling repos
// route their HTTP surfaces.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hlldb.dev/hlldb/internal/columnstore"
)

// Handler serves the sketch HTTP API against a single column store.
type Handler struct {
	store  *columnstore.Store
	logger *slog.Logger
}

// NewRouter builds a mux.Router with every sketch route registered against
// store. Every route is wrapped in a logging middleware that records one line
// per completed request.
func NewRouter(store *columnstore.Store, logger *slog.Logger) *mux.Router {
	h := &Handler{store: store, logger: logger}

	r := mux.NewRouter()
	r.Use(h.logRequest)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/metrics", promhttp.Handler().ServeHTTP).Methods(http.MethodGet)
	r.HandleFunc("/columns/{table}/{column}/update", h.PostUpdate).Methods(http.MethodPost)
	r.HandleFunc("/columns/{table}/{column}/merge", h.PostMerge).Methods(http.MethodPost)
	r.HandleFunc("/columns/{table}/{column}/estimate", h.GetEstimate).Methods(http.MethodGet)
	r.HandleFunc("/columns/{table}/{column}", h.GetRaw).Methods(http.MethodGet)
	r.HandleFunc("/columns", h.GetColumns).Methods(http.MethodGet)
	return r
}

// logRequest logs one Info line per completed request, naming the column it
// touched (if any), the operation, and how long it took.
func (h *Handler) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		vars := mux.Vars(r)
		column := vars["table"] + "." + vars["column"]
		if vars["table"] == "" && vars["column"] == "" {
			column = "-"
		}

		h.logger.Info("request completed",
			"column", column,
			"op", r.Method+" "+r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func columnKeyFromRequest(r *http.Request) columnstore.ColumnKey {
	vars := mux.Vars(r)
	return columnstore.ColumnKey{Table: vars["table"], Column: vars["column"]}
}

// Health reports liveness for orchestrators and load balancers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
