package api

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"hlldb.dev/hlldb/internal/hll"
)

// updateRequest carries one or more pre-hashed 64-bit values to fold into a
// column's sketch. Hashing happens in the HTTP client, never inside the
// sketch itself.
type updateRequest struct {
	Hashes []uint64 `json:"hashes"`
}

// PostUpdate handles POST /columns/{table}/{column}/update.
func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	key := columnKeyFromRequest(r)

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Hashes) == 0 {
		writeError(w, http.StatusBadRequest, "hashes must not be empty")
		return
	}

	changed := false
	for _, hv := range req.Hashes {
		if h.store.Update(key, hv) {
			changed = true
		}
	}

	estimate, _ := h.store.Estimate(key)
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":  changed,
		"estimate": estimate,
	})
}

// mergeRequest carries the raw serialized form of a sketch to merge into the
// destination column, either inline as hex or as raw bytes in the body.
type mergeRequest struct {
	SketchHex string `json:"sketch_hex"`
}

// PostMerge handles POST /columns/{table}/{column}/merge.
func (h *Handler) PostMerge(w http.ResponseWriter, r *http.Request) {
	key := columnKeyFromRequest(r)

	contentType := r.Header.Get("Content-Type")
	var payload []byte

	if contentType == "application/octet-stream" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
			return
		}
		payload = data
	} else {
		var req mergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
			return
		}
		decoded, err := hex.DecodeString(req.SketchHex)
		if err != nil {
			writeError(w, http.StatusBadRequest, "sketch_hex is not valid hex: "+err.Error())
			return
		}
		payload = decoded
	}

	src, err := hll.Decode(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sketch encoding: "+err.Error())
		return
	}

	h.store.Merge(key, src)

	estimate, _ := h.store.Estimate(key)
	writeJSON(w, http.StatusOK, map[string]any{"estimate": estimate})
}

// GetEstimate handles GET /columns/{table}/{column}/estimate.
func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	key := columnKeyFromRequest(r)

	estimate, ok := h.store.Estimate(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no such column")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"table":    key.Table,
		"column":   key.Column,
		"estimate": estimate,
	})
}

// GetRaw handles GET /columns/{table}/{column}, returning the sketch's exact
// wire bytes for replication or offline inspection.
func (h *Handler) GetRaw(w http.ResponseWriter, r *http.Request) {
	key := columnKeyFromRequest(r)

	data, ok := h.store.Bytes(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no such column")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetColumns handles GET /columns, listing every tracked (table, column) pair.
func (h *Handler) GetColumns(w http.ResponseWriter, r *http.Request) {
	keys := h.store.Keys()
	out := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]string{"table": k.Table, "column": k.Column})
	}
	writeJSON(w, http.StatusOK, out)
}
