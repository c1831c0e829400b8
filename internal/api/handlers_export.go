package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canopy-chat/canopy/internal/codec"
)

// importBodyLimit caps an uploaded document at 8 MiB.
const importBodyLimit = 8 << 20

// ---------------------------------------------------------------------------
// GET /api/export — file download
// ---------------------------------------------------------------------------

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc := codec.Serialize(s.store.Snapshot())
	data, err := codec.EncodePretty(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EXPORT_ERROR",
			"serialize failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", codec.ExportFileName(time.Now())))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ---------------------------------------------------------------------------
// GET /api/export/clipboard — pretty JSON for the clipboard sink
// ---------------------------------------------------------------------------

func (s *Server) handleExportClipboard(w http.ResponseWriter, r *http.Request) {
	doc := codec.Serialize(s.store.Snapshot())
	data, err := codec.EncodePretty(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EXPORT_ERROR",
			"serialize failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ---------------------------------------------------------------------------
// POST /api/import — restore a document
// ---------------------------------------------------------------------------

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, importBodyLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BODY_TOO_LARGE",
			"import payload too large or unreadable")
		return
	}

	nodes, edges, vp, err := codec.Deserialize(body)
	if err != nil {
		// Existing graph stays untouched on a malformed document.
		writeError(w, http.StatusBadRequest, "MALFORMED_DOCUMENT", err.Error())
		return
	}

	if err := s.store.SetAll(nodes, edges, vp); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_DOCUMENT",
			"document violates graph invariants: "+err.Error())
		return
	}
	s.setFocus("")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]int{
			"nodes": len(nodes),
			"edges": len(edges),
		},
	})
}
