package http

import (
	"fmt"
	"net/http"
	"time"

	"conti/internal/backup"
	"conti/internal/log"
)

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	doc := backup.Export(s.app.Book.Snapshot(), s.app.BackupSettings(), now)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="conti-backup-%s.json"`, now.UTC().Format("20060102-150405")))
	w.WriteHeader(http.StatusOK)
	if err := backup.Encode(w, doc); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "failed to stream backup", log.FieldError, err)
	}
}

type restoreResponse struct {
	Version      int64 `json:"version"`
	Categories   int   `json:"categories"`
	Transactions int   `json:"transactions"`
	Rules        int   `json:"rules"`
}

// handleRestoreBackup replaces the whole ledger with the uploaded document.
// Older document versions are migrated first; an inconsistent document is
// rejected without touching the ledger.
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	doc, err := backup.Decode(http.MaxBytesReader(w, r.Body, maxBackupBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Restore(r.Context(), doc, log.FromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	snap := s.app.Book.Snapshot()
	txns, cats, rules := snap.Counts()
	writeJSON(w, r, http.StatusOK, restoreResponse{
		Version:      snap.Version(),
		Categories:   cats,
		Transactions: txns,
		Rules:        rules,
	})
}
