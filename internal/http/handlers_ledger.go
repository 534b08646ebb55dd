package http

import (
	"net/http"
	"time"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/services"
)

type snapshotResponse struct {
	Version      int64                `json:"version"`
	CommittedAt  time.Time            `json:"committedAt"`
	Categories   []core.Category      `json:"categories"`
	Transactions []core.Transaction   `json:"transactions"`
	Rules        []core.RecurringRule `json:"rules"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Book.Snapshot()
	writeJSON(w, r, http.StatusOK, snapshotResponse{
		Version:      snap.Version(),
		CommittedAt:  snap.CommittedAt(),
		Categories:   nonNil(snap.Categories()),
		Transactions: nonNil(snap.Transactions()),
		Rules:        nonNil(snap.Rules()),
	})
}

type integrityResponse struct {
	Version    int64    `json:"version"`
	Consistent bool     `json:"consistent"`
	Violations []string `json:"violations"`
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Book.Snapshot()
	violations := ledger.CheckIntegrity(snap)
	resp := integrityResponse{
		Version:    snap.Version(),
		Consistent: len(violations) == 0,
		Violations: make([]string, 0, len(violations)),
	}
	for _, v := range violations {
		resp.Violations = append(resp.Violations, v.String())
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var t core.Transaction
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.app.Reconciler.CreateTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var t core.Transaction
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	t.ID = r.PathValue("id")
	updated, err := s.app.Reconciler.UpdateTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Reconciler.DeleteTransaction(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var cat core.Category
	if err := decodeJSON(w, r, &cat); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.app.Reconciler.AddCategory(r.Context(), cat)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

type categoryPatchRequest struct {
	Name                *string     `json:"name"`
	Color               *string     `json:"color"`
	CountsTowardSavings *bool       `json:"countsTowardSavings"`
	BudgetLimit         *core.Money `json:"budgetLimit"`
	ClearBudgetLimit    bool        `json:"clearBudgetLimit"`
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.app.Reconciler.UpdateCategory(r.Context(), r.PathValue("id"), services.CategoryPatch{
		Name:                req.Name,
		Color:               req.Color,
		CountsTowardSavings: req.CountsTowardSavings,
		BudgetLimit:         req.BudgetLimit,
		ClearBudgetLimit:    req.ClearBudgetLimit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// handleDeleteCategory moves the category's transactions to the category named
// by the "target" query parameter (and optional "targetSubcategory"), or to the
// fallback category when no target is given.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := s.app.Reconciler.DeleteCategory(r.Context(), r.PathValue("id"), q.Get("target"), q.Get("targetSubcategory"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusNoContent, nil)
}

type subcategoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddSubcategory(w http.ResponseWriter, r *http.Request) {
	var req subcategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.app.Reconciler.AddSubcategory(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sub)
}

func (s *Server) handleRenameSubcategory(w http.ResponseWriter, r *http.Request) {
	var req subcategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	categoryID, subcategoryID := r.PathValue("id"), r.PathValue("sub")
	if err := s.app.Reconciler.RenameSubcategory(r.Context(), categoryID, subcategoryID, req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	cat, _ := s.app.Book.Snapshot().Category(categoryID)
	writeJSON(w, r, http.StatusOK, cat)
}

func (s *Server) handleDeleteSubcategory(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Reconciler.DeleteSubcategory(r.Context(), r.PathValue("id"), r.PathValue("sub")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusNoContent, nil)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
