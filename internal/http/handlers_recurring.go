package http

import (
	"net/http"

	"conti/internal/core"
)

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule core.RecurringRule
	if err := decodeJSON(w, r, &rule); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.app.Scheduler.AddRule(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule core.RecurringRule
	if err := decodeJSON(w, r, &rule); err != nil {
		writeError(w, r, err)
		return
	}
	rule.ID = r.PathValue("id")
	updated, err := s.app.Scheduler.UpdateRule(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Scheduler.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusNoContent, nil)
}

type processRequest struct {
	Amount *core.Money `json:"amount"`
}

// handleProcessRule approves the rule's next occurrence. The body is optional
// and may override the amount.
func (s *Server) handleProcessRule(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.app.Scheduler.Process(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, t)
}

func (s *Server) handleSkipRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.app.Scheduler.Skip(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

func (s *Server) handleDueRules(w http.ResponseWriter, r *http.Request) {
	today, err := todayParam(r, s.app.Book.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nonNil(s.app.Scheduler.DueForApproval(today)))
}

func (s *Server) handleUpcomingRules(w http.ResponseWriter, r *http.Request) {
	today, err := todayParam(r, s.app.Book.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nonNil(s.app.Scheduler.UpcomingAuto(today)))
}

type evaluationResponse struct {
	Materialized     []core.Transaction   `json:"materialized"`
	AwaitingApproval []core.RecurringRule `json:"awaitingApproval"`
	Upcoming         []core.RecurringRule `json:"upcoming"`
	Errors           []string             `json:"errors,omitempty"`
}

// handleEvaluate runs one scheduler tick on demand. Per-rule failures do not
// undo the rules that succeeded, so they are reported alongside the result
// rather than as a failed request. Evaluating a day after the book's today is
// refused since it would book payments that have not happened.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	now := s.app.Book.Today()
	today, err := todayParam(r, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if today.After(now) {
		writeError(w, r, core.Invalid("today", "cannot evaluate after "+now.String()))
		return
	}
	result, err := s.app.Scheduler.Evaluate(r.Context(), today)
	resp := evaluationResponse{
		Materialized:     nonNil(result.Materialized),
		AwaitingApproval: nonNil(result.AwaitingApproval),
		Upcoming:         nonNil(result.Upcoming),
	}
	if err != nil {
		resp.Errors = []string{err.Error()}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
