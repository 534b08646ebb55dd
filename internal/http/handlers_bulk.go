package http

import (
	"net/http"

	"conti/internal/services"
)

type recategorizeRequest struct {
	IDs           []string `json:"ids"`
	CategoryID    string   `json:"categoryId"`
	SubcategoryID string   `json:"subcategoryId"`
}

type bulkResponse struct {
	Updated int `json:"updated"`
}

func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	var req recategorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := idList(req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Bulk.Recategorize(r.Context(), ids, req.CategoryID, req.SubcategoryID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bulkResponse{Updated: len(ids)})
}

type tagRequest struct {
	IDs  []string         `json:"ids"`
	Tags []string         `json:"tags"`
	Mode services.TagMode `json:"mode"`
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := idList(req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Mode == "" {
		req.Mode = services.TagAdd
	}
	if err := s.app.Bulk.Tag(r.Context(), ids, req.Tags, req.Mode); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bulkResponse{Updated: len(ids)})
}

type splitRequest struct {
	Parts []services.SplitPart `json:"parts"`
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.app.Bulk.Split(r.Context(), r.PathValue("id"), req.Parts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}
