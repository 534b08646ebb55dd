// Package http exposes the ledger commands as a JSON API.
//
// This file implements the request side: bounded JSON bodies and the query
// parameters shared by several handlers.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"conti/internal/core"
)

const (
	maxBodyBytes   = 1 << 20
	maxBackupBytes = 32 << 20
)

var (
	errBadRequest = errors.New("bad request")
	errEmptyBody  = fmt.Errorf("%w: empty request body", errBadRequest)
)

// decodeJSON reads exactly one JSON value into dst. Unknown fields are
// rejected so typos do not silently drop data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		if core.IsValidation(err) {
			return err
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for bodies that may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

// todayParam returns the "today" query parameter, or fallback when it is absent.
func todayParam(r *http.Request, fallback core.Date) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("today"))
	if raw == "" {
		return fallback, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, core.Invalid("today", "expected YYYY-MM-DD")
	}
	return d, nil
}

// idList trims ids and rejects an empty list.
func idList(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, core.Invalid("ids", "at least one transaction id is required")
	}
	return out, nil
}
