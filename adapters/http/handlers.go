package http

import (
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"tree-estimator/adapters/storage"
	"tree-estimator/core/engine"
	ierrors "tree-estimator/internal/errors"
)

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *Adapter) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}
	in, err := req.Input()
	if err != nil {
		renderError(w, shapeError(err))
		return
	}
	normalized, err := a.service.Validate(r.Context(), in)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true, Input: normalized})
}

func (a *Adapter) handleCalculate(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}
	in, err := req.Input()
	if err != nil {
		renderError(w, shapeError(err))
		return
	}
	result, err := a.service.Calculate(r.Context(), in)
	if err != nil {
		renderError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/calculations/"+result.ID)
	writeJSON(w, http.StatusCreated, result)
}

func (a *Adapter) handleGet(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *Adapter) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		renderError(w, err)
		return
	}
	results, err := a.service.List(r.Context(), filter)
	if err != nil {
		renderError(w, err)
		return
	}
	if results == nil {
		results = []*engine.Result{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Calculations: results})
}

func (a *Adapter) handleReproduce(w http.ResponseWriter, r *http.Request) {
	fresh, err := a.service.Reproduce(r.Context(), chi.URLParam(r, "id"))
	var mismatch *engine.MismatchError
	switch {
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusConflict, ReproduceResponse{Matches: false, Fields: mismatch.Fields, Result: fresh})
	case err != nil:
		renderError(w, err)
	default:
		writeJSON(w, http.StatusOK, ReproduceResponse{Matches: true, Result: fresh})
	}
}

func (a *Adapter) decodeRequest(w http.ResponseWriter, r *http.Request) (CalculationRequest, bool) {
	var req CalculationRequest
	if err := a.parseJSON(w, r, &req); err != nil {
		renderError(w, ierrors.Parsing("invalid request body", err))
		return req, false
	}
	if err := a.validate.Struct(req); err != nil {
		renderError(w, shapeError(err))
		return req, false
	}
	return req, true
}

func parseListFilter(r *http.Request) (*storage.ListFilter, error) {
	q := r.URL.Query()
	filter := &storage.ListFilter{}
	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = civil.ParseDate(v); err != nil {
			return nil, ierrors.Parsing("invalid from date", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = civil.ParseDate(v); err != nil {
			return nil, ierrors.Parsing("invalid to date", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return nil, ierrors.Parsing("invalid limit", err)
		}
	}
	return filter, nil
}
