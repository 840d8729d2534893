package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

// listRepositories handles GET /v1/repositories?page=&per_page=&sort=&q=. It
// returns {"repositories": [...], "total": n, "page": p, "per_page": s}, 400
// for invalid paging, 503 without a store, or 500 on store errors.
func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "repository store unavailable")
		return
	}
	page, perPage, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	query := discovery.ListQuery{
		Page:     page,
		PageSize: perPage,
		Sort:     strings.TrimSpace(q.Get("sort")),
		Search:   strings.TrimSpace(q.Get("q")),
	}.Normalize()

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	records, total, err := s.store.List(ctx, query)
	if err != nil {
		s.logger.Error("list repositories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list repositories")
		return
	}
	if records == nil {
		records = []discovery.RepositoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repositories": records,
		"total":        total,
		"page":         query.Page,
		"per_page":     query.PageSize,
	})
}

// getStats handles GET /v1/stats.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.clock == nil {
		writeError(w, http.StatusServiceUnavailable, "repository store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	stats, err := s.store.Stats(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("repository stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parsePaging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page := 1
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid page")
		}
		page = val
	}
	perPage := 10
	if raw := q.Get("per_page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid per_page")
		}
		perPage = val
	}
	return page, perPage, nil
}
