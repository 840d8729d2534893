package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/pipeline"
	"github.com/JakeFAU/prodscout/internal/runs"
)

// maxResultsLimit matches the largest page the code host search returns.
const maxResultsLimit = 100

type runRequest struct {
	Mode       string   `json:"mode"`
	Queries    []string `json:"queries"`
	MaxResults *int     `json:"max_results"`
	MinScore   *int     `json:"min_score"`
	Clone      *bool    `json:"clone"`
	Query      string   `json:"query"`
	MinStars   *int     `json:"min_stars"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

// toPipelineRequest validates req and fills omitted fields from config.
func (s *Server) toPipelineRequest(req runRequest) (pipeline.Request, error) {
	mode := discovery.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if mode == "" {
		mode = discovery.Mode(s.cfg.Pipeline.Mode)
	}
	if mode == "" {
		mode = discovery.ModeDork
	}
	if mode != discovery.ModeDork && mode != discovery.ModeGitHub {
		return pipeline.Request{}, fmt.Errorf("mode must be %q or %q", discovery.ModeDork, discovery.ModeGitHub)
	}
	maxResults := valueOrDefault(req.MaxResults, s.cfg.Search.MaxResults)
	if maxResults <= 0 || maxResults > maxResultsLimit {
		return pipeline.Request{}, fmt.Errorf("max_results must be between 1 and %d", maxResultsLimit)
	}
	minStars := valueOrDefault(req.MinStars, s.cfg.Pipeline.MinStars)
	if minStars < 0 {
		return pipeline.Request{}, errors.New("min_stars must be >= 0")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = s.cfg.Pipeline.Query
	}
	if mode == discovery.ModeGitHub && query == "" {
		return pipeline.Request{}, errors.New("query required for github mode")
	}
	return pipeline.Request{
		Mode:       mode,
		Queries:    req.Queries,
		MaxResults: maxResults,
		MinScore:   req.MinScore,
		Clone:      valueOrDefault(req.Clone, s.cfg.Pipeline.Clone),
		Query:      query,
		MinStars:   minStars,
	}, nil
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	preq, err := s.toPipelineRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.runs.Start(preq)
	if err != nil {
		if errors.Is(err, runs.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	w.Header().Set("Location", "/v1/runs/"+snap.ID.String())
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": snap.ID.String(), "status": snap.Status})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	list := s.runs.List()
	for i := range list {
		list[i].Records = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": list})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.runs.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": snap})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.runs.Cancel(id)
	switch {
	case errors.Is(err, runs.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, runs.ErrFinished):
		writeError(w, http.StatusConflict, "run already finished")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": id.String(), "status": snap.Status, "cancel_requested": true})
}

// streamRunEvents writes the current snapshot, then every progress event of
// the run until its terminal event or client disconnect.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.runs.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if snap.Status.Terminal() || s.events == nil {
		s.writeEvent(w, flusher, "snapshot", snap)
		return
	}
	events, unsubscribe := s.events.Subscribe(id)
	defer unsubscribe()
	// The run may have finished between the first snapshot and Subscribe.
	if latest, err := s.runs.Get(id); err == nil {
		snap = latest
	}
	if !s.writeEvent(w, flusher, "snapshot", snap) || snap.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !s.writeEvent(w, flusher, "progress", evt) || evt.Stage.Terminal() {
				return
			}
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode event failed", zap.Error(err))
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}
