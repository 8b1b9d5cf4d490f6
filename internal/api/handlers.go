package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/pipeline"
)

type startRunRequest struct {
	Type   string `json:"type"`
	Filter string `json:"filter"`
}

type journalResponse struct {
	Journal  journal.JournalRecord `json:"journal"`
	Aliases  []journal.IssnAlias   `json:"aliases"`
	Statuses []journal.FetchStatus `json:"statuses"`
}

type statsResponse struct {
	Version  string                `json:"version"`
	Journals int64                 `json:"journals"`
	Sources  []journal.SourceStats `json:"sources"`
	ActiveID string                `json:"active_run_id,omitempty"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := toRunRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.runs.Start(r.Context(), req)
	switch {
	case errors.Is(err, pipeline.ErrRunActive):
		active, _ := s.runs.Active()
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a run is already active",
			"run_id": active,
		})
		return
	case errors.Is(err, pipeline.ErrNothingToResume):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("start run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func toRunRequest(body startRunRequest) (pipeline.RunRequest, error) {
	typ := strings.TrimSpace(body.Type)
	if typ == "" {
		typ = string(journal.RunFull)
	}
	runType, err := journal.ParseRunType(typ)
	if err != nil {
		return pipeline.RunRequest{}, err
	}
	req := pipeline.RunRequest{Type: runType}
	if f := strings.TrimSpace(body.Filter); f != "" {
		state, err := journal.ParseFetchState(f)
		if err != nil {
			return pipeline.RunRequest{}, err
		}
		req.Filter = state
	}
	return req, nil
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	run, err := s.store.LatestRun(ctx)
	if err != nil {
		s.storeError(w, err, "run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run, "paused": run.Paused()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	run, err := s.store.GetRun(ctx, chi.URLParam(r, "run_id"))
	if err != nil {
		s.storeError(w, err, "run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run, "paused": run.Paused()})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	err := s.runs.Stop(r.Context(), runID)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, pipeline.ErrRunNotRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("stop run failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to stop run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"run_id": runID,
		"status": string(journal.RunStopped),
	})
}

func (s *Server) getJournal(w http.ResponseWriter, r *http.Request) {
	s.respondJournal(w, r, chi.URLParam(r, "journal_id"))
}

func (s *Server) getByISSN(w http.ResponseWriter, r *http.Request) {
	issn, err := journal.NormalizeISSN(chi.URLParam(r, "issn"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	alias, err := s.store.FindByISSN(ctx, issn)
	if err != nil {
		s.storeError(w, err, "issn")
		return
	}
	s.respondJournal(w, r, alias.JournalID)
}

func (s *Server) respondJournal(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	rec, err := s.store.GetJournal(ctx, id)
	if err != nil {
		s.storeError(w, err, "journal")
		return
	}
	version, err := s.store.CurrentVersion(ctx)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		version = rec.Version
	case err != nil:
		s.storeError(w, err, "version")
		return
	}
	aliases, err := s.store.ListAliases(ctx, id)
	if err != nil {
		s.storeError(w, err, "aliases")
		return
	}
	statuses, err := s.store.ListFetchStatuses(ctx, id, version)
	if err != nil {
		s.storeError(w, err, "fetch statuses")
		return
	}
	s.writeJSON(w, http.StatusOK, journalResponse{Journal: rec, Aliases: aliases, Statuses: statuses})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	version, err := s.store.CurrentVersion(ctx)
	if err != nil {
		s.storeError(w, err, "version")
		return
	}
	sources, err := s.store.SourceStats(ctx, version)
	if err != nil {
		s.storeError(w, err, "stats")
		return
	}
	count, err := s.store.CountJournals(ctx)
	if err != nil {
		s.storeError(w, err, "journal count")
		return
	}
	out := statsResponse{Version: version, Journals: count, Sources: sources}
	if id, ok := s.runs.Active(); ok {
		out.ActiveID = id
	}
	s.writeJSON(w, http.StatusOK, out)
}
