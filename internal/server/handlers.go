package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/engine"
	"github.com/headline-goat/feed-goat/internal/experiments"
	"github.com/headline-goat/feed-goat/internal/feed"
	"github.com/headline-goat/feed-goat/internal/levers"
	"github.com/headline-goat/feed-goat/internal/variants"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps lookup errors to 404, caller mistakes to 400 and
// everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, experiments.ErrExperimentNotFound),
		errors.Is(err, variants.ErrUnknownVariant),
		errors.Is(err, levers.ErrLeverNotFound),
		errors.Is(err, levers.ErrOrderByNotFound):
		status = http.StatusNotFound
	case errors.Is(err, experiments.ErrUnknownParticipant),
		errors.Is(err, experiments.ErrUnknownGoal),
		errors.Is(err, experiments.ErrUnknownVariant):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var dbSize int64
	if s.store != nil {
		row := s.store.DB().QueryRowContext(r.Context(), "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&dbSize); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(s.engine.Experiments()),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

// FeedRequest ranks Items. With Variant empty the reader is bucketed through
// the feed experiment.
type FeedRequest struct {
	Variant      string                    `json:"variant"`
	User         *feed.User                `json:"user"`
	Participants []experiments.Participant `json:"participants"`
	Items        []feed.Item               `json:"items"`
}

type RankedItem struct {
	ID             int64     `json:"id"`
	RelevancyScore float64   `json:"relevancy_score"`
	PublishedAt    time.Time `json:"published_at"`
}

type FeedResponse struct {
	Variant  string       `json:"variant"`
	Degraded bool         `json:"degraded"`
	Items    []RankedItem `json:"items"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req FeedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	var (
		f   *engine.Feed
		err error
	)
	if req.Variant != "" {
		f, err = s.engine.Rank(ctx, req.Variant, req.User, req.Items)
	} else {
		f, err = s.engine.FeedFor(ctx, participants(w, r, req.Participants), req.User, req.Items)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := FeedResponse{Variant: f.Variant, Degraded: f.Degraded, Items: make([]RankedItem, len(f.Items))}
	for i, it := range f.Items {
		resp.Items[i] = RankedItem{ID: it.Item.ID, RelevancyScore: it.RelevancyScore, PublishedAt: it.Item.PublishedAt}
	}
	writeJSON(w, http.StatusOK, resp)
}

type relevancyLeverResponse struct {
	Key             string   `json:"key"`
	Label           string   `json:"label"`
	Range           string   `json:"range"`
	UserRequired    bool     `json:"user_required"`
	QueryParameters []string `json:"query_parameters,omitempty"`
}

type orderByLeverResponse struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type LeversResponse struct {
	Relevancy      []relevancyLeverResponse `json:"relevancy"`
	OrderBy        []orderByLeverResponse   `json:"order_by"`
	DefaultOrderBy string                   `json:"default_order_by"`
}

func (s *Server) handleLevers(w http.ResponseWriter, r *http.Request) {
	catalog := s.engine.Catalog()

	resp := LeversResponse{DefaultOrderBy: catalog.DefaultOrderByKey()}
	for _, l := range catalog.RelevancyLevers() {
		resp.Relevancy = append(resp.Relevancy, relevancyLeverResponse{
			Key:             l.Key(),
			Label:           l.Label(),
			Range:           l.Range(),
			UserRequired:    l.UserRequired(),
			QueryParameters: l.QueryParameterNames(),
		})
	}
	for _, o := range catalog.OrderByLevers() {
		resp.OrderBy = append(resp.OrderBy, orderByLeverResponse{Key: o.Key(), Label: o.Label()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.VariantNames(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Variant(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.View())
}

type ExperimentResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Variants    []string   `json:"variants"`
	Weights     []float64  `json:"weights"`
	Goals       []string   `json:"goals"`
	Winner      string     `json:"winner,omitempty"`
	Closed      bool       `json:"closed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	list := s.engine.Experiments()
	resp := make([]ExperimentResponse, 0, len(list))
	for _, e := range list {
		er := ExperimentResponse{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Variants:    e.Variants,
			Weights:     e.Weights,
			Goals:       e.Goals,
			Winner:      e.Winner,
			Closed:      e.Closed,
		}
		if !e.StartedAt.IsZero() {
			er.StartedAt = &e.StartedAt
		}
		if !e.EndedAt.IsZero() {
			er.EndedAt = &e.EndedAt
		}
		resp = append(resp, er)
	}
	writeJSON(w, http.StatusOK, resp)
}

type AssignRequest struct {
	Participants []experiments.Participant `json:"participants"`
	Variant      string                    `json:"variant"`
	Exclude      bool                      `json:"exclude"`
}

type AssignResponse struct {
	Experiment string `json:"experiment"`
	Variant    string `json:"variant"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	variant, err := s.engine.AssignVariant(r.Context(), id, participants(w, r, req.Participants), experiments.VariantOptions{
		Exclude: req.Exclude,
		Variant: req.Variant,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignResponse{Experiment: id, Variant: variant})
}

type ConvertRequest struct {
	Participants []experiments.Participant `json:"participants"`
	Goal         string                    `json:"goal"`
}

type ConvertResponse struct {
	Experiment string `json:"experiment"`
	Found      bool   `json:"found"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	found, err := s.engine.RecordConversion(r.Context(), id, participants(w, r, req.Participants), req.Goal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConvertResponse{Experiment: id, Found: found})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.ExperimentResults(r.Context(), r.PathValue("id"), r.URL.Query().Get("goal"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
