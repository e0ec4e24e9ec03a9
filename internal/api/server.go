package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"FedMint/internal/engine"
	"FedMint/internal/ledger"
	"FedMint/internal/logger"
	"FedMint/internal/model"
	"FedMint/internal/store"
)

// maxUpdateSize is the maximum submission body size in bytes.
const maxUpdateSize = 8 << 20 // 8 MB

// RoundRunner processes submissions and resumes stalled rounds.
type RoundRunner interface {
	RunRound(ctx context.Context, update *model.LocalUpdate) (*engine.RoundOutcome, error)
	Resume(ctx context.Context, roundID string) (*engine.RoundOutcome, error)
	Head() (*model.GlobalModel, error)
	Stats() engine.Stats
}

// RoundReader exposes a round's distribution records for inspection.
type RoundReader interface {
	Records(roundID string) ([]*ledger.Record, error)
}

// Server is the HTTP API server.
type Server struct {
	addr   string       // addr is the HTTP listen address
	runner RoundRunner  // runner processes submissions
	rounds RoundReader  // rounds exposes distribution records
	server *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, runner RoundRunner, rounds RoundReader) *Server {
	return &Server{
		addr:   addr,
		runner: runner,
		rounds: rounds,
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /update", s.handleSubmitUpdate)
	mux.HandleFunc("GET /model", s.handleModel)
	mux.HandleFunc("GET /participants", s.handleParticipants)
	mux.HandleFunc("GET /rounds/{id}", s.handleRound)
	mux.HandleFunc("POST /rounds/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// submitRequest is the POST /update body.
type submitRequest struct {
	Submitter  string    `json:"submitter"`
	Weights    []float64 `json:"weights"`
	NumSamples uint64    `json:"numSamples"`
	Scores     []float64 `json:"scores,omitempty"`
}

// submitResponse is the submission receipt.
type submitResponse struct {
	State        string             `json:"state"`
	Reason       string             `json:"reason,omitempty"`
	RoundID      string             `json:"roundId,omitempty"`
	ModelVersion uint64             `json:"modelVersion,omitempty"`
	ArtifactID   string             `json:"artifactId,omitempty"`
	Issued       []allocationEntry  `json:"issued,omitempty"`
	Shortfall    uint64             `json:"shortfall,omitempty"`
}

// allocationEntry is one participant's allocation in a response.
type allocationEntry struct {
	Participant string `json:"participant"`
	Amount      uint64 `json:"amount"`
}

// handleSubmitUpdate handles POST /update requests.
func (s *Server) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if req.Submitter == "" {
		writeError(w, http.StatusBadRequest, "submitter is required")
		return
	}

	update := &model.LocalUpdate{
		Submitter:  req.Submitter,
		Weights:    req.Weights,
		NumSamples: req.NumSamples,
		Scores:     req.Scores,
	}

	outcome, err := s.runner.RunRound(r.Context(), update)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, outcomeResponse(outcome))

	case outcome != nil && outcome.State == engine.StateRejected:
		writeJSON(w, http.StatusUnprocessableEntity, outcomeResponse(outcome))

	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, "concurrent model update, retry submission")

	default:
		logger.Error("round failed", "submitter", req.Submitter, "error", err)
		writeJSON(w, http.StatusInternalServerError, outcomeResponse(outcome))
	}
}

// handleModel handles GET /model requests.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.runner.Head()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	digest := m.WeightsDigest()

	writeJSON(w, http.StatusOK, map[string]any{
		"version":       m.Version,
		"numSamples":    m.NumSamples,
		"weights":       m.Weights,
		"weightsDigest": fmt.Sprintf("%x", digest),
		"participants":  len(m.Participants),
	})
}

// handleParticipants handles GET /participants requests.
func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	m, err := s.runner.Head()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type entry struct {
		ID            string  `json:"id"`
		Samples       uint64  `json:"samples"`
		Participation float64 `json:"participation"`
		RewardsIssued uint64  `json:"rewardsIssued"`
	}

	entries := make([]entry, 0, len(m.Participants))
	for _, id := range m.ParticipantIDs() {
		p := m.Participants[id]
		entries = append(entries, entry{
			ID:            p.ID,
			Samples:       p.Samples,
			Participation: p.Participation,
			RewardsIssued: p.RewardsIssued,
		})
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleRound handles GET /rounds/{id} requests.
func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	roundID := r.PathValue("id")

	records, err := s.rounds.Records(roundID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "unknown round")
		return
	}

	type entry struct {
		Participant string `json:"participant"`
		Amount      uint64 `json:"amount"`
		Issued      bool   `json:"issued"`
		Receipt     string `json:"receipt,omitempty"`
	}

	entries := make([]entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, entry{
			Participant: rec.Participant,
			Amount:      rec.Amount,
			Issued:      rec.Issued,
			Receipt:     rec.Receipt,
		})
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleRetry handles POST /rounds/{id}/retry requests.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	roundID := r.PathValue("id")

	outcome, err := s.runner.Resume(r.Context(), roundID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownRound) {
			writeError(w, http.StatusNotFound, "unknown round")
			return
		}

		logger.Error("round retry failed", "round", roundID, "error", err)
		writeJSON(w, http.StatusInternalServerError, outcomeResponse(outcome))

		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.runner.Stats()

	m, err := s.runner.Head()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"modelVersion":    m.Version,
		"numSamples":      m.NumSamples,
		"participants":    len(m.Participants),
		"roundsCompleted": stats.RoundsCompleted,
		"roundsRejected":  stats.RoundsRejected,
		"rewardsIssued":   stats.RewardsIssued,
	})
}

// outcomeResponse converts a round outcome to its JSON form.
func outcomeResponse(outcome *engine.RoundOutcome) submitResponse {
	if outcome == nil {
		return submitResponse{}
	}

	resp := submitResponse{
		State:        string(outcome.State),
		Reason:       string(outcome.Reason),
		RoundID:      outcome.RoundID,
		ModelVersion: outcome.ModelVersion,
		ArtifactID:   outcome.ArtifactID,
		Shortfall:    outcome.Shortfall,
	}

	for _, a := range outcome.NewlyIssued {
		resp.Issued = append(resp.Issued, allocationEntry{
			Participant: a.Participant,
			Amount:      a.Amount,
		})
	}

	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
