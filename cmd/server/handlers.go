package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/brunobiangulo/golineage"
	"github.com/brunobiangulo/golineage/evidence"
	"github.com/brunobiangulo/golineage/store"
)

// traceTimeout bounds one lineage build including augmentation calls.
const traceTimeout = 5 * time.Minute

type handler struct {
	engine    golineage.Engine
	outputDir string
	validate  *validator.Validate
}

func newHandler(e golineage.Engine, outputDir string) *handler {
	return &handler{engine: e, outputDir: outputDir, validate: validator.New()}
}

type analyzeRequest struct {
	Dataset  string           `json:"dataset" validate:"max=128"`
	Variable string           `json:"variable" validate:"required,max=1024"`
	Session  string           `json:"session,omitempty" validate:"omitempty,startswith=session_,max=256"`
	Files    []map[string]any `json:"filesContext,omitempty" validate:"max=200"`
}

// POST /analyze-variable
// Always answers 200 with a lineage graph once the request is valid; build
// failures are reported in-band as gaps.
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), traceTimeout)
	defer cancel()

	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body.Dataset = strings.TrimSpace(body.Dataset)
	body.Variable = strings.TrimSpace(body.Variable)
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	req := golineage.Request{Dataset: body.Dataset, Variable: body.Variable, Files: body.Files}
	if req.Dataset == "" {
		req = h.engine.ClassifyText(ctx, body.Variable)
		req.Files = body.Files
		slog.Info("classified free-text request", "text", body.Variable, "dataset", req.Dataset, "variable", req.Variable)
	}

	sess, err := h.session(body.Session)
	switch {
	case err != nil && body.Session != "":
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, evidence.ErrNoSession):
		slog.Warn("no session available", "output_dir", h.outputDir)
		writeJSON(w, http.StatusOK, golineage.NoEvidence(req))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to resolve session")
		slog.Error("resolving session", "error", err)
		return
	}

	res, err := h.engine.Trace(ctx, sess, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set(headerSession, sess.ID)
	w.Header().Set(headerRunID, res.RunID)
	w.Header().Set(headerRoute, res.Route.String())
	writeJSON(w, http.StatusOK, res.Graph)
}

// session resolves an explicit session id, or the latest session.
func (h *handler) session(id string) (evidence.Session, error) {
	if id == "" {
		return h.engine.LatestSession()
	}
	return evidence.OpenSession(h.outputDir, id)
}

// GET /sessions
func (h *handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.Sessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		slog.Error("list sessions error", "error", err)
		return
	}
	if sessions == nil {
		sessions = []evidence.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

// GET /runs?session=<id>&limit=<n>
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	f := store.RunFilter{SessionID: r.URL.Query().Get("session")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	runs, err := h.engine.Runs(r.Context(), f)
	if err != nil {
		h.runError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

// GET /runs/{id}
func (h *handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		h.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) runError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, golineage.ErrPersistenceDisabled):
		writeError(w, http.StatusNotFound, "run log disabled")
	case errors.Is(err, store.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	default:
		writeError(w, http.StatusInternalServerError, "run log query failed")
		slog.Error("run log error", "error", err)
	}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s := h.engine.Store(); s != nil {
		if stats, err := s.DBStats(r.Context()); err == nil {
			resp["store"] = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// validationMessage names the first failing field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid request"
}
