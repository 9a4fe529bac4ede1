// Package api exposes the management HTTP surface: sources, digests,
// projects, and runtime settings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"digestd/internal/collector"
	"digestd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Generator triggers digest generation on demand.
type Generator interface {
	Generate(ctx context.Context, digestType string, projectIDs []string) (string, error)
}

type AppDeps struct {
	Store     *storage.Store
	Registry  *collector.Registry
	Generator Generator
	Token     string // optional; empty disables auth
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth(deps))

	r.Get("/projects", handleListProjects(deps))
	r.Post("/projects", handleCreateProject(deps))

	r.Get("/sources", handleListSources(deps))
	r.Post("/sources", handleCreateSource(deps))
	r.Post("/sources/{id}/validate", handleValidateSource(deps))
	r.Post("/sources/{id}/activate", handleSetSourceActive(deps, true))
	r.Post("/sources/{id}/deactivate", handleSetSourceActive(deps, false))

	r.Get("/digests", handleListDigests(deps))
	r.Get("/digests/{id}", handleGetDigest(deps))
	r.Post("/digests", handleGenerateDigest(deps))

	r.Get("/settings/{key}", handleGetSetting(deps))
	r.Put("/settings/{key}", handlePutSetting(deps))

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":     "ok",
			"collectors": deps.Registry.Tags(),
		})
	}
}

type projectRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type projectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt string `json:"created_at"`
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		out := make([]projectResponse, 0, len(projects))
		for _, p := range projects {
			out = append(out, toProjectResponse(p))
		}
		writeJSON(w, out)
	}
}

func handleCreateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		p, err := deps.Store.CreateProject(storage.Project{Name: req.Name, Color: req.Color})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create project: %v", err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, toProjectResponse(p))
	}
}

type sourceRequest struct {
	ProjectID   string         `json:"project_id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Credentials map[string]any `json:"credentials"`
	Config      map[string]any `json:"config"`
}

type sourceResponse struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Config       map[string]any `json:"config"`
	Active       bool           `json:"active"`
	LastSyncedAt *string        `json:"last_synced_at"`
	CreatedAt    string         `json:"created_at"`
}

func handleListSources(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := deps.Store.ListSources()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sources: %v", err)
			return
		}
		out := make([]sourceResponse, 0, len(sources))
		for _, src := range sources {
			out = append(out, toSourceResponse(src))
		}
		writeJSON(w, out)
	}
}

func handleCreateSource(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req sourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProjectID == "" || req.Type == "" || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project_id, type and name are required")
			return
		}
		if _, ok := deps.Registry.Get(req.Type); !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown source type %q, supported: %v", req.Type, deps.Registry.Tags())
			return
		}

		src, err := deps.Store.CreateSource(storage.Source{
			ProjectID:   req.ProjectID,
			Type:        req.Type,
			Name:        req.Name,
			Credentials: req.Credentials,
			Config:      req.Config,
			Active:      true,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create source: %v", err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, toSourceResponse(src))
	}
}

func handleValidateSource(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		src, err := deps.Store.GetSource(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get source: %v", err)
			return
		}

		coll, ok := deps.Registry.Create(src.Type)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no collector registered for type %q", src.Type)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		valid, err := coll.ValidateCredentials(ctx, src.Credentials)
		resp := map[string]any{"valid": valid}
		if err != nil {
			resp["error"] = err.Error()
		}
		writeJSON(w, resp)
	}
}

func handleSetSourceActive(deps AppDeps, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.SetSourceActive(id, active)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update source: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"active": active})
	}
}

type digestResponse struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	ScheduledAt  *string `json:"scheduled_at"`
	SentAt       *string `json:"sent_at"`
	MessageID    int64   `json:"message_id,omitempty"`
	Content      string  `json:"content,omitempty"`
	ItemCount    int     `json:"item_count"`
	ErrorMessage string  `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func handleListDigests(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		digests, err := deps.Store.ListDigests(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list digests: %v", err)
			return
		}
		out := make([]digestResponse, 0, len(digests))
		for _, d := range digests {
			out = append(out, toDigestResponse(d))
		}
		writeJSON(w, out)
	}
}

func handleGetDigest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		d, err := deps.Store.GetDigest(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "digest not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get digest: %v", err)
			return
		}
		writeJSON(w, toDigestResponse(d))
	}
}

type generateRequest struct {
	Type       string   `json:"type"`
	ProjectIDs []string `json:"project_ids"`
}

var digestTypes = map[string]bool{
	storage.DigestMorning:  true,
	storage.DigestEvening:  true,
	storage.DigestWeekly:   true,
	storage.DigestMonthly:  true,
	storage.DigestOnDemand: true,
}

func handleGenerateDigest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			req.Type = storage.DigestOnDemand
		}
		if !digestTypes[req.Type] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown digest type %q", req.Type)
			return
		}

		digestID, err := deps.Generator.Generate(r.Context(), req.Type, req.ProjectIDs)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "digest generation failed: %v", err)
			return
		}

		d, err := deps.Store.GetDigest(digestID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load digest: %v", err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, toDigestResponse(d))
	}
}

func handleGetSetting(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		value, err := deps.Store.GetSetting(key)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "setting not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get setting: %v", err)
			return
		}
		writeJSON(w, map[string]string{"key": key, "value": value})
	}
}

func handlePutSetting(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Store.SetSetting(key, req.Value); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save setting: %v", err)
			return
		}
		writeJSON(w, map[string]string{"key": key, "value": req.Value})
	}
}

func toProjectResponse(p storage.Project) projectResponse {
	return projectResponse{
		ID:        p.ID,
		Name:      p.Name,
		Color:     p.Color,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

// toSourceResponse deliberately omits credentials.
func toSourceResponse(src storage.Source) sourceResponse {
	return sourceResponse{
		ID:           src.ID,
		ProjectID:    src.ProjectID,
		Type:         src.Type,
		Name:         src.Name,
		Config:       src.Config,
		Active:       src.Active,
		LastSyncedAt: formatOptionalTime(src.LastSyncedAt),
		CreatedAt:    src.CreatedAt.Format(time.RFC3339),
	}
}

func toDigestResponse(d storage.Digest) digestResponse {
	return digestResponse{
		ID:           d.ID,
		Type:         d.Type,
		Status:       d.Status,
		ScheduledAt:  formatOptionalTime(d.ScheduledAt),
		SentAt:       formatOptionalTime(d.SentAt),
		MessageID:    d.MessageID,
		Content:      d.Content,
		ItemCount:    d.ItemCount,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
	}
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
