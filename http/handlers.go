package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"monsterlab/db"
	"monsterlab/monster"
)

type handlers struct {
	Deps
}

// RegisterHandlers mounts the API routes on mux.
func RegisterHandlers(mux *http.ServeMux, deps Deps) {
	h := &handlers{Deps: deps}

	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/info", h.handleInfo)

	mux.HandleFunc("GET /api/database/findall", h.handleFindAll)
	mux.HandleFunc("POST /api/database/insert", h.handleInsert)
	mux.HandleFunc("POST /api/database/seed", h.handleSeed)
	mux.HandleFunc("DELETE /api/database/delete", h.handleDelete)
	mux.HandleFunc("GET /api/database/count/{field}", h.handleCount)

	mux.HandleFunc("POST /api/model/predict", h.handlePredict)
	mux.HandleFunc("GET /api/model/info", h.handleModelInfo)

	if deps.Jobs != nil {
		mux.HandleFunc("POST /api/model/train", h.handleTrain)
		mux.HandleFunc("GET /api/model/train/{id}", h.handleTrainStatus)
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /api/ws/training", deps.Hub.ServeWS)
	}
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo reports on the API, the serving model and the database.
func (h *handlers) handleInfo(w http.ResponseWriter, r *http.Request) {
	database, err := h.Store.Info(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	var model map[string]string
	if meta, ok := h.Models.Metadata(); ok {
		model = meta.Info()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"Web API": map[string]string{
			"Platform": "Go net/http",
			"Title":    Title,
			"Version":  Version,
		},
		"ML Model": model,
		"Database": database,
	})
}

func (h *handlers) handleFindAll(w http.ResponseWriter, r *http.Request) {
	var q monster.Query
	params := r.URL.Query()
	if v := params.Get("name"); v != "" {
		q.Name = &v
	}
	if v := params.Get("type"); v != "" {
		q.Type = &v
	}
	if v := params.Get("rarity"); v != "" {
		q.Rarity = &v
	}
	if v := params.Get("level"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "level must be an integer")
			return
		}
		q.Level = &level
	}

	monsters, err := h.Store.FindAll(r.Context(), q)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, monsters)
}

func (h *handlers) handleInsert(w http.ResponseWriter, r *http.Request) {
	var m monster.Monster
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Store.Insert(r.Context(), m); err != nil {
		var rangeErr *monster.LevelRangeError
		if errors.As(err, &rangeErr) {
			writeError(w, http.StatusUnprocessableEntity, rangeErr.Error())
			return
		}
		h.internalError(w, r, err)
		return
	}
	h.handleInfo(w, r)
}

func (h *handlers) handleSeed(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.Atoi(r.URL.Query().Get("amount"))
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := h.Store.Seed(r.Context(), amount); err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (h *handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Store.Delete(r.Context(), monster.Query{})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"result": "success", "deleted": deleted})
}

func (h *handlers) handleCount(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.CountBy(r.Context(), r.PathValue("field"))
	if errors.Is(err, db.ErrUnknownField) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error("request failed",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
