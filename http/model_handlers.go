package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"monsterlab/inference"
	"monsterlab/ml"
	"monsterlab/monster"
)

type predictRequest []ml.FeatureRow

type predictionResponse struct {
	Rarity     string  `json:"rarity"`
	Confidence float64 `json:"confidence"`
}

// handlePredict scores a batch of monsters. The whole batch fails if any row
// is invalid.
func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	var rows predictRequest
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, "body must be an array of {level, health, energy, sanity}")
		return
	}
	for i, row := range rows {
		level, ok := row["level"]
		if !ok {
			continue
		}
		if level != math.Trunc(level) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("row %d: level must be an integer", i))
			return
		}
		if err := monster.ValidateLevel(int(level)); err != nil {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("row %d: %v", i, err))
			return
		}
	}

	predictions, meta, err := h.Models.Predict(rows)
	switch {
	case errors.Is(err, inference.ErrNoModel):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, ml.ErrSchema):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.internalError(w, r, err)
		return
	}

	response := make([]predictionResponse, len(predictions))
	for i, p := range predictions {
		response[i] = predictionResponse{Rarity: p.Label, Confidence: p.Confidence}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"predictions": response,
		"model":       meta,
	})
}

func (h *handlers) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	artifact := h.Models.Artifact()
	if artifact == nil {
		writeError(w, http.StatusServiceUnavailable, inference.ErrNoModel.Error())
		return
	}
	loadedAt, _ := h.Models.LoadedAt()
	respondJSON(w, http.StatusOK, map[string]any{
		"info":      artifact.Metadata().Info(),
		"metadata":  artifact.Metadata(),
		"kind":      artifact.Kind(),
		"classes":   artifact.Classes(),
		"features":  artifact.Features(),
		"loaded_at": loadedAt.Format(ml.TimestampLayout),
	})
}

func (h *handlers) handleTrain(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Start()
	if errors.Is(err, ErrJobRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (h *handlers) handleTrainStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.Jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "training job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}
