package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
	"github.com/naturelog/client/internal/services"
)

// RemoteHandler exposes the online submission path: observations sent
// straight to the server without a local copy.
type RemoteHandler struct {
	remote *services.RemoteService
	hub    *services.ProgressHub
	log    *observability.Logger
}

// NewRemoteHandler creates a new RemoteHandler
func NewRemoteHandler(remote *services.RemoteService, hub *services.ProgressHub) *RemoteHandler {
	return &RemoteHandler{
		remote: remote,
		hub:    hub,
		log:    observability.GetLogger().WithField("component", "remote-handler"),
	}
}

// progressCallbacks feed per-image upload progress to the websocket hub so
// the UI can render it live.
func (h *RemoteHandler) progressCallbacks() (services.ProgressFunc, services.ErrorFunc) {
	onProgress := func(completed, total int, filename string) {
		h.hub.Publish(models.SyncEvent{
			Type:      models.SyncEventImageProgress,
			Filename:  filename,
			Completed: completed,
			Total:     total,
		})
	}
	onError := func(filename string, err error) {
		h.hub.Publish(models.SyncEvent{
			Type:     models.SyncEventImageFailed,
			Filename: filename,
			Message:  err.Error(),
		})
	}
	return onProgress, onError
}

// Submit sends a new observation directly to the server
func (h *RemoteHandler) Submit(w http.ResponseWriter, r *http.Request) {
	form, data, err := parseObservation(r)
	if err != nil {
		respondErrorKind(w, err)
		return
	}

	onProgress, onError := h.progressCallbacks()
	result := h.remote.Submit(r.Context(), form, data, credentialsFromRequest(r), onProgress, onError)
	if !result.Success {
		respondJSON(w, statusForKind(result.Kind), result)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// Update overwrites a server-side observation
func (h *RemoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	form, data, err := parseObservation(r)
	if err != nil {
		respondErrorKind(w, err)
		return
	}

	onProgress, onError := h.progressCallbacks()
	result := h.remote.SubmitUpdate(r.Context(), uuid, form, data, credentialsFromRequest(r), onProgress, onError)
	if !result.Success {
		respondJSON(w, statusForKind(result.Kind), result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Delete removes a server-side observation
func (h *RemoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	deleted, err := h.remote.Delete(r.Context(), uuid, credentialsFromRequest(r))
	if err != nil {
		h.log.Errorf("remote delete of %s failed: %v", uuid, err)
		respondErrorKind(w, err)
		return
	}
	if !deleted {
		respondErrorKind(w, models.ErrDatasetNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get reads one observation from the server
func (h *RemoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	dataset, err := h.remote.Fetch(r.Context(), uuid)
	if err != nil {
		h.log.Errorf("remote fetch of %s failed: %v", uuid, err)
		respondErrorKind(w, err)
		return
	}
	if dataset == nil {
		respondErrorKind(w, models.ErrDatasetNotFound)
		return
	}
	respondJSON(w, http.StatusOK, dataset)
}

type datasetPage struct {
	Count   int               `json:"count"`
	Results []*models.Dataset `json:"results"`
}

// List pages through this device's server-side observations
func (h *RemoteHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25)
	offset := queryInt(r, "offset", 0)

	results, count, err := h.remote.List(r.Context(), credentialsFromRequest(r), limit, offset)
	if err != nil {
		h.log.Errorf("remote list failed: %v", err)
		respondErrorKind(w, err)
		return
	}
	respondJSON(w, http.StatusOK, datasetPage{Count: count, Results: results})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
