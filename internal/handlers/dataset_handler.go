package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
	"github.com/naturelog/client/internal/services"
)

const maxObservationBytes = 100 << 20

// DatasetHandler exposes the local dataset store to the UI over the
// loopback bridge.
type DatasetHandler struct {
	datasets *services.DatasetService
	log      *observability.Logger
}

// NewDatasetHandler creates a new DatasetHandler
func NewDatasetHandler(datasets *services.DatasetService) *DatasetHandler {
	return &DatasetHandler{
		datasets: datasets,
		log:      observability.GetLogger().WithField("component", "dataset-handler"),
	}
}

// parseObservation decodes a multipart observation request. The
// "observationForm" and "data" parts carry JSON; every other part is a file
// upload named by its picture field's uuid.
func parseObservation(r *http.Request) (*models.ObservationForm, models.FieldMap, error) {
	if err := r.ParseMultipartForm(maxObservationBytes); err != nil {
		return nil, nil, models.NewDatasetError(models.KindInvalidData, "Request must be multipart/form-data")
	}

	form := &models.ObservationForm{}
	if err := json.Unmarshal([]byte(r.FormValue("observationForm")), form); err != nil {
		return nil, nil, models.NewDatasetError(models.KindInvalidData, "Invalid observationForm payload")
	}

	data := models.FieldMap{}
	if raw := r.FormValue("data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, nil, models.NewDatasetError(models.KindInvalidData, "Invalid data payload")
		}
	}

	for fieldUUID, headers := range r.MultipartForm.File {
		var files []models.SourceFile
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				return nil, nil, models.NewDatasetError(models.KindInvalidData, "Could not open uploaded file "+header.Filename)
			}
			content, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return nil, nil, models.NewDatasetError(models.KindInvalidData, "Could not read uploaded file "+header.Filename)
			}
			files = append(files, models.SourceFile{
				Name:     header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Data:     content,
			})
		}
		if len(files) > 0 {
			data[fieldUUID] = files
		}
	}

	return form, data, nil
}

// Create stores a new observation locally
func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	form, data, err := parseObservation(r)
	if err != nil {
		respondErrorKind(w, err)
		return
	}

	result := h.datasets.Create(r.Context(), form, data)
	if !result.Success {
		respondJSON(w, statusForKind(result.Kind), result)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// Update overwrites an unsynced observation
func (h *DatasetHandler) Update(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	form, data, err := parseObservation(r)
	if err != nil {
		respondErrorKind(w, err)
		return
	}

	result := h.datasets.Update(r.Context(), uuid, form, data)
	if !result.Success {
		respondJSON(w, statusForKind(result.Kind), result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns one stored observation
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	dataset, err := h.datasets.Get(r.Context(), uuid)
	if err != nil {
		h.log.Errorf("failed to load dataset %s: %v", uuid, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if dataset == nil {
		respondErrorKind(w, models.ErrDatasetNotFound)
		return
	}
	respondJSON(w, http.StatusOK, dataset)
}

// Delete removes an observation and all its images
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	deleted, err := h.datasets.Delete(r.Context(), uuid)
	if err != nil {
		h.log.Errorf("failed to delete dataset %s: %v", uuid, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !deleted {
		respondErrorKind(w, models.ErrDatasetNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FieldImages lists the attachments of one picture field, in position order
func (h *DatasetHandler) FieldImages(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	fieldUUID := chi.URLParam(r, "fieldUuid")

	images, err := h.datasets.ImagesForField(r.Context(), uuid, fieldUUID)
	if err != nil {
		h.log.Errorf("failed to list images for %s/%s: %v", uuid, fieldUUID, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, images)
}

// ImageBlob serves one stored attachment. Stored blobs are always JPEG.
func (h *DatasetHandler) ImageBlob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid image id")
		return
	}

	img, err := h.datasets.GetImage(r.Context(), id)
	if err != nil {
		h.log.Errorf("failed to load image %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if img == nil {
		respondErrorKind(w, models.ErrImageNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Blob)))
	w.WriteHeader(http.StatusOK)
	w.Write(img.Blob)
}

// DeleteImage removes one attachment without touching its dataset
func (h *DatasetHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid image id")
		return
	}

	deleted, err := h.datasets.DeleteImage(r.Context(), id)
	if err != nil {
		h.log.Errorf("failed to delete image %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !deleted {
		respondErrorKind(w, models.ErrImageNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// previewResponse points the UI at either a stored image or a bundled
// taxon placeholder graphic.
type previewResponse struct {
	ImageID     int64  `json:"imageId,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Preview resolves the list thumbnail for a dataset: its first stored image
// when one exists, otherwise a placeholder name derived from the taxon.
func (h *DatasetHandler) Preview(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	dataset, err := h.datasets.Get(r.Context(), uuid)
	if err != nil {
		h.log.Errorf("failed to load dataset %s: %v", uuid, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if dataset == nil {
		respondErrorKind(w, models.ErrDatasetNotFound)
		return
	}

	img, err := h.datasets.FirstImage(r.Context(), uuid)
	if err != nil {
		h.log.Errorf("failed to load preview for %s: %v", uuid, err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if img != nil {
		respondJSON(w, http.StatusOK, previewResponse{ImageID: img.ID})
		return
	}
	respondJSON(w, http.StatusOK, previewResponse{Placeholder: services.PlaceholderImageName(dataset)})
}

// fieldStatesRequest carries a form and the currently selected taxon
type fieldStatesRequest struct {
	ObservationForm *models.ObservationForm `json:"observationForm"`
	Taxon           *models.Taxon           `json:"taxon"`
}

// FieldStates resolves per-field visibility for the UI as the user picks a
// taxon.
func (h *DatasetHandler) FieldStates(w http.ResponseWriter, r *http.Request) {
	req := fieldStatesRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ObservationForm == nil {
		respondError(w, http.StatusBadRequest, "Invalid field state request")
		return
	}
	respondJSON(w, http.StatusOK, services.ResolveFieldStates(req.ObservationForm, req.Taxon))
}

// Storage reports local storage usage for the settings screen
func (h *DatasetHandler) Storage(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.datasets.StorageUsage(r.Context()))
}
