package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
	"github.com/naturelog/client/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// bridge binds to loopback only
		return true
	},
}

// SyncHandler triggers sync passes and streams their progress
type SyncHandler struct {
	sync     *services.SyncService
	datasets *services.DatasetService
	hub      *services.ProgressHub
	log      *observability.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync *services.SyncService, datasets *services.DatasetService, hub *services.ProgressHub) *SyncHandler {
	return &SyncHandler{
		sync:     sync,
		datasets: datasets,
		hub:      hub,
		log:      observability.GetLogger().WithField("component", "sync-handler"),
	}
}

// Trigger runs one sync pass synchronously and returns its report. A pass
// already in flight yields 409; progress still reaches the UI over the
// websocket feed.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.Run(r.Context(), credentialsFromRequest(r))
	if err != nil {
		if errors.Is(err, models.ErrSyncInFlight) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Errorf("sync pass failed: %v", err)
		respondErrorKind(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type syncStatus struct {
	PendingDatasets int `json:"pendingDatasets"`
	PendingImages   int `json:"pendingImages"`
}

// Status reports how much local data still awaits upload
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	datasets, images, err := h.datasets.CountUnsynced(r.Context())
	if err != nil {
		h.log.Errorf("failed to count unsynced records: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, syncStatus{PendingDatasets: datasets, PendingImages: images})
}

// HandleWS upgrades the connection and attaches it to the progress feed
func (h *SyncHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
