package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

func respondErrorKind(w http.ResponseWriter, err error) {
	de := models.AsDatasetError(err)
	respondJSON(w, statusForKind(de.Kind), models.ErrorResponse{Error: de.Message, Kind: de.Kind})
}

// statusForKind maps dataset error categories onto bridge status codes
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindAlreadySynced, models.KindConstraintViolation:
		return http.StatusConflict
	case models.KindQuotaExceeded:
		return http.StatusInsufficientStorage
	case models.KindInvalidData, models.KindCodecFailure:
		return http.StatusBadRequest
	case models.KindPermissionDenied:
		return http.StatusForbidden
	case models.KindNetworkError:
		return http.StatusBadGateway
	case models.KindRemoteError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// credentialsFromRequest lifts the session's bearer token off the request.
// An absent header means an anonymous session.
func credentialsFromRequest(r *http.Request) services.Credentials {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return services.Credentials{Token: token, Authenticated: true}
	}
	return services.Credentials{}
}
