package models

import "errors"

// ErrorKind categorizes dataset failures into user-presentable buckets.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindAlreadySynced       ErrorKind = "already_synced"
	KindConstraintViolation ErrorKind = "constraint_violation"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindInvalidData         ErrorKind = "invalid_data"
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindCodecFailure        ErrorKind = "codec_failure"
	KindNetworkError        ErrorKind = "network_error"
	KindRemoteError         ErrorKind = "remote_error"
	KindUnknown             ErrorKind = "unknown"
)

// DatasetError is a typed error carrying a user-presentable message
type DatasetError struct {
	Kind    ErrorKind
	Message string
}

func (e DatasetError) Error() string {
	return e.Message
}

// NewDatasetError builds a DatasetError with a custom message
func NewDatasetError(kind ErrorKind, message string) DatasetError {
	return DatasetError{Kind: kind, Message: message}
}

var (
	ErrDatasetNotFound  = DatasetError{KindNotFound, "Dataset not found"}
	ErrImageNotFound    = DatasetError{KindNotFound, "Dataset image not found"}
	ErrAlreadySynced    = DatasetError{KindAlreadySynced, "Cannot update synced dataset"}
	ErrDuplicateDataset = DatasetError{KindConstraintViolation, "Dataset already exists"}
	ErrStorageFull      = DatasetError{KindQuotaExceeded, "Storage full"}
	ErrInvalidData      = DatasetError{KindInvalidData, "Invalid data format"}
	ErrPermissionDenied = DatasetError{KindPermissionDenied, "Observation submission is not allowed for this session"}
	ErrSyncInFlight     = errors.New("sync pass already running")
	ErrNoOrientation    = errors.New("image carries no orientation metadata")
)

// ErrorResponse is the JSON body of a failed bridge request
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind,omitempty"`
}

// KindOf extracts the error category, falling back to KindUnknown
func KindOf(err error) ErrorKind {
	var de DatasetError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// AsDatasetError coerces any error into a DatasetError for result reporting
func AsDatasetError(err error) DatasetError {
	var de DatasetError
	if errors.As(err, &de) {
		return de
	}
	return DatasetError{Kind: KindUnknown, Message: err.Error()}
}
