package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldMap maps field uuids to their recorded values. Values are
// JSON-decoded scalars or objects; picture fields carry []SourceFile until
// extraction moves them out.
type FieldMap map[string]any

// Clone returns a shallow copy of the map
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SourceFile is a raw user-supplied image before resizing
type SourceFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Dataset is one locally recorded observation
type Dataset struct {
	ID              int64            `json:"id"`
	UUID            string           `json:"uuid"`
	ServerUUID      string           `json:"serverUuid,omitempty"`
	ObservationForm *ObservationForm `json:"observationForm"`
	Data            FieldMap         `json:"data"`
	Timestamp       int64            `json:"timestamp"`
	Synced          bool             `json:"synced"`
}

// NewDataset creates an unsynced Dataset with a fresh client uuid
func NewDataset(form *ObservationForm, data FieldMap) (*Dataset, error) {
	if form == nil || form.UUID == "" {
		return nil, ErrInvalidData
	}
	if data == nil {
		data = FieldMap{}
	}
	return &Dataset{
		UUID:            uuid.NewString(),
		ObservationForm: form,
		Data:            data,
		Timestamp:       time.Now().UnixMilli(),
		Synced:          false,
	}, nil
}

// DatasetImage is one binary attachment of a picture field
type DatasetImage struct {
	ID               int64  `json:"id"`
	DatasetUUID      string `json:"datasetUuid"`
	FieldUUID        string `json:"fieldUuid"`
	Position         int    `json:"position"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"originalFilename"`
	MimeType         string `json:"mimeType"`
	Size             int64  `json:"size"`
	Blob             []byte `json:"-"`
	Timestamp        int64  `json:"timestamp"`
	Synced           bool   `json:"synced"`
}

// UploadFilename is the name an image is transmitted under. Uploads are
// re-encoded as JPEG, so the extension is rewritten.
func (i *DatasetImage) UploadFilename() string {
	return JPEGFilename(i.Filename)
}

// JPEGFilename swaps the file extension for .jpg
func JPEGFilename(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return name + ".jpg"
	}
	return strings.TrimSuffix(name, ext) + ".jpg"
}

// SaveResult reports the outcome of a local create/update
type SaveResult struct {
	Success bool      `json:"success"`
	UUID    string    `json:"uuid,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"errorKind,omitempty"`
}

// SaveOK builds a successful SaveResult
func SaveOK(uuid string) SaveResult {
	return SaveResult{Success: true, UUID: uuid}
}

// SaveFailed builds a failed SaveResult from any error
func SaveFailed(err error) SaveResult {
	de := AsDatasetError(err)
	return SaveResult{Success: false, Error: de.Message, Kind: de.Kind}
}

// StorageUsage is a best-effort snapshot of local storage consumption
type StorageUsage struct {
	Used        uint64  `json:"used"`
	Quota       uint64  `json:"quota"`
	UsedPercent float64 `json:"usedPercent"`
	Persistent  bool    `json:"isPersistent"`
	Supported   bool    `json:"supported"`
}

// SyncEvent is emitted while a sync pass runs, for UI progress display
type SyncEvent struct {
	Type        string `json:"type"`
	DatasetUUID string `json:"datasetUuid,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Message     string `json:"message,omitempty"`
}

const (
	SyncEventPassStarted   = "pass_started"
	SyncEventDatasetSynced = "dataset_synced"
	SyncEventDatasetFailed = "dataset_failed"
	SyncEventImageProgress = "image_progress"
	SyncEventImageFailed   = "image_failed"
	SyncEventPassFinished  = "pass_finished"
)

// SyncReport summarizes one sync pass
type SyncReport struct {
	Attempted      int      `json:"attempted"`
	Synced         int      `json:"synced"`
	Failed         int      `json:"failed"`
	ImagesUploaded int      `json:"imagesUploaded"`
	ImageFailures  []string `json:"imageFailures,omitempty"`
}
