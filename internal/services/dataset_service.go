package services

import (
	"context"
	"fmt"
	"time"

	"github.com/naturelog/client/internal/capability"
	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
	"github.com/naturelog/client/internal/repository"
)

// DatasetService is the local dataset store: durable client-side storage of
// observations and their image attachments with synchronization bookkeeping.
type DatasetService struct {
	repo    repository.DatasetRepo
	codec   *CodecService
	storage capability.Storage
	profile ImageProfile
	log     *observability.Logger
}

// NewDatasetService creates a new DatasetService. The profile bounds images
// written to local storage; constrained platforms pass a tighter one.
func NewDatasetService(repo repository.DatasetRepo, codec *CodecService, storage capability.Storage, profile ImageProfile) *DatasetService {
	return &DatasetService{
		repo:    repo,
		codec:   codec,
		storage: storage,
		profile: profile,
		log:     observability.GetLogger().WithField("component", "dataset-store"),
	}
}

// Create persists a new observation. Picture fields are extracted out of the
// payload, resized and stored as attachment rows; the record and all its
// images are written in one transaction, so a resize or storage failure
// leaves nothing behind.
func (s *DatasetService) Create(ctx context.Context, form *models.ObservationForm, fields models.FieldMap) models.SaveResult {
	ctx, span := observability.StartSpan(ctx, "dataset.save")
	defer span.End()
	span.SetAttributes(observability.Operation("create"))

	images, remaining := ExtractImages(form, fields)

	dataset, err := models.NewDataset(form, remaining)
	if err != nil {
		return models.SaveFailed(err)
	}

	rows, err := s.buildImageRows(images, dataset.UUID, dataset.Timestamp)
	if err != nil {
		return models.SaveFailed(err)
	}

	if len(rows) > 0 {
		s.requestPersistence(ctx)
	}

	if err := s.repo.Insert(ctx, dataset, rows); err != nil {
		observability.RecordError(span, err)
		s.log.WithContext(ctx).Errorf("failed to create dataset: %v", err)
		return models.SaveFailed(err)
	}

	span.SetAttributes(observability.DatasetUUID(dataset.UUID))
	return models.SaveOK(dataset.UUID)
}

// Update overwrites an existing unsynced observation. Records accepted by
// the remote service are immutable locally; edits to them must go through
// the remote path.
func (s *DatasetService) Update(ctx context.Context, uuid string, form *models.ObservationForm, fields models.FieldMap) models.SaveResult {
	ctx, span := observability.StartSpan(ctx, "dataset.save")
	defer span.End()
	span.SetAttributes(observability.Operation("update"), observability.DatasetUUID(uuid))

	existing, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return models.SaveFailed(err)
	}
	if existing == nil {
		return models.SaveFailed(models.ErrDatasetNotFound)
	}
	if existing.Synced {
		return models.SaveFailed(models.ErrAlreadySynced)
	}

	images, remaining := ExtractImages(form, fields)

	dataset := &models.Dataset{
		UUID:            uuid,
		ObservationForm: form,
		Data:            remaining,
		Timestamp:       time.Now().UnixMilli(),
	}

	rows, err := s.buildImageRows(images, uuid, dataset.Timestamp)
	if err != nil {
		return models.SaveFailed(err)
	}
	if err := s.continuePositions(ctx, uuid, rows); err != nil {
		return models.SaveFailed(err)
	}

	if len(rows) > 0 {
		s.requestPersistence(ctx)
	}

	if err := s.repo.Update(ctx, dataset, rows); err != nil {
		observability.RecordError(span, err)
		s.log.WithContext(ctx).Errorf("failed to update dataset %s: %v", uuid, err)
		return models.SaveFailed(err)
	}

	return models.SaveOK(uuid)
}

// buildImageRows resizes every extracted file and shapes it into an
// attachment row. Positions follow input array order per field. A single
// resize failure aborts the whole batch.
func (s *DatasetService) buildImageRows(images *ExtractedImages, datasetUUID string, timestamp int64) ([]*models.DatasetImage, error) {
	var rows []*models.DatasetImage

	for _, fieldUUID := range images.Fields() {
		for position, file := range images.Files(fieldUUID) {
			resized, err := s.codec.Resize(file.Data, file.Name, s.profile)
			if err != nil {
				return nil, models.NewDatasetError(models.KindCodecFailure,
					fmt.Sprintf("Failed to resize image for field %s at position %d", fieldUUID, position))
			}

			rows = append(rows, &models.DatasetImage{
				DatasetUUID:      datasetUUID,
				FieldUUID:        fieldUUID,
				Position:         position,
				Filename:         file.Name,
				OriginalFilename: file.Name,
				MimeType:         file.MimeType,
				Size:             int64(len(resized)),
				Blob:             resized,
				Timestamp:        timestamp,
			})
		}
	}

	return rows, nil
}

// continuePositions shifts newly built rows so they number on from the
// images a field already holds. Updates keep existing rows, so restarting
// at zero would collide with them.
func (s *DatasetService) continuePositions(ctx context.Context, datasetUUID string, rows []*models.DatasetImage) error {
	next := map[string]int{}
	for _, row := range rows {
		pos, ok := next[row.FieldUUID]
		if !ok {
			var err error
			pos, err = s.repo.NextImagePosition(ctx, datasetUUID, row.FieldUUID)
			if err != nil {
				return err
			}
		}
		row.Position = pos
		next[row.FieldUUID] = pos + 1
	}
	return nil
}

func (s *DatasetService) requestPersistence(ctx context.Context) {
	granted, err := s.storage.RequestPersistent(ctx)
	if err != nil {
		s.log.Warnf("persistent storage request failed: %v", err)
		return
	}
	if granted {
		s.log.Debug("images will be protected from auto-cleanup")
	} else {
		s.log.Warn("storage may be cleaned up automatically")
	}
}

// Get retrieves a dataset by uuid, nil when absent
func (s *DatasetService) Get(ctx context.Context, uuid string) (*models.Dataset, error) {
	return s.repo.GetByUUID(ctx, uuid)
}

// Delete removes a dataset and all its images atomically
func (s *DatasetService) Delete(ctx context.Context, uuid string) (bool, error) {
	return s.repo.Delete(ctx, uuid)
}

// DeleteImage removes one attachment without touching its parent dataset
func (s *DatasetService) DeleteImage(ctx context.Context, id int64) (bool, error) {
	return s.repo.DeleteImage(ctx, id)
}

// GetImage retrieves one attachment by id, nil when absent
func (s *DatasetService) GetImage(ctx context.Context, id int64) (*models.DatasetImage, error) {
	return s.repo.GetImageByID(ctx, id)
}

// FirstImage returns the dataset's first stored attachment, nil when it has
// none. Used for list previews.
func (s *DatasetService) FirstImage(ctx context.Context, datasetUUID string) (*models.DatasetImage, error) {
	return s.repo.GetFirstImage(ctx, datasetUUID)
}

// ImagesForField returns the images answering one form field, ordered by position
func (s *DatasetService) ImagesForField(ctx context.Context, datasetUUID, fieldUUID string) ([]*models.DatasetImage, error) {
	return s.repo.GetImagesForField(ctx, datasetUUID, fieldUUID)
}

// UnsyncedDatasets lists local-only observations, oldest first
func (s *DatasetService) UnsyncedDatasets(ctx context.Context) ([]*models.Dataset, error) {
	return s.repo.GetUnsyncedDatasets(ctx)
}

// UnsyncedImages lists images not yet uploaded, optionally scoped to one dataset
func (s *DatasetService) UnsyncedImages(ctx context.Context, datasetUUID string) ([]*models.DatasetImage, error) {
	if datasetUUID == "" {
		return s.repo.GetUnsyncedImages(ctx)
	}
	return s.repo.GetUnsyncedImagesForDataset(ctx, datasetUUID)
}

// StorageUsage reports local storage diagnostics for UI display. Best-effort;
// unsupported platforms get a zeroed, unsupported result instead of an error.
func (s *DatasetService) StorageUsage(ctx context.Context) models.StorageUsage {
	usage, err := s.storage.EstimateUsage(ctx)
	if err != nil {
		return models.StorageUsage{Supported: false}
	}

	percent := 0.0
	if usage.Quota > 0 {
		percent = float64(usage.Used) / float64(usage.Quota) * 100
	}

	return models.StorageUsage{
		Used:        usage.Used,
		Quota:       usage.Quota,
		UsedPercent: percent,
		Persistent:  usage.Persistent,
		Supported:   true,
	}
}

// CountUnsynced reports pending datasets and images
func (s *DatasetService) CountUnsynced(ctx context.Context) (int, int, error) {
	return s.repo.CountUnsynced(ctx)
}
