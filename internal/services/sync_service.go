package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
	"github.com/naturelog/client/internal/repository"
)

// SyncService pushes locally stored observations to the server. Only one
// pass runs at a time; concurrent triggers are rejected instead of queued.
type SyncService struct {
	repo   repository.DatasetRepo
	remote *RemoteService
	notify func(models.SyncEvent)
	mu     sync.Mutex
	log    *observability.Logger
}

// NewSyncService creates a SyncService. notify receives progress events while
// a pass runs and may be nil.
func NewSyncService(repo repository.DatasetRepo, remote *RemoteService, notify func(models.SyncEvent)) *SyncService {
	return &SyncService{
		repo:   repo,
		remote: remote,
		notify: notify,
		log:    observability.GetLogger().WithField("component", "sync"),
	}
}

func (s *SyncService) emit(event models.SyncEvent) {
	if s.notify != nil {
		s.notify(event)
	}
}

// Run executes one sync pass: unsynced datasets oldest first, each followed
// by its pending images, then a sweep for images whose dataset synced in an
// earlier pass. A dataset failure skips only that dataset; a permission
// failure aborts the pass. Returns models.ErrSyncInFlight when a pass is
// already running.
func (s *SyncService) Run(ctx context.Context, creds Credentials) (*models.SyncReport, error) {
	if !s.mu.TryLock() {
		return nil, models.ErrSyncInFlight
	}
	defer s.mu.Unlock()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "sync.pass")
	defer func() {
		span.SetAttributes(observability.Duration(time.Since(start)))
		span.End()
	}()

	report := &models.SyncReport{}

	datasets, err := s.repo.GetUnsyncedDatasets(ctx)
	if err != nil {
		return nil, err
	}
	report.Attempted = len(datasets)

	s.emit(models.SyncEvent{Type: models.SyncEventPassStarted, Total: len(datasets)})
	s.log.WithContext(ctx).Infof("sync pass started with %d pending datasets", len(datasets))

	handled := make(map[string]bool, len(datasets))
	for i, dataset := range datasets {
		handled[dataset.UUID] = true
		serverUUID, err := s.remote.CreateFromLocal(ctx, dataset, creds)
		if err != nil {
			if errors.Is(err, models.ErrPermissionDenied) {
				observability.RecordError(span, err)
				s.emit(models.SyncEvent{Type: models.SyncEventPassFinished, Completed: i, Total: len(datasets)})
				return report, err
			}
			report.Failed++
			s.log.WithContext(ctx).Errorf("dataset %s failed to sync: %v", dataset.UUID, err)
			s.emit(models.SyncEvent{
				Type:        models.SyncEventDatasetFailed,
				DatasetUUID: dataset.UUID,
				Completed:   i,
				Total:       len(datasets),
				Message:     err.Error(),
			})
			continue
		}

		if err := s.repo.MarkSynced(ctx, dataset.ID, serverUUID); err != nil {
			return report, err
		}
		report.Synced++
		s.emit(models.SyncEvent{
			Type:        models.SyncEventDatasetSynced,
			DatasetUUID: dataset.UUID,
			Completed:   i + 1,
			Total:       len(datasets),
		})

		s.uploadPendingImages(ctx, dataset.UUID, serverUUID, creds, report)
	}

	if err := s.sweepLeftoverImages(ctx, creds, handled, report); err != nil {
		s.log.WithContext(ctx).Warnf("leftover image sweep failed: %v", err)
	}

	s.emit(models.SyncEvent{Type: models.SyncEventPassFinished, Completed: report.Synced, Total: len(datasets)})
	s.log.WithContext(ctx).Infof("sync pass finished: %d synced, %d failed, %d images uploaded",
		report.Synced, report.Failed, report.ImagesUploaded)

	return report, nil
}

// uploadPendingImages pushes the unsynced attachments of one dataset. Each
// image fails independently; failures stay unsynced and are retried on the
// next pass.
func (s *SyncService) uploadPendingImages(ctx context.Context, datasetUUID, serverUUID string, creds Credentials, report *models.SyncReport) {
	images, err := s.repo.GetUnsyncedImagesForDataset(ctx, datasetUUID)
	if err != nil {
		s.log.WithContext(ctx).Errorf("could not list pending images for %s: %v", datasetUUID, err)
		return
	}

	total := len(images)
	for i, img := range images {
		s.emit(models.SyncEvent{
			Type:        models.SyncEventImageProgress,
			DatasetUUID: datasetUUID,
			Filename:    img.UploadFilename(),
			Completed:   i,
			Total:       total,
		})

		if err := s.remote.UploadStored(ctx, serverUUID, img, creds); err != nil {
			report.ImageFailures = append(report.ImageFailures, img.UploadFilename())
			s.log.WithContext(ctx).Errorf("image %s failed to upload: %v", img.UploadFilename(), err)
			s.emit(models.SyncEvent{
				Type:        models.SyncEventImageFailed,
				DatasetUUID: datasetUUID,
				Filename:    img.UploadFilename(),
				Completed:   i,
				Total:       total,
				Message:     err.Error(),
			})
			continue
		}

		if err := s.repo.MarkImageSynced(ctx, img.ID); err != nil {
			s.log.WithContext(ctx).Errorf("could not mark image %d synced: %v", img.ID, err)
			continue
		}
		report.ImagesUploaded++
	}
}

// sweepLeftoverImages retries attachments whose dataset synced in an earlier
// pass but whose own upload failed then. Datasets handled in the current pass
// are excluded so a fresh failure is not retried twice in the same pass.
func (s *SyncService) sweepLeftoverImages(ctx context.Context, creds Credentials, handled map[string]bool, report *models.SyncReport) error {
	images, err := s.repo.GetUnsyncedImages(ctx)
	if err != nil {
		return err
	}

	for _, img := range images {
		if handled[img.DatasetUUID] {
			continue
		}
		dataset, err := s.repo.GetByUUID(ctx, img.DatasetUUID)
		if err != nil {
			return err
		}
		if dataset == nil || !dataset.Synced || dataset.ServerUUID == "" {
			continue
		}

		if err := s.remote.UploadStored(ctx, dataset.ServerUUID, img, creds); err != nil {
			report.ImageFailures = append(report.ImageFailures, img.UploadFilename())
			s.log.WithContext(ctx).Errorf("leftover image %s failed to upload: %v", img.UploadFilename(), err)
			continue
		}
		if err := s.repo.MarkImageSynced(ctx, img.ID); err != nil {
			return err
		}
		report.ImagesUploaded++
	}
	return nil
}
