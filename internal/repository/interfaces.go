package repository

import (
	"context"

	"github.com/naturelog/client/internal/models"
)

// DatasetRepo defines the interface for local dataset persistence
type DatasetRepo interface {
	Insert(ctx context.Context, dataset *models.Dataset, images []*models.DatasetImage) error
	Update(ctx context.Context, dataset *models.Dataset, newImages []*models.DatasetImage) error
	GetByUUID(ctx context.Context, uuid string) (*models.Dataset, error)
	GetUnsyncedDatasets(ctx context.Context) ([]*models.Dataset, error)
	GetUnsyncedImages(ctx context.Context) ([]*models.DatasetImage, error)
	GetUnsyncedImagesForDataset(ctx context.Context, datasetUUID string) ([]*models.DatasetImage, error)
	GetImagesForField(ctx context.Context, datasetUUID, fieldUUID string) ([]*models.DatasetImage, error)
	GetImageByID(ctx context.Context, id int64) (*models.DatasetImage, error)
	GetFirstImage(ctx context.Context, datasetUUID string) (*models.DatasetImage, error)
	NextImagePosition(ctx context.Context, datasetUUID, fieldUUID string) (int, error)
	MarkSynced(ctx context.Context, id int64, serverUUID string) error
	MarkImageSynced(ctx context.Context, id int64) error
	Delete(ctx context.Context, uuid string) (bool, error)
	DeleteImage(ctx context.Context, id int64) (bool, error)
	CountUnsynced(ctx context.Context) (datasets, images int, err error)
}
