package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturelog/client/internal/capability"
	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/repository"
)

func newDatasetService(t *testing.T) (*DatasetService, repository.DatasetRepo) {
	t.Helper()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.NewDatasetRepository(db)
	svc := NewDatasetService(repo, NewCodecService(), capability.NullStorage{}, ImageProfile{MaxEdge: 100, Quality: 90})
	return svc, repo
}

func observationData(t *testing.T) models.FieldMap {
	t.Helper()
	return models.FieldMap{
		"field-notes": "two specimens near the pond",
		"field-a": []models.SourceFile{
			{Name: "one.png", MimeType: "image/png", Data: encodePNG(t, 200, 100)},
			{Name: "two.png", MimeType: "image/png", Data: encodePNG(t, 50, 50)},
		},
	}
}

func TestDatasetService_Create(t *testing.T) {
	svc, repo := newDatasetService(t)
	ctx := context.Background()

	t.Run("stores record and resized attachments", func(t *testing.T) {
		result := svc.Create(ctx, pictureForm(), observationData(t))
		require.True(t, result.Success, result.Error)
		require.NotEmpty(t, result.UUID)

		dataset, err := repo.GetByUUID(ctx, result.UUID)
		require.NoError(t, err)
		require.NotNil(t, dataset)

		assert.False(t, dataset.Synced)
		assert.Equal(t, "two specimens near the pond", dataset.Data["field-notes"])
		assert.NotContains(t, dataset.Data, "field-a")

		images, err := repo.GetImagesForField(ctx, result.UUID, "field-a")
		require.NoError(t, err)
		require.Len(t, images, 2)
		assert.Equal(t, 0, images[0].Position)
		assert.Equal(t, "one.png", images[0].OriginalFilename)
		assert.Equal(t, "image/png", images[0].MimeType)
		assert.EqualValues(t, len(images[0].Blob), images[0].Size)
		assert.False(t, images[0].Synced)
	})

	t.Run("rejects a nil form", func(t *testing.T) {
		result := svc.Create(ctx, nil, models.FieldMap{})
		assert.False(t, result.Success)
		assert.Equal(t, models.KindInvalidData, result.Kind)
	})

	t.Run("an undecodable image aborts the whole create", func(t *testing.T) {
		before, err := repo.GetUnsyncedDatasets(ctx)
		require.NoError(t, err)

		data := models.FieldMap{
			"field-a": []models.SourceFile{
				{Name: "good.png", MimeType: "image/png", Data: encodePNG(t, 10, 10)},
				{Name: "bad.jpg", MimeType: "image/jpeg", Data: []byte("garbage")},
			},
		}
		result := svc.Create(ctx, pictureForm(), data)
		assert.False(t, result.Success)
		assert.Equal(t, models.KindCodecFailure, result.Kind)

		after, err := repo.GetUnsyncedDatasets(ctx)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})
}

func TestDatasetService_Update(t *testing.T) {
	svc, repo := newDatasetService(t)
	ctx := context.Background()

	t.Run("overwrites an unsynced record", func(t *testing.T) {
		created := svc.Create(ctx, pictureForm(), models.FieldMap{"field-notes": "first draft"})
		require.True(t, created.Success)

		result := svc.Update(ctx, created.UUID, pictureForm(), models.FieldMap{"field-notes": "corrected"})
		require.True(t, result.Success, result.Error)

		dataset, err := repo.GetByUUID(ctx, created.UUID)
		require.NoError(t, err)
		assert.Equal(t, "corrected", dataset.Data["field-notes"])
		assert.False(t, dataset.Synced)
	})

	t.Run("new images continue after existing positions", func(t *testing.T) {
		created := svc.Create(ctx, pictureForm(), observationData(t))
		require.True(t, created.Success, created.Error)

		update := models.FieldMap{
			"field-notes": "added a third shot",
			"field-a": []models.SourceFile{
				{Name: "three.png", MimeType: "image/png", Data: encodePNG(t, 30, 30)},
			},
		}
		result := svc.Update(ctx, created.UUID, pictureForm(), update)
		require.True(t, result.Success, result.Error)

		images, err := repo.GetImagesForField(ctx, created.UUID, "field-a")
		require.NoError(t, err)
		require.Len(t, images, 3)
		assert.Equal(t, []int{0, 1, 2}, []int{images[0].Position, images[1].Position, images[2].Position})
		assert.Equal(t, "three.png", images[2].OriginalFilename)
	})

	t.Run("missing record reports not found", func(t *testing.T) {
		result := svc.Update(ctx, "no-such-uuid", pictureForm(), models.FieldMap{})
		assert.False(t, result.Success)
		assert.Equal(t, models.KindNotFound, result.Kind)
		assert.Equal(t, "Dataset not found", result.Error)
	})

	t.Run("synced records are immutable locally", func(t *testing.T) {
		created := svc.Create(ctx, pictureForm(), models.FieldMap{"field-notes": "original"})
		require.True(t, created.Success)

		stored, err := repo.GetByUUID(ctx, created.UUID)
		require.NoError(t, err)
		require.NoError(t, repo.MarkSynced(ctx, stored.ID, "server-1"))

		result := svc.Update(ctx, created.UUID, pictureForm(), models.FieldMap{"field-notes": "tampered"})
		assert.False(t, result.Success)
		assert.Equal(t, models.KindAlreadySynced, result.Kind)

		// nothing about the record changed
		unchanged, err := repo.GetByUUID(ctx, created.UUID)
		require.NoError(t, err)
		assert.Equal(t, "original", unchanged.Data["field-notes"])
		assert.Equal(t, stored.Timestamp, unchanged.Timestamp)
		assert.True(t, unchanged.Synced)
	})
}

func TestDatasetService_StorageUsage(t *testing.T) {
	svc, _ := newDatasetService(t)

	// NullStorage cannot estimate anything
	usage := svc.StorageUsage(context.Background())
	assert.False(t, usage.Supported)
}
