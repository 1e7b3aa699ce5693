package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/naturelog/client/internal/models"
)

// DatasetRepository handles dataset and attachment persistence
type DatasetRepository struct {
	db *sql.DB
}

// NewDatasetRepository creates a new DatasetRepository
func NewDatasetRepository(db *sql.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

const datasetColumns = "id, uuid, server_uuid, observation_form, data, timestamp, synced"
const imageColumns = "id, dataset_uuid, field_uuid, position, filename, original_filename, mime_type, size, blob, timestamp, synced"

// mapStoreError translates driver errors into the dataset error taxonomy
func mapStoreError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return models.ErrDuplicateDataset
		case sqlite3.ErrFull, sqlite3.ErrTooBig:
			return models.ErrStorageFull
		}
	}
	return err
}

// Insert writes a dataset and all its images as a single transaction.
// A crash can never leave the dataset with a partial image set.
func (r *DatasetRepository) Insert(ctx context.Context, dataset *models.Dataset, images []*models.DatasetImage) error {
	formJSON, dataJSON, err := marshalDataset(dataset)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (uuid, server_uuid, observation_form, data, timestamp, synced)
		VALUES (?, NULL, ?, ?, ?, 0)
	`, dataset.UUID, formJSON, dataJSON, dataset.Timestamp)
	if err != nil {
		return mapStoreError(err)
	}

	dataset.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	if err := insertImages(ctx, tx, images); err != nil {
		return err
	}

	return tx.Commit()
}

// Update overwrites form, data and timestamp of an existing dataset, resets
// its synced flag and appends any newly supplied images, all in one
// transaction. Existing images are kept; callers delete removed ones
// explicitly.
func (r *DatasetRepository) Update(ctx context.Context, dataset *models.Dataset, newImages []*models.DatasetImage) error {
	formJSON, dataJSON, err := marshalDataset(dataset)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE datasets SET observation_form = ?, data = ?, timestamp = ?, synced = 0
		WHERE uuid = ?
	`, formJSON, dataJSON, dataset.Timestamp, dataset.UUID)
	if err != nil {
		return mapStoreError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrDatasetNotFound
	}

	if err := insertImages(ctx, tx, newImages); err != nil {
		return err
	}

	return tx.Commit()
}

func insertImages(ctx context.Context, tx *sql.Tx, images []*models.DatasetImage) error {
	for _, img := range images {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO dataset_images (dataset_uuid, field_uuid, position, filename, original_filename, mime_type, size, blob, timestamp, synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, img.DatasetUUID, img.FieldUUID, img.Position, img.Filename, img.OriginalFilename, img.MimeType, img.Size, img.Blob, img.Timestamp)
		if err != nil {
			return mapStoreError(err)
		}
		if img.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func marshalDataset(dataset *models.Dataset) (formJSON, dataJSON []byte, err error) {
	formJSON, err = json.Marshal(dataset.ObservationForm)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrInvalidData, err)
	}
	dataJSON, err = json.Marshal(dataset.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrInvalidData, err)
	}
	return formJSON, dataJSON, nil
}

// GetByUUID retrieves a dataset by its client uuid, nil when absent
func (r *DatasetRepository) GetByUUID(ctx context.Context, uuid string) (*models.Dataset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+datasetColumns+` FROM datasets WHERE uuid = ?
	`, uuid)

	dataset, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dataset, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*models.Dataset, error) {
	var dataset models.Dataset
	var serverUUID sql.NullString
	var formJSON, dataJSON []byte

	err := row.Scan(
		&dataset.ID,
		&dataset.UUID,
		&serverUUID,
		&formJSON,
		&dataJSON,
		&dataset.Timestamp,
		&dataset.Synced,
	)
	if err != nil {
		return nil, err
	}

	dataset.ServerUUID = serverUUID.String
	if err := json.Unmarshal(formJSON, &dataset.ObservationForm); err != nil {
		return nil, fmt.Errorf("corrupt observation form for %s: %w", dataset.UUID, err)
	}
	if err := json.Unmarshal(dataJSON, &dataset.Data); err != nil {
		return nil, fmt.Errorf("corrupt data for %s: %w", dataset.UUID, err)
	}
	return &dataset, nil
}

// GetUnsyncedDatasets returns all local-only datasets, oldest first, so the
// user's chronological record is preserved server-side
func (r *DatasetRepository) GetUnsyncedDatasets(ctx context.Context) ([]*models.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+datasetColumns+` FROM datasets WHERE synced = 0 ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	datasets := []*models.Dataset{}
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, dataset)
	}
	return datasets, rows.Err()
}

func (r *DatasetRepository) queryImages(ctx context.Context, query string, args ...any) ([]*models.DatasetImage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := []*models.DatasetImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func scanImage(row rowScanner) (*models.DatasetImage, error) {
	var img models.DatasetImage
	err := row.Scan(
		&img.ID,
		&img.DatasetUUID,
		&img.FieldUUID,
		&img.Position,
		&img.Filename,
		&img.OriginalFilename,
		&img.MimeType,
		&img.Size,
		&img.Blob,
		&img.Timestamp,
		&img.Synced,
	)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// GetUnsyncedImages returns every image not yet accepted by the remote service
func (r *DatasetRepository) GetUnsyncedImages(ctx context.Context) ([]*models.DatasetImage, error) {
	return r.queryImages(ctx, `
		SELECT `+imageColumns+` FROM dataset_images WHERE synced = 0 ORDER BY dataset_uuid, field_uuid, position
	`)
}

// GetUnsyncedImagesForDataset scopes the unsynced image list to one dataset
func (r *DatasetRepository) GetUnsyncedImagesForDataset(ctx context.Context, datasetUUID string) ([]*models.DatasetImage, error) {
	return r.queryImages(ctx, `
		SELECT `+imageColumns+` FROM dataset_images WHERE dataset_uuid = ? AND synced = 0 ORDER BY field_uuid, position
	`, datasetUUID)
}

// GetImagesForField returns the ordered image list of one form field
func (r *DatasetRepository) GetImagesForField(ctx context.Context, datasetUUID, fieldUUID string) ([]*models.DatasetImage, error) {
	return r.queryImages(ctx, `
		SELECT `+imageColumns+` FROM dataset_images WHERE dataset_uuid = ? AND field_uuid = ? ORDER BY position ASC
	`, datasetUUID, fieldUUID)
}

// GetImageByID retrieves one attachment, nil when absent
func (r *DatasetRepository) GetImageByID(ctx context.Context, id int64) (*models.DatasetImage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+imageColumns+` FROM dataset_images WHERE id = ?
	`, id)
	img, err := scanImage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetFirstImage returns the first stored image of a dataset, nil when it has none
func (r *DatasetRepository) GetFirstImage(ctx context.Context, datasetUUID string) (*models.DatasetImage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+imageColumns+` FROM dataset_images WHERE dataset_uuid = ? ORDER BY field_uuid, position LIMIT 1
	`, datasetUUID)
	img, err := scanImage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// NextImagePosition returns the position the next image of a form field
// should take, continuing after the rows already stored.
func (r *DatasetRepository) NextImagePosition(ctx context.Context, datasetUUID, fieldUUID string) (int, error) {
	var next int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM dataset_images WHERE dataset_uuid = ? AND field_uuid = ?
	`, datasetUUID, fieldUUID).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// MarkSynced flips a dataset to synced and records the server-assigned uuid.
// Idempotent; the flag is never unset.
func (r *DatasetRepository) MarkSynced(ctx context.Context, id int64, serverUUID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE datasets SET synced = 1, server_uuid = ? WHERE id = ?
	`, serverUUID, id)
	return err
}

// MarkImageSynced flips one image to synced. Idempotent.
func (r *DatasetRepository) MarkImageSynced(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dataset_images SET synced = 1 WHERE id = ?
	`, id)
	return err
}

// Delete removes a dataset and all its images as one atomic unit
func (r *DatasetRepository) Delete(ctx context.Context, uuid string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM datasets WHERE uuid = ?", uuid)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dataset_images WHERE dataset_uuid = ?", uuid); err != nil {
		return false, err
	}

	return affected > 0, tx.Commit()
}

// DeleteImage removes one attachment row and its binary payload
func (r *DatasetRepository) DeleteImage(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM dataset_images WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CountUnsynced reports pending work for status display
func (r *DatasetRepository) CountUnsynced(ctx context.Context) (int, int, error) {
	var datasets, images int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets WHERE synced = 0").Scan(&datasets); err != nil {
		return 0, 0, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dataset_images WHERE synced = 0").Scan(&images); err != nil {
		return 0, 0, err
	}
	return datasets, images, nil
}
