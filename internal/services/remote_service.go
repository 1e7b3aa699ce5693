package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/naturelog/client/internal/api"
	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
)

// Credentials identifies the submitting session. Token may be empty for
// anonymous submissions when the deployment allows them.
type Credentials struct {
	Token         string
	Authenticated bool
}

// PermissionChecker gates observation submission
type PermissionChecker interface {
	CanSubmit(creds Credentials) bool
}

// SettingsPermission allows authenticated sessions always, anonymous ones
// only when the deployment opts in.
type SettingsPermission struct {
	AllowAnonymous bool
}

func (p SettingsPermission) CanSubmit(creds Credentials) bool {
	return p.AllowAnonymous || creds.Authenticated
}

// ProgressFunc is invoked around each image upload
type ProgressFunc func(completed, total int, filename string)

// ErrorFunc is invoked for each image that could not be uploaded
type ErrorFunc func(filename string, err error)

// RemoteService is the gateway to the observation server. It owns schema
// registration, dataset submission and the sequential image upload loop.
type RemoteService struct {
	api      api.ObservationAPI
	codec    *CodecService
	perm     PermissionChecker
	clientID string
	platform string
	profile  ImageProfile
	log      *observability.Logger
}

// NewRemoteService creates a RemoteService. The profile bounds images resized
// for transmission of direct online submissions.
func NewRemoteService(apiClient api.ObservationAPI, codec *CodecService, perm PermissionChecker, clientID, platform string, profile ImageProfile) *RemoteService {
	return &RemoteService{
		api:      apiClient,
		codec:    codec,
		perm:     perm,
		clientID: clientID,
		platform: platform,
		profile:  profile,
		log:      observability.GetLogger().WithField("component", "remote-gateway"),
	}
}

// ensureFormRegistered probes the server for the dataset's schema and
// registers it on a 404. A registration failure aborts the submission before
// any dataset is created, so the server never holds a dataset it cannot
// interpret.
func (s *RemoteService) ensureFormRegistered(ctx context.Context, form *models.ObservationForm, token string) error {
	probe, err := s.api.GetObservationForm(ctx, form.UUID, form.Version)
	if err != nil {
		return err
	}
	if probe.OK() {
		return nil
	}
	if !probe.NotFound() {
		return models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("observation form lookup failed with status %d", probe.StatusCode))
	}

	s.log.WithContext(ctx).Infof("registering observation form %s version %d", form.UUID, form.Version)
	registered, err := s.api.PostObservationForm(ctx, form, token)
	if err != nil {
		return err
	}
	if !registered.OK() {
		return models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("observation form registration failed with status %d", registered.StatusCode))
	}
	return nil
}

// Submit sends a new observation straight to the server, bypassing local
// storage. Picture fields are resized and uploaded one at a time after the
// dataset record is accepted; an image failure is reported through onError
// and does not undo the submission.
func (s *RemoteService) Submit(ctx context.Context, form *models.ObservationForm, fields models.FieldMap, creds Credentials, onProgress ProgressFunc, onError ErrorFunc) models.SaveResult {
	if !s.perm.CanSubmit(creds) {
		return models.SaveFailed(models.ErrPermissionDenied)
	}

	images, remaining := ExtractImages(form, fields)

	if err := s.ensureFormRegistered(ctx, form, creds.Token); err != nil {
		return models.SaveFailed(err)
	}

	result, err := s.api.CreateDataset(ctx, remaining, form, s.clientID, s.platform, creds.Token)
	if err != nil {
		return models.SaveFailed(err)
	}
	if !result.OK() {
		return models.SaveFailed(models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("dataset submission failed with status %d", result.StatusCode)))
	}
	serverUUID := result.UUID()
	if serverUUID == "" {
		return models.SaveFailed(models.NewDatasetError(models.KindRemoteError, "server response carried no dataset uuid"))
	}

	s.uploadSourceFiles(ctx, serverUUID, images, creds.Token, onProgress, onError)

	return models.SaveOK(serverUUID)
}

// SubmitUpdate overwrites a server-side observation. New picture files are
// uploaded after the record update, like Submit.
func (s *RemoteService) SubmitUpdate(ctx context.Context, serverUUID string, form *models.ObservationForm, fields models.FieldMap, creds Credentials, onProgress ProgressFunc, onError ErrorFunc) models.SaveResult {
	if !s.perm.CanSubmit(creds) {
		return models.SaveFailed(models.ErrPermissionDenied)
	}

	images, remaining := ExtractImages(form, fields)

	if err := s.ensureFormRegistered(ctx, form, creds.Token); err != nil {
		return models.SaveFailed(err)
	}

	result, err := s.api.UpdateDataset(ctx, serverUUID, remaining, form, s.clientID, s.platform, creds.Token)
	if err != nil {
		return models.SaveFailed(err)
	}
	if result.NotFound() {
		return models.SaveFailed(models.ErrDatasetNotFound)
	}
	if !result.OK() {
		return models.SaveFailed(models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("dataset update failed with status %d", result.StatusCode)))
	}

	s.uploadSourceFiles(ctx, serverUUID, images, creds.Token, onProgress, onError)

	return models.SaveOK(serverUUID)
}

// uploadSourceFiles resizes and transmits raw picture files sequentially,
// in form field order. Failures are reported per file and the loop
// continues with the next one.
func (s *RemoteService) uploadSourceFiles(ctx context.Context, serverUUID string, images *ExtractedImages, token string, onProgress ProgressFunc, onError ErrorFunc) {
	total := images.Total()
	completed := 0

	for _, fieldUUID := range images.Fields() {
		for _, file := range images.Files(fieldUUID) {
			name := models.JPEGFilename(file.Name)
			if onProgress != nil {
				onProgress(completed, total, name)
			}

			err := s.uploadOne(ctx, serverUUID, fieldUUID, file, token)
			if err != nil {
				s.log.WithContext(ctx).Errorf("image upload failed for %s: %v", name, err)
				if onError != nil {
					onError(name, err)
				}
			} else {
				completed++
			}

			if onProgress != nil {
				onProgress(completed, total, name)
			}
		}
	}
}

func (s *RemoteService) uploadOne(ctx context.Context, serverUUID, fieldUUID string, file models.SourceFile, token string) (err error) {
	ctx, span := observability.StartSpan(ctx, "dataset.image.upload")
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()
	span.SetAttributes(observability.FieldUUID(fieldUUID))

	blob, err := s.codec.Resize(file.Data, file.Name, s.profile)
	if err != nil {
		return err
	}

	result, err := s.api.CreateDatasetImage(ctx, serverUUID, fieldUUID, blob, models.JPEGFilename(file.Name), token)
	if err != nil {
		return err
	}
	if !result.OK() {
		return models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("image upload failed with status %d", result.StatusCode))
	}
	return nil
}

// CreateFromLocal pushes a locally stored dataset to the server and returns
// the server-assigned uuid. Stored attachments are not transmitted here; the
// caller uploads them afterwards so it can track each one individually.
func (s *RemoteService) CreateFromLocal(ctx context.Context, dataset *models.Dataset, creds Credentials) (string, error) {
	if !s.perm.CanSubmit(creds) {
		return "", models.ErrPermissionDenied
	}

	if err := s.ensureFormRegistered(ctx, dataset.ObservationForm, creds.Token); err != nil {
		return "", err
	}

	result, err := s.api.CreateDataset(ctx, dataset.Data, dataset.ObservationForm, s.clientID, s.platform, creds.Token)
	if err != nil {
		return "", err
	}
	if !result.OK() {
		return "", models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("dataset submission failed with status %d", result.StatusCode))
	}
	serverUUID := result.UUID()
	if serverUUID == "" {
		return "", models.NewDatasetError(models.KindRemoteError, "server response carried no dataset uuid")
	}
	return serverUUID, nil
}

// UploadStored transmits one locally stored attachment to the server. The
// stored blob is already a bounded JPEG, so it goes out as-is under a .jpg
// name.
func (s *RemoteService) UploadStored(ctx context.Context, serverUUID string, img *models.DatasetImage, creds Credentials) error {
	result, err := s.api.CreateDatasetImage(ctx, serverUUID, img.FieldUUID, img.Blob, img.UploadFilename(), creds.Token)
	if err != nil {
		return err
	}
	if !result.OK() {
		return models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("image upload failed with status %d", result.StatusCode))
	}
	return nil
}

// Delete removes a server-side observation. Returns false without error when
// the server never had it.
func (s *RemoteService) Delete(ctx context.Context, serverUUID string, creds Credentials) (bool, error) {
	if !s.perm.CanSubmit(creds) {
		return false, models.ErrPermissionDenied
	}

	result, err := s.api.DeleteDataset(ctx, serverUUID, s.clientID, creds.Token)
	if err != nil {
		return false, err
	}
	if result.NotFound() {
		return false, nil
	}
	if !result.OK() {
		return false, models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("dataset deletion failed with status %d", result.StatusCode))
	}
	return true, nil
}

// Fetch reads one observation from the server, nil when absent
func (s *RemoteService) Fetch(ctx context.Context, serverUUID string) (*models.Dataset, error) {
	result, err := s.api.GetDataset(ctx, serverUUID)
	if err != nil {
		return nil, err
	}
	if result.NotFound() {
		return nil, nil
	}
	if !result.OK() {
		return nil, models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("dataset fetch failed with status %d", result.StatusCode))
	}

	dataset := &models.Dataset{}
	if err := json.Unmarshal(result.Data, dataset); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidData, err)
	}
	return dataset, nil
}

// List pages through the observations this device (and, when authenticated,
// this user) has submitted.
func (s *RemoteService) List(ctx context.Context, creds Credentials, limit, offset int) ([]*models.Dataset, int, error) {
	result, err := s.api.GetUserDatasetList(ctx, s.clientID, creds.Token, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if !result.OK() {
		return nil, 0, models.NewDatasetError(models.KindRemoteError,
			fmt.Sprintf("dataset list failed with status %d", result.StatusCode))
	}

	var page struct {
		Count   int               `json:"count"`
		Results []*models.Dataset `json:"results"`
	}
	if err := json.Unmarshal(result.Data, &page); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", models.ErrInvalidData, err)
	}
	return page.Results, page.Count, nil
}
