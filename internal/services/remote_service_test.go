package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturelog/client/internal/api"
	"github.com/naturelog/client/internal/models"
)

// fakeAPI records remote calls and lets tests script failures per endpoint
type fakeAPI struct {
	mu             sync.Mutex
	calls          []string
	uploaded       []string
	formExists     bool
	registerStatus int
	createStatus   int
	failCreates    int // fail the next N dataset creations
	blockCreate    chan struct{}
	uploadFail     map[string]bool
	nextUUID       int
	datasets       map[string]*models.Dataset
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		registerStatus: http.StatusCreated,
		createStatus:   http.StatusCreated,
		uploadFail:     map[string]bool{},
		datasets:       map[string]*models.Dataset{},
	}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func jsonResult(status int, payload any) *api.RequestResult {
	data, _ := json.Marshal(payload)
	result := &api.RequestResult{StatusCode: status}
	if result.OK() {
		result.Data = data
	} else {
		result.ErrorBody = string(data)
	}
	return result
}

func (f *fakeAPI) GetObservationForm(ctx context.Context, uuid string, version int) (*api.RequestResult, error) {
	f.record("getForm")
	if f.formExists {
		return jsonResult(http.StatusOK, map[string]any{"uuid": uuid}), nil
	}
	return jsonResult(http.StatusNotFound, map[string]any{"error": "unknown form"}), nil
}

func (f *fakeAPI) PostObservationForm(ctx context.Context, form *models.ObservationForm, token string) (*api.RequestResult, error) {
	f.record("postForm")
	return jsonResult(f.registerStatus, map[string]any{"uuid": form.UUID}), nil
}

func (f *fakeAPI) CreateDataset(ctx context.Context, data models.FieldMap, form *models.ObservationForm, clientID, platform, token string) (*api.RequestResult, error) {
	f.record("createDataset")
	if f.blockCreate != nil {
		<-f.blockCreate
	}
	f.mu.Lock()
	if f.failCreates > 0 {
		f.failCreates--
		f.mu.Unlock()
		return jsonResult(http.StatusInternalServerError, map[string]any{"error": "unavailable"}), nil
	}
	f.mu.Unlock()
	if f.createStatus >= 400 {
		return jsonResult(f.createStatus, map[string]any{"error": "rejected"}), nil
	}
	f.mu.Lock()
	f.nextUUID++
	serverUUID := fmt.Sprintf("server-%d", f.nextUUID)
	f.datasets[serverUUID] = &models.Dataset{UUID: serverUUID, ObservationForm: form, Data: data, Synced: true}
	f.mu.Unlock()
	return jsonResult(f.createStatus, map[string]any{"uuid": serverUUID}), nil
}

func (f *fakeAPI) UpdateDataset(ctx context.Context, uuid string, data models.FieldMap, form *models.ObservationForm, clientID, platform, token string) (*api.RequestResult, error) {
	f.record("updateDataset")
	f.mu.Lock()
	_, ok := f.datasets[uuid]
	f.mu.Unlock()
	if !ok {
		return jsonResult(http.StatusNotFound, map[string]any{"error": "unknown dataset"}), nil
	}
	return jsonResult(http.StatusOK, map[string]any{"uuid": uuid}), nil
}

func (f *fakeAPI) DeleteDataset(ctx context.Context, uuid, clientID, token string) (*api.RequestResult, error) {
	f.record("deleteDataset")
	f.mu.Lock()
	_, ok := f.datasets[uuid]
	delete(f.datasets, uuid)
	f.mu.Unlock()
	if !ok {
		return jsonResult(http.StatusNotFound, map[string]any{"error": "unknown dataset"}), nil
	}
	return &api.RequestResult{StatusCode: http.StatusNoContent}, nil
}

func (f *fakeAPI) CreateDatasetImage(ctx context.Context, datasetUUID, fieldUUID string, blob []byte, filename, token string) (*api.RequestResult, error) {
	f.record("uploadImage")
	if f.uploadFail[filename] {
		return jsonResult(http.StatusInternalServerError, map[string]any{"error": "storage error"}), nil
	}
	f.mu.Lock()
	f.uploaded = append(f.uploaded, filename)
	f.mu.Unlock()
	return jsonResult(http.StatusCreated, map[string]any{"filename": filename}), nil
}

func (f *fakeAPI) GetDataset(ctx context.Context, uuid string) (*api.RequestResult, error) {
	f.record("getDataset")
	f.mu.Lock()
	dataset, ok := f.datasets[uuid]
	f.mu.Unlock()
	if !ok {
		return jsonResult(http.StatusNotFound, map[string]any{"error": "unknown dataset"}), nil
	}
	return jsonResult(http.StatusOK, dataset), nil
}

func (f *fakeAPI) GetUserDatasetList(ctx context.Context, clientID, token string, limit, offset int) (*api.RequestResult, error) {
	f.record("listDatasets")
	f.mu.Lock()
	results := make([]*models.Dataset, 0, len(f.datasets))
	for _, d := range f.datasets {
		results = append(results, d)
	}
	f.mu.Unlock()
	return jsonResult(http.StatusOK, map[string]any{"count": len(results), "results": results}), nil
}

func newRemoteService(fake *fakeAPI, allowAnonymous bool) *RemoteService {
	return NewRemoteService(fake, NewCodecService(), SettingsPermission{AllowAnonymous: allowAnonymous},
		"client-1", "browser", ImageProfile{MaxEdge: 100, Quality: 90})
}

func TestRemoteService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("denied sessions never reach the network", func(t *testing.T) {
		fake := newFakeAPI()
		svc := newRemoteService(fake, false)

		result := svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil)
		assert.False(t, result.Success)
		assert.Equal(t, models.KindPermissionDenied, result.Kind)
		assert.Empty(t, fake.calls)
	})

	t.Run("authenticated sessions pass the gate", func(t *testing.T) {
		fake := newFakeAPI()
		svc := newRemoteService(fake, false)

		result := svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{Token: "tok", Authenticated: true}, nil, nil)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "server-1", result.UUID)
	})

	t.Run("registers an unknown form before submitting", func(t *testing.T) {
		fake := newFakeAPI()
		svc := newRemoteService(fake, true)

		result := svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, 1, fake.callCount("postForm"))
	})

	t.Run("known forms are not re-registered", func(t *testing.T) {
		fake := newFakeAPI()
		fake.formExists = true
		svc := newRemoteService(fake, true)

		result := svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil)
		require.True(t, result.Success)
		assert.Zero(t, fake.callCount("postForm"))
	})

	t.Run("registration failure aborts before dataset creation", func(t *testing.T) {
		fake := newFakeAPI()
		fake.registerStatus = http.StatusInternalServerError
		svc := newRemoteService(fake, true)

		result := svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil)
		assert.False(t, result.Success)
		assert.Equal(t, models.KindRemoteError, result.Kind)
		assert.Zero(t, fake.callCount("createDataset"))
	})

	t.Run("an image failure does not undo the submission", func(t *testing.T) {
		fake := newFakeAPI()
		fake.uploadFail["two.jpg"] = true
		svc := newRemoteService(fake, true)

		data := models.FieldMap{
			"field-a": []models.SourceFile{
				{Name: "one.png", MimeType: "image/png", Data: encodePNG(t, 20, 20)},
				{Name: "two.png", MimeType: "image/png", Data: encodePNG(t, 20, 20)},
				{Name: "three.png", MimeType: "image/png", Data: encodePNG(t, 20, 20)},
			},
		}

		var failed []string
		onError := func(filename string, err error) {
			failed = append(failed, filename)
		}
		var lastCompleted int
		onProgress := func(completed, total int, filename string) {
			lastCompleted = completed
			assert.Equal(t, 3, total)
		}

		result := svc.Submit(ctx, pictureForm(), data, Credentials{}, onProgress, onError)
		require.True(t, result.Success, result.Error)

		// uploads are renamed to .jpg and the loop survives the failure
		assert.Equal(t, []string{"one.jpg", "three.jpg"}, fake.uploaded)
		assert.Equal(t, []string{"two.jpg"}, failed)
		assert.Equal(t, 2, lastCompleted)
	})
}

func TestRemoteService_SubmitUpdate(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAPI()
	svc := newRemoteService(fake, true)

	created := svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil)
	require.True(t, created.Success)

	t.Run("updates an existing dataset", func(t *testing.T) {
		result := svc.SubmitUpdate(ctx, created.UUID, pictureForm(), models.FieldMap{"field-notes": "revised"}, Credentials{}, nil, nil)
		require.True(t, result.Success, result.Error)
	})

	t.Run("missing dataset reports not found", func(t *testing.T) {
		result := svc.SubmitUpdate(ctx, "server-missing", pictureForm(), models.FieldMap{}, Credentials{}, nil, nil)
		assert.False(t, result.Success)
		assert.Equal(t, models.KindNotFound, result.Kind)
	})
}

func TestRemoteService_DeleteAndFetch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAPI()
	svc := newRemoteService(fake, true)

	created := svc.Submit(ctx, pictureForm(), models.FieldMap{"field-notes": "x"}, Credentials{}, nil, nil)
	require.True(t, created.Success)

	t.Run("fetch round-trips the dataset", func(t *testing.T) {
		dataset, err := svc.Fetch(ctx, created.UUID)
		require.NoError(t, err)
		require.NotNil(t, dataset)
		assert.Equal(t, "x", dataset.Data["field-notes"])
	})

	t.Run("fetch of an unknown uuid is nil", func(t *testing.T) {
		dataset, err := svc.Fetch(ctx, "server-missing")
		require.NoError(t, err)
		assert.Nil(t, dataset)
	})

	t.Run("denied sessions cannot delete and never reach the network", func(t *testing.T) {
		denied := newRemoteService(fake, false)
		before := fake.callCount("deleteDataset")

		deleted, err := denied.Delete(ctx, created.UUID, Credentials{})
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
		assert.False(t, deleted)
		assert.Equal(t, before, fake.callCount("deleteDataset"))
	})

	t.Run("delete reports whether anything was removed", func(t *testing.T) {
		deleted, err := svc.Delete(ctx, created.UUID, Credentials{})
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = svc.Delete(ctx, created.UUID, Credentials{})
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestRemoteService_List(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAPI()
	svc := newRemoteService(fake, true)

	require.True(t, svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil).Success)
	require.True(t, svc.Submit(ctx, pictureForm(), models.FieldMap{}, Credentials{}, nil, nil).Success)

	results, count, err := svc.List(ctx, Credentials{}, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, results, 2)
}
