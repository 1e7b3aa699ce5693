// Package api wraps the remote observation service's REST contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/naturelog/client/internal/models"
)

// RequestResult carries one remote response. Transport failures are returned
// as errors; HTTP-level errors land in ErrorBody with the status code set.
type RequestResult struct {
	StatusCode int
	Data       json.RawMessage
	ErrorBody  string
}

// OK reports a 2xx response
func (r *RequestResult) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// NotFound reports a 404 response
func (r *RequestResult) NotFound() bool {
	return r != nil && r.StatusCode == http.StatusNotFound
}

// UUID extracts the uuid field of a successful response body, or ""
func (r *RequestResult) UUID() string {
	if !r.OK() || len(r.Data) == 0 {
		return ""
	}
	var body struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(r.Data, &body); err != nil {
		return ""
	}
	return body.UUID
}

// ObservationAPI is the remote contract the gateway depends on
type ObservationAPI interface {
	GetObservationForm(ctx context.Context, uuid string, version int) (*RequestResult, error)
	PostObservationForm(ctx context.Context, form *models.ObservationForm, token string) (*RequestResult, error)
	CreateDataset(ctx context.Context, data models.FieldMap, form *models.ObservationForm, clientID, platform, token string) (*RequestResult, error)
	UpdateDataset(ctx context.Context, uuid string, data models.FieldMap, form *models.ObservationForm, clientID, platform, token string) (*RequestResult, error)
	DeleteDataset(ctx context.Context, uuid, clientID, token string) (*RequestResult, error)
	CreateDatasetImage(ctx context.Context, datasetUUID, fieldUUID string, blob []byte, filename, token string) (*RequestResult, error)
	GetDataset(ctx context.Context, uuid string) (*RequestResult, error)
	GetUserDatasetList(ctx context.Context, clientID, token string, limit, offset int) (*RequestResult, error)
}

// Client is the HTTP implementation of ObservationAPI
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given API base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 120 * time.Second, // image uploads over slow field connections
		},
	}
}

func (c *Client) do(req *http.Request, token string) (*RequestResult, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.NewDatasetError(models.KindNetworkError, "remote service unreachable"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	result := &RequestResult{StatusCode: resp.StatusCode}
	if result.OK() {
		result.Data = body
	} else {
		result.ErrorBody = string(body)
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path, token string) (*RequestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, token)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload any, token string) (*RequestResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidData, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token)
}

// GetObservationForm probes for a registered schema by uuid and version
func (c *Client) GetObservationForm(ctx context.Context, uuid string, version int) (*RequestResult, error) {
	return c.getJSON(ctx, fmt.Sprintf("/observation-form/%s/%d/", uuid, version), "")
}

// PostObservationForm registers a schema; token is optional
func (c *Client) PostObservationForm(ctx context.Context, form *models.ObservationForm, token string) (*RequestResult, error) {
	payload := map[string]any{"definition": form}
	return c.sendJSON(ctx, http.MethodPost, "/observation-form/", payload, token)
}

type datasetPayload struct {
	Data            models.FieldMap         `json:"data"`
	ObservationForm *models.ObservationForm `json:"observationForm"`
	ClientID        string                  `json:"clientId"`
	Platform        string                  `json:"platform"`
}

// CreateDataset submits a new observation
func (c *Client) CreateDataset(ctx context.Context, data models.FieldMap, form *models.ObservationForm, clientID, platform, token string) (*RequestResult, error) {
	payload := datasetPayload{Data: data, ObservationForm: form, ClientID: clientID, Platform: platform}
	return c.sendJSON(ctx, http.MethodPost, "/dataset/", payload, token)
}

// UpdateDataset overwrites an existing remote observation
func (c *Client) UpdateDataset(ctx context.Context, uuid string, data models.FieldMap, form *models.ObservationForm, clientID, platform, token string) (*RequestResult, error) {
	payload := datasetPayload{Data: data, ObservationForm: form, ClientID: clientID, Platform: platform}
	return c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/dataset/%s/", uuid), payload, token)
}

// DeleteDataset removes a remote observation
func (c *Client) DeleteDataset(ctx context.Context, uuid, clientID, token string) (*RequestResult, error) {
	path := fmt.Sprintf("/dataset/%s/?clientId=%s", uuid, url.QueryEscape(clientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, token)
}

// CreateDatasetImage uploads one image file for a dataset field
func (c *Client) CreateDatasetImage(ctx context.Context, datasetUUID, fieldUUID string, blob []byte, filename, token string) (*RequestResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("fieldUuid", fieldUUID); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(blob); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/dataset/%s/image/", datasetUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, token)
}

// GetDataset fetches one remote observation
func (c *Client) GetDataset(ctx context.Context, uuid string) (*RequestResult, error) {
	return c.getJSON(ctx, fmt.Sprintf("/dataset/%s/", uuid), "")
}

// GetUserDatasetList pages through the observations attributed to this
// device (and user, when a token is supplied)
func (c *Client) GetUserDatasetList(ctx context.Context, clientID, token string, limit, offset int) (*RequestResult, error) {
	query := url.Values{}
	query.Set("clientId", clientID)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	return c.getJSON(ctx, "/dataset/?"+query.Encode(), token)
}
