// Package metadataclient is a typed facade over the external HTTP metadata
// store (spec.md §4.2). It never touches the orchestrator or the session
// table; every call propagates the principal's bearer token.
package metadataclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
)

// Record is the opaque metadata record shape returned by ListInstances and
// accepted by RegisterInstance. Field names mirror the payload the original
// implementation posts to the Spring data API (original_source/app/main.py).
type Record struct {
	ContainerID   string `json:"containerId"`
	ContainerName string `json:"containerName"`
	OwnerUsername string `json:"ownerUsername"`
	ImageName     string `json:"imageName"`
	Status        string `json:"status"`
	ProjectName   string `json:"projectName"`
	Port          int    `json:"port"`
}

// Client talks to the external metadata store over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New constructs a Client bound to baseURL with the given per-call timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
	}
}

func (c *Client) do(ctx context.Context, method, path, bearerToken string, body any) (*http.Response, *apperrors.AppError) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Internal("failed to encode request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperrors.Internal("failed to build metadata request")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("metadata store")
	}
	return resp, nil
}

// CountInstances returns the number of live instances owned by username,
// used by the Instance Manager to enforce the free-tier quota (spec.md §4.5).
func (c *Client) CountInstances(ctx context.Context, bearerToken, username string) (int, *apperrors.AppError) {
	resp, aerr := c.do(ctx, http.MethodGet, fmt.Sprintf("/internal/api/containers/count/%s", username), bearerToken, nil)
	if aerr != nil {
		return 0, aerr
	}
	defer resp.Body.Close()

	if err := statusToAppError(resp.StatusCode); err != nil {
		return 0, err
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, apperrors.Internal("failed to decode count response")
	}
	return out.Count, nil
}

// RegisterInstance persists a newly-provisioned instance's record.
func (c *Client) RegisterInstance(ctx context.Context, bearerToken string, rec Record) *apperrors.AppError {
	resp, aerr := c.do(ctx, http.MethodPost, "/internal/api/containers", bearerToken, rec)
	if aerr != nil {
		return aerr
	}
	defer resp.Body.Close()
	return statusToAppError(resp.StatusCode)
}

// ListInstances returns the opaque list of records visible to the
// principal (the metadata store applies any further scoping itself).
func (c *Client) ListInstances(ctx context.Context, bearerToken string) ([]Record, *apperrors.AppError) {
	resp, aerr := c.do(ctx, http.MethodGet, "/internal/api/containers", bearerToken, nil)
	if aerr != nil {
		return nil, aerr
	}
	defer resp.Body.Close()

	if err := statusToAppError(resp.StatusCode); err != nil {
		return nil, err
	}

	var out []Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Internal("failed to decode list response")
	}
	return out, nil
}

// DeleteInstance removes a record. Per spec.md §4.2, deleting an unknown id
// is treated as success by the caller to keep teardown monotone.
func (c *Client) DeleteInstance(ctx context.Context, bearerToken, id, username string) *apperrors.AppError {
	resp, aerr := c.do(ctx, http.MethodDelete, fmt.Sprintf("/internal/api/containers/%s/owner/%s", id, username), bearerToken, nil)
	if aerr != nil {
		return aerr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return statusToAppError(resp.StatusCode)
}

// RenameInstance updates the record's project name.
func (c *Client) RenameInstance(ctx context.Context, bearerToken, id, username, projectName string) *apperrors.AppError {
	resp, aerr := c.do(ctx, http.MethodPatch, fmt.Sprintf("/internal/api/containers/%s/owner/%s", id, username), bearerToken,
		map[string]string{"projectName": projectName})
	if aerr != nil {
		return aerr
	}
	defer resp.Body.Close()
	return statusToAppError(resp.StatusCode)
}

// statusToAppError surfaces the metadata store's own 4xx verbatim (spec.md
// §4.2/§7) by carrying its numeric status directly into StatusCode, rather
// than routing the synthesized METADATA_<nnn> code through statusFor's
// fixed table. 5xx collapses to Internal.
func statusToAppError(status int) *apperrors.AppError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return apperrors.NewWithStatus(fmt.Sprintf("METADATA_%d", status), "metadata store rejected request", status)
	default:
		return apperrors.Internal("metadata store error")
	}
}
