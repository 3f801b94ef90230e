package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Supabase Storage bucket over its REST API.
// Objects are addressed by hierarchical string keys within one bucket.
type Client struct {
	BaseURL string
	APIKey  string
	Bucket  string
	HTTP    *http.Client
}

// New creates a storage client for one bucket. baseURL is the project
// endpoint without a trailing slash; apiKey is either the anonymous or the
// service-role credential depending on what the caller is allowed to do.
func New(baseURL, apiKey, bucket string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Bucket:  bucket,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the storage API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storage: %d: %s", e.Status, e.Message)
}

// IsConflict reports whether err is the API rejecting an upload because the
// object key already exists. Uploads never overwrite.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Upload stores data at path with the given content type. The API rejects a
// key that already exists with 409, which surfaces as an APIError; paths are
// built to never collide so a conflict means a duplicate submission.
func (c *Client) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.BaseURL, c.Bucket, escapeKey(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("storage: create request failed: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	return c.do(req, nil)
}

// Object is one entry returned by List.
type Object struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// List returns objects under prefix. An empty prefix lists the bucket root,
// which doubles as the startup liveness probe for the bucket.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/list/%s", c.BaseURL, c.Bucket)
	body, _ := json.Marshal(map[string]any{
		"prefix": prefix,
		"limit":  1000,
		"offset": 0,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("storage: create request failed: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	var objects []Object
	if err := c.do(req, &objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// Remove bulk-deletes the given object keys.
func (c *Client) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", c.BaseURL, c.Bucket)
	body, _ := json.Marshal(map[string]any{"prefixes": paths})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("storage: create request failed: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// Move renames an object within the bucket. Older storage deployments lack
// the move endpoint; those return 404/405 and we fall back to copy+remove.
func (c *Client) Move(ctx context.Context, path, newPath string) error {
	err := c.relocate(ctx, "move", path, newPath)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusMethodNotAllowed) {
		if err := c.relocate(ctx, "copy", path, newPath); err != nil {
			return err
		}
		return c.Remove(ctx, []string{path})
	}
	return err
}

func (c *Client) relocate(ctx context.Context, op, path, newPath string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", c.BaseURL, op)
	body, _ := json.Marshal(map[string]string{
		"bucketId":       c.Bucket,
		"sourceKey":      path,
		"destinationKey": newPath,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("storage: create request failed: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// PublicURL returns the dereferenceable URL for an object in a public
// bucket. Always a plain string; callers never branch on response shape.
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.BaseURL, c.Bucket, escapeKey(path))
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("apikey", c.APIKey)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("storage: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: apiMessage(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("storage: decode response failed: %w", err)
		}
	}
	return nil
}

// apiMessage pulls the human-readable message out of an error body, which
// the API serves in a few different shapes.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

// escapeKey escapes each path segment while keeping the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
