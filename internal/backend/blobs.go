package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Object mirrors the server's description of a stored blob.
type Object struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	DownloadURL string `json:"download_url"`
}

// Upload stores r at path and returns once the server has committed it.
func (c *Client) Upload(ctx context.Context, path string, r io.Reader) (Object, error) {
	var obj Object
	err := c.do(ctx, http.MethodPut, "/api/storage/"+escapePath(path), r, "application/octet-stream", &obj)
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", path, err)
	}
	return obj, nil
}

// DeleteBlob removes the blob at path.
func (c *Client) DeleteBlob(ctx context.Context, path string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/storage/"+escapePath(path), nil, "", nil); err != nil {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

// DeleteByURL removes the blob a download URL points at.
func (c *Client) DeleteByURL(ctx context.Context, downloadURL string) error {
	path, err := c.PathFromURL(downloadURL)
	if err != nil {
		return err
	}
	return c.DeleteBlob(ctx, path)
}

// List returns blob names directly under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var res struct {
		Items []string `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/storage?prefix="+url.QueryEscape(prefix), nil, "", &res); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return res.Items, nil
}

// DownloadURL is the public URL of path.
func (c *Client) DownloadURL(path string) string {
	return c.baseURL + "/files/" + escapePath(strings.TrimPrefix(path, "/"))
}

// PathFromURL is the inverse of DownloadURL.
func (c *Client) PathFromURL(downloadURL string) (string, error) {
	u, err := url.Parse(downloadURL)
	if err != nil {
		return "", fmt.Errorf("parse blob url: %w", err)
	}
	p, ok := strings.CutPrefix(u.Path, "/files/")
	if !ok || p == "" {
		return "", fmt.Errorf("not a blob url: %s", downloadURL)
	}
	return p, nil
}

// Fetch downloads any URL, typically a blob download URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return io.ReadAll(res.Body)
}
