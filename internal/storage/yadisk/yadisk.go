// Package yadisk implements storage.Store on the Yandex Disk REST API.
//
// Folder nodes are addressed by their full disk path (e.g. "disk:/Вологда"),
// so a node's ID doubles as the API path parameter.
package yadisk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SamoylikV/vaffel-disk-bot/internal/storage"
)

const defaultBaseURL = "https://cloud-api.yandex.net/v1/disk"

// Client talks to the Yandex Disk cloud API with an OAuth token.
type Client struct {
	token   string
	base    string // API base URL, overridable for tests
	root    string // disk path of the root folder, e.g. disk:/
	httpc   *http.Client
	uploadc *http.Client // no overall timeout; uploads can be slow
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default API endpoint.
func WithBaseURL(u string) Option { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }

// WithHTTPClient replaces both underlying HTTP clients.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpc = h
		c.uploadc = h
	}
}

// New returns a client rooted at the given disk folder.
func New(token, root string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		base:    defaultBaseURL,
		root:    strings.TrimRight(root, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		uploadc: &http.Client{},
	}
	if c.root == "" || c.root == "disk:" {
		c.root = "disk:/"
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiError is the JSON error body the disk API returns on non-2xx statuses.
type apiError struct {
	Name        string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("yadisk: %s (%s)", e.Message, e.Name)
	}
	return "yadisk: " + e.Name
}

// Root implements storage.Store.
func (c *Client) Root() storage.Node {
	return storage.Node{ID: c.root, Name: ""}
}

// ListChildren implements storage.Store.
func (c *Client) ListChildren(ctx context.Context, parent storage.Node) ([]storage.Entry, error) {
	var body struct {
		Embedded struct {
			Items []struct {
				Name string `json:"name"`
				Path string `json:"path"`
				Type string `json:"type"`
			} `json:"items"`
		} `json:"_embedded"`
	}
	q := url.Values{
		"path":   {parent.ID},
		"limit":  {"1000"},
		"fields": {"_embedded.items.name,_embedded.items.path,_embedded.items.type"},
	}
	if err := c.getJSON(ctx, "/resources?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	entries := make([]storage.Entry, 0, len(body.Embedded.Items))
	for _, it := range body.Embedded.Items {
		entries = append(entries, storage.Entry{
			ID:     it.Path,
			Name:   it.Name,
			Folder: it.Type == "dir",
		})
	}
	return entries, nil
}

// CreateFolder implements storage.Store. A 409 from the API maps to
// storage.ErrFolderExists so the resolver can recover from creation races.
func (c *Client) CreateFolder(ctx context.Context, parent storage.Node, name string) (storage.Node, error) {
	path := joinDiskPath(parent.ID, name)
	q := url.Values{"path": {path}}
	req, err := c.newRequest(ctx, http.MethodPut, "/resources?"+q.Encode(), nil)
	if err != nil {
		return storage.Node{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return storage.Node{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		return storage.Node{ID: path, Name: name}, nil
	case resp.StatusCode == http.StatusConflict:
		return storage.Node{}, fmt.Errorf("mkdir %s: %w", path, storage.ErrFolderExists)
	default:
		return storage.Node{}, fmt.Errorf("mkdir %s: %w", path, decodeError(resp))
	}
}

// UploadFile implements storage.Store: ask the API for a one-shot upload
// URL, then PUT the bytes to it.
func (c *Client) UploadFile(ctx context.Context, dest storage.Node, filename string, body io.Reader) error {
	var link struct {
		Href string `json:"href"`
	}
	q := url.Values{
		"path":      {joinDiskPath(dest.ID, filename)},
		"overwrite": {"true"},
	}
	if err := c.getJSON(ctx, "/resources/upload?"+q.Encode(), &link); err != nil {
		return fmt.Errorf("upload link for %s: %w", filename, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, link.Href, body)
	if err != nil {
		return err
	}
	resp, err := c.uploadc.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("upload %s: unexpected status %d", filename, resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var e apiError
	if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Name != "" {
		return &e
	}
	return fmt.Errorf("yadisk: unexpected status %d", resp.StatusCode)
}

// joinDiskPath appends a child name to a disk path.
func joinDiskPath(parent, name string) string {
	return strings.TrimRight(parent, "/") + "/" + name
}
