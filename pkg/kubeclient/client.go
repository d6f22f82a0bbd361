package kubeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// FieldManager is the SSA field owner this operator claims on every
// resource it applies: all writes go through server-side apply under
// this single, fixed field manager.
const FieldManager = "opensearch-operator"

// Resource describes one apiserver resource collection: its base URL
// path template and whether it is namespaced. Callers build one Resource
// value per Kubernetes kind they need (Service, StatefulSet, the
// OpenSearch CRD, ...) and reuse it across calls.
type Resource struct {
	// GroupVersion is "v1" for core resources or "apps/v1",
	// "opensearch.reclaim-the-stack.com/v1alpha1", etc.
	GroupVersion string
	Plural       string
	Namespaced   bool
}

func (r Resource) collectionPath(namespace string) string {
	prefix := "/api/" + r.GroupVersion
	if strings.Contains(r.GroupVersion, "/") {
		prefix = "/apis/" + r.GroupVersion
	}
	if r.Namespaced {
		return fmt.Sprintf("%s/namespaces/%s/%s", prefix, namespace, r.Plural)
	}
	return fmt.Sprintf("%s/%s", prefix, r.Plural)
}

func (r Resource) itemPath(namespace, name string) string {
	return r.collectionPath(namespace) + "/" + name
}

// Client is a minimal hand-rolled Kubernetes apiserver client: no
// generated clientset, no controller-runtime cache, just HTTP requests
// over a pooled connection.
type Client struct {
	info *ConnInfo
	pool *Pool
}

// New resolves connection credentials (in-cluster first, kubeconfig as
// fallback) and returns a ready Client.
func New() (*Client, error) {
	info, err := resolveConnInfo()
	if err != nil {
		return nil, err
	}
	return &Client{
		info: info,
		pool: newPool(newConnectionFactory(info)),
	}, nil
}

// NewFromConnInfo builds a Client against an already-resolved ConnInfo,
// bypassing in-cluster/kubeconfig discovery. Used by callers (and tests
// in other packages) that already know the apiserver endpoint, such as
// a fake apiserver under httptest.
func NewFromConnInfo(info *ConnInfo) *Client {
	return &Client{info: info, pool: newPool(newConnectionFactory(info))}
}

// IdleConnections reports the number of warm, idle connections
// currently sitting in the pool, for the operator's metrics endpoint.
func (c *Client) IdleConnections() int {
	return c.pool.idleCount()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) ([]byte, int, error) {
	conn, err := c.pool.acquire()
	if err != nil {
		return nil, 0, errors.Wrap(err, "acquiring pooled connection")
	}
	releaseOK := false
	defer func() {
		if !releaseOK {
			conn.discardConn()
		}
		c.pool.release(conn)
	}()

	u := c.info.Host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, errors.Wrap(err, "building request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.info.BearerFunc != nil {
		token, err := c.info.BearerFunc()
		if err != nil {
			return nil, 0, errors.Wrap(err, "resolving bearer token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := conn.client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "performing request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "reading response body")
	}

	releaseOK = true

	if resp.StatusCode >= 400 {
		return respBody, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(respBody),
		}
	}
	return respBody, resp.StatusCode, nil
}

// Get fetches a single object by name and decodes it into out.
func (c *Client) Get(ctx context.Context, res Resource, namespace, name string, out interface{}) error {
	body, _, err := c.do(ctx, http.MethodGet, res.itemPath(namespace, name), nil, "", nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// Exists reports whether an object exists, treating 404 as a plain false
// rather than an error.
func (c *Client) Exists(ctx context.Context, res Resource, namespace, name string) (bool, error) {
	_, _, err := c.do(ctx, http.MethodGet, res.itemPath(namespace, name), nil, "", nil)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// List fetches a collection and decodes it into out, which must be a
// pointer to a list type exposing the same shape as a Kubernetes List.
func (c *Client) List(ctx context.Context, res Resource, namespace string, query url.Values, out interface{}) error {
	body, _, err := c.do(ctx, http.MethodGet, res.collectionPath(namespace), query, "", nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// Create POSTs a new object to the collection endpoint.
func (c *Client) Create(ctx context.Context, res Resource, namespace string, obj, out interface{}) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(err, "marshaling object for create")
	}
	body, _, err := c.do(ctx, http.MethodPost, res.collectionPath(namespace), nil, "application/json", payload)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// Update PUTs a full object representation at its item endpoint.
func (c *Client) Update(ctx context.Context, res Resource, namespace, name string, obj, out interface{}) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(err, "marshaling object for update")
	}
	body, _, err := c.do(ctx, http.MethodPut, res.itemPath(namespace, name), nil, "application/json", payload)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// MergePatch sends an RFC 7386 JSON merge patch, used for status-only
// updates.
func (c *Client) MergePatch(ctx context.Context, res Resource, namespace, name, subresource string, patch []byte, out interface{}) error {
	path := res.itemPath(namespace, name)
	if subresource != "" {
		path += "/" + subresource
	}
	body, _, err := c.do(ctx, http.MethodPatch, path, nil, "application/merge-patch+json", patch)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// JSONPatch sends an RFC 6902 JSON patch, used where individual
// operations (e.g. removing a finalizer) must not clobber concurrent
// writes to unrelated fields.
func (c *Client) JSONPatch(ctx context.Context, res Resource, namespace, name string, patch []byte, out interface{}) error {
	body, _, err := c.do(ctx, http.MethodPatch, res.itemPath(namespace, name), nil, "application/json-patch+json", patch)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// Apply performs a server-side apply PATCH under FieldManager, force-
// owning any conflicting fields. Every write goes through SSA; callers
// never need to read-modify-write a PUT.
func (c *Client) Apply(ctx context.Context, res Resource, namespace, name string, obj, out interface{}) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(err, "marshaling object for apply")
	}
	query := url.Values{
		"fieldManager":    {FieldManager},
		"force":           {"true"},
		"fieldValidation": {"Strict"},
	}
	body, _, err := c.do(ctx, http.MethodPatch, res.itemPath(namespace, name), query, "application/apply-patch+yaml", applyPayloadAsJSON(payload))
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// applyPayloadAsJSON exists because Kubernetes accepts SSA patches
// encoded as JSON even when the content type declares YAML; JSON is a
// structurally valid subset of YAML, so no conversion step is needed.
func applyPayloadAsJSON(payload []byte) []byte {
	return payload
}

// Delete removes an object by name. A 404 is treated as success.
func (c *Client) Delete(ctx context.Context, res Resource, namespace, name string) error {
	_, _, err := c.do(ctx, http.MethodDelete, res.itemPath(namespace, name), nil, "", nil)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}
