// Package osclient is a minimal OpenSearch REST client: basic-auth
// plus a pinned CA cert pool, no generic request-retrying machinery
// beyond what net/http already provides. The constructor shape (URL,
// User{Name,Password}, *x509.CertPool) is adapted from
// elastic-cloud-on-k8s's legacy cmd/snapshotter, whose
// esclient.NewElasticsearchClient(esURL, user, certPool) takes exactly
// these three arguments.
package osclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// User is the basic-auth credential pair used against the OpenSearch
// REST API.
type User struct {
	Name     string
	Password string
}

// Client is a thin wrapper over *http.Client pointed at one
// OpenSearch cluster's service URL.
type Client struct {
	baseURL string
	user    User
	http    *http.Client
}

// NewClient builds a Client trusting only certPool (the cluster's own
// generated CA, per pkg/certificates) for TLS verification.
func NewClient(baseURL string, user User, certPool *x509.CertPool) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		user:    user,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: certPool, MinVersion: tls.VersionTLS12},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.user.Name, c.user.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("performing request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body from %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}
	return nil
}

// Nodes fetches `_cat/nodes?h=name,cluster_manager,master,version&format=json`.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	query := url.Values{
		"h":      {"name,cluster_manager,master,version"},
		"format": {"json"},
	}
	var nodes []Node
	if err := c.do(ctx, http.MethodGet, "/_cat/nodes", query, nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Health fetches `/_cluster/health`.
func (c *Client) Health(ctx context.Context) (*ClusterHealth, error) {
	var health ClusterHealth
	if err := c.do(ctx, http.MethodGet, "/_cluster/health", nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// PutSnapshotRepository issues `PUT /_snapshot/<repo>`.
func (c *Client) PutSnapshotRepository(ctx context.Context, repo string, settings SnapshotRepositorySettings) error {
	return c.do(ctx, http.MethodPut, "/_snapshot/"+repo, nil, settings, nil)
}

// ListSMPolicies issues `GET /_plugins/_sm/policies`.
func (c *Client) ListSMPolicies(ctx context.Context) (*SMPolicyListResponse, error) {
	var out SMPolicyListResponse
	if err := c.do(ctx, http.MethodGet, "/_plugins/_sm/policies", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSMPolicy issues `POST /_plugins/_sm/policies/<name>`, used when
// no existing policy document with that name exists yet.
func (c *Client) CreateSMPolicy(ctx context.Context, name string, doc SMPolicyDocument) error {
	return c.do(ctx, http.MethodPost, "/_plugins/_sm/policies/"+name, nil, doc, nil)
}

// UpdateSMPolicy issues `PUT /_plugins/_sm/policies/<name>?if_seq_no=...&if_primary_term=...`,
// always rewriting the full document since OpenSearch normalizes some
// fields (e.g. "24h" becomes "1d") making naive equality unreliable.
func (c *Client) UpdateSMPolicy(ctx context.Context, name string, doc SMPolicyDocument, seqNo, primaryTerm int64) error {
	query := url.Values{
		"if_seq_no":       {strconv.FormatInt(seqNo, 10)},
		"if_primary_term": {strconv.FormatInt(primaryTerm, 10)},
	}
	return c.do(ctx, http.MethodPut, "/_plugins/_sm/policies/"+name, query, doc, nil)
}

// DeleteSMPolicy issues `DELETE /_plugins/_sm/policies/<name>`.
func (c *Client) DeleteSMPolicy(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/_plugins/_sm/policies/"+name, nil, nil, nil)
}
