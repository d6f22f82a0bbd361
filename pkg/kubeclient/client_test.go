package kubeclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	info := &ConnInfo{
		Host:      srv.URL,
		TLSConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // test-only
	}
	return &Client{
		info: info,
		pool: newPool(newConnectionFactory(info)),
	}, srv
}

func TestClientGet(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/namespaces/default/services/es-http", r.URL.Path)
		json.NewEncoder(w).Encode(fakeObject{Name: "es-http", Value: 1})
	}))

	res := Resource{GroupVersion: "v1", Plural: "services", Namespaced: true}
	var out fakeObject
	err := client.Get(context.Background(), res, "default", "es-http", &out)
	require.NoError(t, err)
	assert.Equal(t, "es-http", out.Name)
}

func TestClientExists_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"not found"}`))
	}))

	res := Resource{GroupVersion: "v1", Plural: "services", Namespaced: true}
	exists, err := client.Exists(context.Background(), res, "default", "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClientExists_OtherError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"forbidden"}`))
	}))

	res := Resource{GroupVersion: "v1", Plural: "services", Namespaced: true}
	_, err := client.Exists(context.Background(), res, "default", "any")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestClientApply_SetsSSAQueryParams(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/apply-patch+yaml", r.Header.Get("Content-Type"))
		assert.Equal(t, FieldManager, r.URL.Query().Get("fieldManager"))
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		json.NewEncoder(w).Encode(fakeObject{Name: "applied"})
	}))

	res := Resource{GroupVersion: "apps/v1", Plural: "statefulsets", Namespaced: true}
	var out fakeObject
	err := client.Apply(context.Background(), res, "default", "es-data", fakeObject{Name: "es-data"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "applied", out.Name)
}

func TestClientDelete_TreatsNotFoundAsSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	res := Resource{GroupVersion: "v1", Plural: "secrets", Namespaced: true}
	err := client.Delete(context.Background(), res, "default", "gone-already")
	assert.NoError(t, err)
}

func TestClientMergePatch_HitsStatusSubresource(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apis/opensearch.reclaim-the-stack.com/v1alpha1/namespaces/default/opensearches/my-cluster/status", r.URL.Path)
		assert.Equal(t, "application/merge-patch+json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))

	res := Resource{GroupVersion: "opensearch.reclaim-the-stack.com/v1alpha1", Plural: "opensearches", Namespaced: true}
	err := client.MergePatch(context.Background(), res, "default", "my-cluster", "status", []byte(`{"status":{"health":"green"}}`), nil)
	require.NoError(t, err)
}

func TestResourceCollectionPath_ClusterScoped(t *testing.T) {
	res := Resource{GroupVersion: "v1", Plural: "namespaces", Namespaced: false}
	assert.Equal(t, "/api/v1/namespaces", res.collectionPath(""))
}
