package osclient

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOSClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, User{Name: "admin", Password: "admin"}, x509.NewCertPool())
}

func Test_IsAPIError(t *testing.T) {
	assert.True(t, IsAPIError(&APIError{StatusCode: 404}))
	assert.True(t, IsAPIError(&APIError{}))
	assert.False(t, IsAPIError(errOf("a simple error")))
	assert.False(t, IsAPIError(nil))
}

func errOf(msg string) error { return &simpleErr{msg} }

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

func TestNodes_ParsesCatNodesResponse(t *testing.T) {
	client := newTestOSClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_cat/nodes", r.URL.Path)
		assert.Equal(t, "name,cluster_manager,master,version", r.URL.Query().Get("h"))
		json.NewEncoder(w).Encode([]Node{
			{Name: "es-0", ClusterManager: "*", Master: "*", Version: "2.11.0"},
			{Name: "es-1", ClusterManager: "-", Master: "-", Version: "2.11.0"},
		})
	}))

	nodes, err := client.Nodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "*", nodes[0].Master)
}

func TestHealth_ParsesStatus(t *testing.T) {
	client := newTestOSClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_cluster/health", r.URL.Path)
		json.NewEncoder(w).Encode(ClusterHealth{Status: "green"})
	}))

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "green", health.Status)
}

func TestPutSnapshotRepository_SendsBody(t *testing.T) {
	client := newTestOSClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/_snapshot/backups", r.URL.Path)
		var body SnapshotRepositorySettings
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hashed_infix", body.Settings.ShardPathType)
	}))

	err := client.PutSnapshotRepository(context.Background(), "backups", SnapshotRepositorySettings{
		Type: "s3",
		Settings: SnapshotRepositoryBody{
			Bucket:        "my-bucket",
			Client:        "backups",
			ShardPathType: "hashed_infix",
		},
	})
	require.NoError(t, err)
}

func TestUpdateSMPolicy_SetsOptimisticConcurrencyQuery(t *testing.T) {
	client := newTestOSClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("if_seq_no"))
		assert.Equal(t, "2", r.URL.Query().Get("if_primary_term"))
	}))

	err := client.UpdateSMPolicy(context.Background(), "backups-daily", SMPolicyDocument{}, 5, 2)
	require.NoError(t, err)
}

func TestListSMPolicies_DecodesResponse(t *testing.T) {
	client := newTestOSClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SMPolicyListResponse{
			Policies: []SMPolicyListEntry{
				{PolicyName: "backups-daily", SeqNo: 5, PrimaryTerm: 2},
			},
		})
	}))

	resp, err := client.ListSMPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Policies, 1)
	assert.Equal(t, "backups-daily", resp.Policies[0].PolicyName)
}

func TestDo_MapsErrorStatusToAPIError(t *testing.T) {
	client := newTestOSClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"version conflict"}`))
	}))

	err := client.DeleteSMPolicy(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}
