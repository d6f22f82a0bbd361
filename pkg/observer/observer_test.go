package observer

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/osclient"
)

func testCluster() v1alpha1.NamespacedName {
	return v1alpha1.NamespacedName{Namespace: "ns", Name: "cluster"}
}

func fakeOSClient(t *testing.T, status string) *osclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/_cat/nodes":
			json.NewEncoder(w).Encode([]osclient.Node{
				{Name: "es-0", Master: "*", ClusterManager: "*", Version: "2.11.0"},
			})
		case r.URL.Path == "/_cluster/health":
			json.NewEncoder(w).Encode(osclient.ClusterHealth{Status: status})
		}
	}))
	t.Cleanup(srv.Close)
	return osclient.NewClient(srv.URL, osclient.User{}, x509.NewCertPool())
}

func TestObserve_InvokesOnStateChangeOnFirstObservation(t *testing.T) {
	client := fakeOSClient(t, "green")
	var calls int32
	w := New(testCluster(), client, Settings{}, func(state State, changed map[string]bool) {
		atomic.AddInt32(&calls, 1)
		assert.True(t, changed["status"])
	}, logr.Discard())

	w.observe(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestObserve_NoCallbackWhenNothingChanged(t *testing.T) {
	client := fakeOSClient(t, "green")
	var calls int32
	w := New(testCluster(), client, Settings{}, func(State, map[string]bool) {
		atomic.AddInt32(&calls, 1)
	}, logr.Discard())

	w.observe(context.Background())
	w.observe(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestObserve_OnGreenFiresOnceAndClears(t *testing.T) {
	client := fakeOSClient(t, "green")
	w := New(testCluster(), client, Settings{}, nil, logr.Discard())

	var calls int32
	w.RegisterOnGreen(func() { atomic.AddInt32(&calls, 1) })

	w.observe(context.Background())
	w.observe(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestObserve_OnGreenPanicIsRecovered(t *testing.T) {
	client := fakeOSClient(t, "green")
	w := New(testCluster(), client, Settings{}, nil, logr.Discard())
	w.RegisterOnGreen(func() { panic("boom") })

	assert.NotPanics(t, func() { w.observe(context.Background()) })
}

func TestObserve_NilOnStateChangeIsSafe(t *testing.T) {
	client := fakeOSClient(t, "yellow")
	w := New(testCluster(), client, Settings{}, nil, logr.Discard())
	assert.NotPanics(t, func() { w.observe(context.Background()) })
}

func TestStartStop(t *testing.T) {
	client := fakeOSClient(t, "green")
	var calls int32
	w := New(testCluster(), client, Settings{ObservationInterval: time.Millisecond}, func(State, map[string]bool) {
		atomic.AddInt32(&calls, 1)
	}, logr.Discard())

	w.Start()
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	time.Sleep(5 * time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestChangedKeys(t *testing.T) {
	previous := State{Status: "yellow", NumberOfNodes: 2, Version: "2.11.0"}
	next := State{Status: "green", NumberOfNodes: 3, Version: "2.11.0"}

	keys, changed := changedKeys(previous, next)
	require.True(t, changed)
	assert.True(t, keys["status"])
	assert.True(t, keys["number_of_nodes"])
	assert.False(t, keys["version"])
}
