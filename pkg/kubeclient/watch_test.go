package kubeclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEvent(w http.ResponseWriter, eventType EventType, obj interface{}) {
	payload, _ := json.Marshal(obj)
	line, _ := json.Marshal(Event{Type: eventType, Object: payload})
	w.Write(line)
	w.Write([]byte("\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestWatch_DeliversEventsAndTracksBookmarkResourceVersion(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, EventAdded, map[string]interface{}{
			"metadata": map[string]interface{}{"name": "a", "resourceVersion": "100"},
		})
		writeEvent(w, EventBookmark, map[string]interface{}{
			"metadata": map[string]interface{}{"resourceVersion": "150"},
		})
	}))
	defer srv.Close()

	info := &ConnInfo{Host: srv.URL, TLSConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	client := &Client{info: info, pool: newPool(newConnectionFactory(info))}

	var seen []EventType
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Watch(ctx, Resource{GroupVersion: "v1", Plural: "services", Namespaced: true}, "default", "99", func(ev Event) error {
		seen = append(seen, ev.Type)
		if len(seen) == 1 {
			return fmt.Errorf("stop after first event")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []EventType{EventAdded}, seen)
}

func TestWatch_410GoneIsFatal(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	info := &ConnInfo{Host: srv.URL, TLSConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	client := &Client{info: info, pool: newPool(newConnectionFactory(info))}

	err := client.Watch(context.Background(), Resource{GroupVersion: "v1", Plural: "services", Namespaced: true}, "default", "1", func(Event) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrWatchExpired)
}

func TestResourceVersionOf(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{"resourceVersion": "42"},
	})
	rv, ok := resourceVersionOf(raw)
	require.True(t, ok)
	assert.Equal(t, "42", rv)

	_, ok = resourceVersionOf([]byte(`{}`))
	assert.False(t, ok)
}
