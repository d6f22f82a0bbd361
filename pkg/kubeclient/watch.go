package kubeclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EventType mirrors the apiserver's watch event "type" field.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
	EventBookmark EventType = "BOOKMARK"
	EventError    EventType = "ERROR"
)

// Event is one decoded line of a watch stream. Object is left as raw
// JSON so callers can unmarshal into whatever typed object the resource
// expects without this package needing to know every CRD's Go type.
type Event struct {
	Type   EventType       `json:"type"`
	Object json.RawMessage `json:"object"`
}

// watchRetryDelay is how long Watch sleeps before reconnecting after a
// transient I/O error on the stream. A 410 Gone is not retried here;
// it surfaces as ErrWatchExpired so the caller can re-list.
const watchRetryDelay = 5 * time.Second

// Watch opens a chunked watch stream starting at resourceVersion and
// delivers decoded events to handle until ctx is canceled, the handle
// callback returns a non-nil error, or the stream reports a fatal
// condition. A 410 Gone surfaces as ErrWatchExpired; any other stream
// error is retried after watchRetryDelay using the last-seen
// resourceVersion (bookmarks included), so the retried LIST-less resume
// is never more than one tick stale.
func (c *Client) Watch(ctx context.Context, res Resource, namespace, resourceVersion string, handle func(Event) error) error {
	rv := resourceVersion
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nextRV, err := c.watchOnce(ctx, res, namespace, rv, handle)
		if err != nil {
			if errors.Is(err, ErrWatchExpired) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(watchRetryDelay):
			}
			continue
		}
		rv = nextRV
	}
}

func (c *Client) watchOnce(ctx context.Context, res Resource, namespace, resourceVersion string, handle func(Event) error) (string, error) {
	query := url.Values{
		"watch":               {"1"},
		"allowWatchBookmarks": {"true"},
	}
	if resourceVersion != "" {
		query.Set("resourceVersion", resourceVersion)
	}

	conn, err := c.pool.acquire()
	if err != nil {
		return resourceVersion, errors.Wrap(err, "acquiring pooled connection for watch")
	}
	releaseOK := false
	defer func() {
		if !releaseOK {
			conn.discardConn()
		}
		c.pool.release(conn)
	}()

	u := c.info.Host + res.collectionPath(namespace) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return resourceVersion, errors.Wrap(err, "building watch request")
	}
	req.Header.Set("Accept", "application/json")
	if c.info.BearerFunc != nil {
		token, err := c.info.BearerFunc()
		if err != nil {
			return resourceVersion, errors.Wrap(err, "resolving bearer token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := conn.client.Do(req)
	if err != nil {
		return resourceVersion, errors.Wrap(err, "opening watch stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		releaseOK = true
		return resourceVersion, ErrWatchExpired
	}
	if resp.StatusCode >= 400 {
		releaseOK = true
		return resourceVersion, fmt.Errorf("watch request failed: %s", resp.Status)
	}

	rv := resourceVersion
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return rv, errors.Wrap(err, "decoding watch event")
		}

		if ev.Type == EventError {
			var status metav1.Status
			if err := json.Unmarshal(ev.Object, &status); err == nil && status.Code == http.StatusGone {
				return rv, ErrWatchExpired
			}
			return rv, fmt.Errorf("watch stream reported an error event")
		}

		if newRV, ok := resourceVersionOf(ev.Object); ok {
			rv = newRV
		}

		if ev.Type == EventBookmark {
			continue
		}

		if err := handle(ev); err != nil {
			releaseOK = true
			return rv, err
		}
	}
	if err := scanner.Err(); err != nil {
		return rv, errors.Wrap(err, "reading watch stream")
	}

	// Stream closed cleanly (apiserver-side timeout); resume from rv.
	releaseOK = true
	return rv, fmt.Errorf("watch stream closed")
}

func resourceVersionOf(raw json.RawMessage) (string, bool) {
	var meta struct {
		Metadata struct {
			ResourceVersion string `json:"resourceVersion"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", false
	}
	if meta.Metadata.ResourceVersion == "" {
		return "", false
	}
	return meta.Metadata.ResourceVersion, true
}
