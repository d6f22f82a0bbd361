// Package observer implements the per-cluster OpenSearch health
// watcher: a single-threaded poll loop that periodically
// fetches node and cluster-health state, diffs it against the last
// observation, and invokes callbacks on state changes and on the first
// transition into "green".
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/osclient"
)

// State is one point-in-time observation of cluster health, compared
// field-by-field against the previous observation on every poll.
type State struct {
	NumberOfNodes  int
	Master         string
	ClusterManager string
	Status         string
	Version        string
}

// changedKeys reports which of {status, number_of_nodes, version} (the
// only keys update_status cares about) differ between
// two states, plus whether anything at all changed.
func changedKeys(previous, next State) (keys map[string]bool, anyChanged bool) {
	keys = map[string]bool{}
	if previous.Status != next.Status {
		keys["status"] = true
	}
	if previous.NumberOfNodes != next.NumberOfNodes {
		keys["number_of_nodes"] = true
	}
	if previous.Version != next.Version {
		keys["version"] = true
	}
	anyChanged = previous != next
	return keys, anyChanged
}

// OnStateChange is invoked whenever any field of State changes.
type OnStateChange func(state State, changedKeys map[string]bool)

// OnGreen is a one-shot callback invoked (and cleared) the first time a
// poll observes status == "green" while one is registered.
type OnGreen func()

// Settings configures the poll loop.
type Settings struct {
	ObservationInterval time.Duration
}

// DefaultCheckInterval is the CHECK_INTERVAL default.
const DefaultCheckInterval = 10 * time.Second

// Watcher polls one cluster's OpenSearch REST API on a fixed interval.
// It is single-threaded: all esClient calls and callback invocations
// happen on its own goroutine, never concurrently with each other.
type Watcher struct {
	cluster  v1alpha1.NamespacedName
	esClient *osclient.Client
	settings Settings
	log      logr.Logger

	onStateChange OnStateChange

	mu      sync.Mutex
	state   State
	onGreen OnGreen

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watcher. It does not start polling until Start is
// called.
func New(cluster v1alpha1.NamespacedName, esClient *osclient.Client, settings Settings, onStateChange OnStateChange, log logr.Logger) *Watcher {
	if settings.ObservationInterval <= 0 {
		settings.ObservationInterval = DefaultCheckInterval
	}
	return &Watcher{
		cluster:       cluster,
		esClient:      esClient,
		settings:      settings,
		onStateChange: onStateChange,
		log:           log,
	}
}

// RegisterOnGreen sets (overwriting any previous registration) the
// one-shot on-green callback. ClusterReconciler calls this on every
// reconcile so snapshot configuration converges again after any spec
// change once the cluster returns to green.
func (w *Watcher) RegisterOnGreen(fn OnGreen) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onGreen = fn
}

// Start launches the poll loop on its own goroutine.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop cancels the loop. The loop is expected to exit at its next
// sleep/poll boundary; Stop does not block waiting for it.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Client returns a thread-safe accessor to the underlying OpenSearch
// client, used by SnapshotManager from inside the on-green callback
// .
func (w *Watcher) Client() *osclient.Client {
	return w.esClient
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.settings.ObservationInterval)
	defer ticker.Stop()

	w.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.observe(ctx)
		}
	}
}

// observe performs one poll cycle: fetch nodes and health, diff
// against the cached state, and fire the appropriate callbacks.
func (w *Watcher) observe(ctx context.Context) {
	nodes, err := w.esClient.Nodes(ctx)
	if err != nil {
		w.log.Error(err, "fetching cluster nodes", "cluster", w.cluster)
		return
	}
	health, err := w.esClient.Health(ctx)
	if err != nil {
		w.log.Error(err, "fetching cluster health", "cluster", w.cluster)
		return
	}

	next := stateFromObservation(nodes, health)

	w.mu.Lock()
	previous := w.state
	keys, anyChanged := changedKeys(previous, next)

	var fireGreen OnGreen
	if next.Status == "green" && w.onGreen != nil {
		fireGreen = w.onGreen
		w.onGreen = nil
	}
	if anyChanged {
		w.state = next
	}
	w.mu.Unlock()

	if fireGreen != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error(nil, "on_green callback panicked", "cluster", w.cluster, "recovered", r)
				}
			}()
			fireGreen()
		}()
	}

	if anyChanged {
		w.log.Info("cluster state changed", "cluster", w.cluster, "previous", previous, "next", next, "changedKeys", keys)
		if w.onStateChange != nil {
			w.onStateChange(next, keys)
		}
	}
}

func stateFromObservation(nodes []osclient.Node, health *osclient.ClusterHealth) State {
	var master, clusterManager, version string
	for _, n := range nodes {
		if n.Master == "*" {
			master = n.Name
		}
		if n.ClusterManager == "*" {
			clusterManager = n.Name
		}
		if version == "" {
			version = n.Version
		}
	}
	return State{
		NumberOfNodes:  len(nodes),
		Master:         master,
		ClusterManager: clusterManager,
		Status:         health.Status,
		Version:        version,
	}
}
