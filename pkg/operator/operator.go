// Package operator implements the top-level watch loop on the
// OpenSearch custom resource. It lists every
// Cluster once, reconciles each, then opens a resumable watch from the
// observed resourceVersion and dispatches ADDED/MODIFIED/DELETED events
// to a per-uid registry of reconciler.Reconciler instances.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/kubeclient"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/reconciler"
)

var openSearchResource = kubeclient.Resource{
	GroupVersion: v1alpha1.GroupName + "/" + v1alpha1.Version,
	Plural:       v1alpha1.Plural,
	Namespaced:   true,
}

// Loop owns the registry mapping a Cluster's uid to its live
// reconciler.Reconciler. Registry reads happen from the
// watch-dispatch goroutine; nothing else touches it, so a plain mutex
// is sufficient.
type Loop struct {
	deps      reconciler.Deps
	namespace string

	mu    sync.Mutex
	byUID map[string]*reconciler.Reconciler
}

// New constructs a Loop. namespace restricts the list/watch to a single
// namespace; an empty string watches cluster-wide.
func New(deps reconciler.Deps, namespace string) *Loop {
	return &Loop{
		deps:      deps,
		namespace: namespace,
		byUID:     map[string]*reconciler.Reconciler{},
	}
}

// Run lists every Cluster, reconciling each in turn, then watches from
// the observed resourceVersion until ctx is canceled or the watch
// reports a fatal condition (kubeclient.ErrWatchExpired on a 410 Gone).
// Run returns that error to the caller, which is expected to abort the
// process so a supervisor restarts it with a fresh list.
func (l *Loop) Run(ctx context.Context) error {
	var list v1alpha1.ClusterList
	if err := l.deps.KubeClient.List(ctx, openSearchResource, l.namespace, nil, &list); err != nil {
		return fmt.Errorf("listing OpenSearch clusters: %w", err)
	}

	for i := range list.Items {
		cluster := &list.Items[i]
		l.deps.Log.Info("reconciling cluster from initial list", "cluster", cluster.NamespacedName())
		if err := l.upsert(ctx, cluster); err != nil {
			l.deps.Log.Error(err, "initial reconcile failed", "cluster", cluster.NamespacedName())
		}
	}

	resourceVersion := list.ListMeta.ResourceVersion
	return l.deps.KubeClient.Watch(ctx, openSearchResource, l.namespace, resourceVersion, l.dispatch)
}

// dispatch routes one decoded watch event to the registry.
func (l *Loop) dispatch(ev kubeclient.Event) error {
	switch ev.Type {
	case kubeclient.EventAdded, kubeclient.EventModified:
		var cluster v1alpha1.Cluster
		if err := json.Unmarshal(ev.Object, &cluster); err != nil {
			return fmt.Errorf("decoding %s event: %w", ev.Type, err)
		}
		return l.upsert(context.Background(), &cluster)
	case kubeclient.EventDeleted:
		var cluster v1alpha1.Cluster
		if err := json.Unmarshal(ev.Object, &cluster); err != nil {
			return fmt.Errorf("decoding DELETED event: %w", err)
		}
		l.remove(string(cluster.UID))
		return nil
	default:
		return fmt.Errorf("unexpected watch event type %q", ev.Type)
	}
}

// upsert finds the existing reconciler.Reconciler for this Cluster's
// uid; if one exists it calls Update (which itself no-ops unless the
// spec changed), otherwise it constructs one and runs a full Reconcile.
func (l *Loop) upsert(ctx context.Context, cluster *v1alpha1.Cluster) error {
	uid := string(cluster.UID)

	l.mu.Lock()
	r, ok := l.byUID[uid]
	l.mu.Unlock()

	if ok {
		return r.Update(ctx, cluster)
	}

	r = reconciler.New(l.deps, cluster)
	l.mu.Lock()
	l.byUID[uid] = r
	l.mu.Unlock()

	l.deps.Log.Info("registered new cluster", "cluster", cluster.NamespacedName(), "uid", uid)
	return r.Reconcile(ctx)
}

// remove finalizes and drops the registry entry for uid. A DELETED
// event for an unknown uid is a silent no-op rather than an error.
func (l *Loop) remove(uid string) {
	l.mu.Lock()
	r, ok := l.byUID[uid]
	delete(l.byUID, uid)
	l.mu.Unlock()

	if !ok {
		return
	}
	r.Finalize()
}
