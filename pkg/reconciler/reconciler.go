// Package reconciler implements the per-cluster ClusterReconciler: the
// idempotent convergence function deriving child Kubernetes resources
// from one OpenSearch custom resource, plus its SnapshotManager
// sub-responsibility.
package reconciler

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/kubeclient"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/metrics"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/observer"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/osclient"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/template"
)

var (
	secretResource      = kubeclient.Resource{GroupVersion: "v1", Plural: "secrets", Namespaced: true}
	configMapResource   = kubeclient.Resource{GroupVersion: "v1", Plural: "configmaps", Namespaced: true}
	serviceResource     = kubeclient.Resource{GroupVersion: "v1", Plural: "services", Namespaced: true}
	statefulSetResource = kubeclient.Resource{GroupVersion: "apps/v1", Plural: "statefulsets", Namespaced: true}
	deploymentResource  = kubeclient.Resource{GroupVersion: "apps/v1", Plural: "deployments", Namespaced: true}
	openSearchResource  = kubeclient.Resource{GroupVersion: v1alpha1.GroupName + "/" + v1alpha1.Version, Plural: v1alpha1.Plural, Namespaced: true}
)

// internalUsers are the seven OpenSearch security-plugin internal users
// the credentials Secret and security ConfigMap manage.
// "metrics" is shared across all clusters via the operator-global
// Secret rather than generated per-cluster.
var internalUsers = []string{
	"admin", "kibanaserver", "kibanaro", "logstash", "readall", "snapshotrestore", "metrics",
}

// MetricsPassword returns the memoized operator-global metrics user
// password, constructing it on first call via a once-initializer so
// concurrent callers converge on a single value.
type MetricsPassword struct {
	once     sync.Once
	value    string
	err      error
	generate func() (string, error)
}

func NewMetricsPassword(generate func() (string, error)) *MetricsPassword {
	return &MetricsPassword{generate: generate}
}

func (m *MetricsPassword) Get() (string, error) {
	m.once.Do(func() {
		m.value, m.err = m.generate()
	})
	return m.value, m.err
}

// Deps are the collaborators every ClusterReconciler shares, injected
// once by OperatorLoop.
type Deps struct {
	KubeClient        *kubeclient.Client
	Templates         *template.Renderer
	MetricsPassword   *MetricsPassword
	OperatorNamespace string
	Log               logr.Logger
}

// Reconciler is the per-cluster state object. One is constructed per
// live Cluster uid and lives in OperatorLoop's registry.
type Reconciler struct {
	deps Deps

	mu       sync.Mutex
	manifest *v1alpha1.Cluster
	watcher  *observer.Watcher
}

// New constructs a Reconciler for a freshly observed Cluster. The
// caller is expected to call Reconcile immediately afterward.
func New(deps Deps, cluster *v1alpha1.Cluster) *Reconciler {
	return &Reconciler{deps: deps, manifest: cluster}
}

// Manifest returns the cached Cluster manifest under lock.
func (r *Reconciler) Manifest() *v1alpha1.Cluster {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manifest
}

// Update replaces the cached manifest; only if spec differs
// (deep-equal) does it call Reconcile. Metadata-only changes (labels,
// annotations, resourceVersion) are ignored.
func (r *Reconciler) Update(ctx context.Context, newManifest *v1alpha1.Cluster) error {
	r.mu.Lock()
	previous := r.manifest
	r.manifest = newManifest
	r.mu.Unlock()

	if reflect.DeepEqual(previous.Spec, newManifest.Spec) {
		return nil
	}
	return r.Reconcile(ctx)
}

// Reconcile is the idempotent convergence function: credentials,
// certificates, security config, workloads, owner references, watcher
// initialization, then status update.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	cluster := r.Manifest()
	start := time.Now()

	err := r.reconcile(ctx, cluster)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ReconcileTotal.WithLabelValues(cluster.Namespace, cluster.Name, outcome).Inc()
	metrics.ReconcileDuration.WithLabelValues(cluster.Namespace, cluster.Name).Observe(time.Since(start).Seconds())

	return err
}

func (r *Reconciler) reconcile(ctx context.Context, cluster *v1alpha1.Cluster) error {
	if err := r.ensureCredentialsSecret(ctx, cluster); err != nil {
		return err
	}
	bundle, err := r.ensureCertificatesSecret(ctx, cluster)
	if err != nil {
		return err
	}
	if err := r.ensureSecurityConfig(ctx, cluster); err != nil {
		return err
	}
	if err := r.ensureService(ctx, cluster); err != nil {
		return err
	}
	if err := r.ensureStatefulSet(ctx, cluster, bundle); err != nil {
		return err
	}
	if err := r.ensureDashboardsDeployment(ctx, cluster); err != nil {
		return err
	}
	if err := r.ensureDashboardsService(ctx, cluster); err != nil {
		return err
	}
	return r.initializeOrTriggerWatcher(ctx, cluster)
}

// Finalize stops the health watcher; Kubernetes GC removes child
// resources via their ownerReferences.
func (r *Reconciler) Finalize() {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

func (r *Reconciler) initializeOrTriggerWatcher(ctx context.Context, cluster *v1alpha1.Cluster) error {
	r.mu.Lock()
	w := r.watcher
	r.mu.Unlock()

	if w == nil {
		adminPassword, err := r.adminPassword(ctx, cluster)
		if err != nil {
			return err
		}
		esClient := osclient.NewClient(serviceURL(cluster), osclient.User{Name: "admin", Password: adminPassword}, nil)
		w = observer.New(cluster.NamespacedName(), esClient, observer.Settings{ObservationInterval: observer.DefaultCheckInterval}, r.updateStatus, r.deps.Log)
		r.mu.Lock()
		r.watcher = w
		r.mu.Unlock()
		w.RegisterOnGreen(func() { r.upsertSnapshotRepositories(context.Background(), cluster, w.Client()) })
		w.Start()
		return nil
	}
	w.RegisterOnGreen(func() { r.upsertSnapshotRepositories(context.Background(), cluster, w.Client()) })
	return nil
}

func (r *Reconciler) updateStatus(state observer.State, changedKeys map[string]bool) {
	if !changedKeys["status"] && !changedKeys["number_of_nodes"] && !changedKeys["version"] {
		return
	}
	cluster := r.Manifest()

	patch, err := json.Marshal(map[string]v1alpha1.ClusterStatus{
		"status": {
			Health:  capitalize(state.Status),
			Nodes:   state.NumberOfNodes,
			Version: state.Version,
		},
	})
	if err != nil {
		r.deps.Log.Error(err, "marshaling status patch", "cluster", cluster.NamespacedName())
		return
	}
	if err := r.deps.KubeClient.MergePatch(context.Background(), openSearchResource, cluster.Namespace, cluster.Name, "status", patch, nil); err != nil {
		r.deps.Log.Error(err, "patching status subresource", "cluster", cluster.NamespacedName())
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
