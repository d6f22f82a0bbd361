package reconciler

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/kubeclient"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/template"
)

// fakeAPIServer is a minimal in-memory stand-in for the apiserver,
// enough to exercise Reconciler.Reconcile end to end: GET returns 404
// for anything never applied, PATCH (both SSA and merge-patch) stores
// whatever body it receives keyed by path, matching the idempotent-
// upsert semantics the reconciler depends on.
type fakeAPIServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	applies map[string]int
}

func newFakeAPIServer() (*httptest.Server, *fakeAPIServer) {
	f := &fakeAPIServer{objects: map[string][]byte{}, applies: map[string]int{}}
	return httptest.NewTLSServer(http.HandlerFunc(f.handle)), f
}

func (f *fakeAPIServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch r.Method {
	case http.MethodGet:
		body, ok := f.objects[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"kind":"Status","status":"Failure","code":404}`))
			return
		}
		_, _ = w.Write(body)
	case http.MethodPatch:
		buf := make([]byte, 0, 8192)
		tmp := make([]byte, 4096)
		for {
			n, err := r.Body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if err != nil {
				break
			}
		}
		f.applies[path]++
		f.objects[path] = buf
		_, _ = w.Write(buf)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testDeps(t *testing.T, srv *httptest.Server) Deps {
	t.Helper()
	info := &kubeclient.ConnInfo{Host: srv.URL, TLSConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	client := kubeclient.NewFromConnInfo(info)

	renderer, err := template.Load("../../templates")
	require.NoError(t, err)

	return Deps{
		KubeClient:        client,
		Templates:         renderer,
		MetricsPassword:   NewMetricsPassword(func() (string, error) { return "metrics-shared-secret", nil }),
		OperatorNamespace: "opensearch-operator",
		Log:               logr.Discard(),
	}
}

func testCluster() *v1alpha1.Cluster {
	return &v1alpha1.Cluster{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "example",
			Namespace:         "default",
			UID:               "u1",
			CreationTimestamp: metav1.NewTime(time.Unix(1700000000, 0)),
		},
		Spec: v1alpha1.ClusterSpec{
			Image:    "opensearchproject/opensearch:3.1.0",
			Replicas: 3,
			DiskSize: "5Gi",
			Resources: corev1.ResourceRequirements{
				Limits: corev1.ResourceList{
					corev1.ResourceMemory: resource.MustParse("4Gi"),
				},
			},
		},
	}
}

func TestReconcile_ColdStart_AppliesEveryChildResourceOnce(t *testing.T) {
	srv, fake := newFakeAPIServer()
	defer srv.Close()
	deps := testDeps(t, srv)
	cluster := testCluster()

	r := New(deps, cluster)
	t.Cleanup(r.Finalize)
	require.NoError(t, r.Reconcile(context.Background()))

	expected := []string{
		"opensearch-example-credentials",
		"opensearch-example-certificates",
		"opensearch-example-security-config",
		"opensearch-example",
		"opensearch-example-dashboards",
		"opensearch-example-dashboards-service",
	}
	for _, name := range expected {
		found := false
		for path := range fake.objects {
			if containsSuffix(path, name) {
				found = true
				break
			}
		}
		assert.True(t, found, "expected a child resource applied under name %q, got paths %v", name, keysOf(fake.objects))
	}

	// A second reconcile of the identical manifest must not regenerate
	// the credentials/certificates secrets (invariants 2 and 3); it is
	// still expected to re-apply the ConfigMap/Service/StatefulSet/
	// Deployment (cheap, idempotent SSA no-ops at the real apiserver).
	credentialsApplies := applyCountForSuffix(fake, "opensearch-example-credentials")
	certificatesApplies := applyCountForSuffix(fake, "opensearch-example-certificates")

	require.NoError(t, r.Reconcile(context.Background()))

	assert.Equal(t, credentialsApplies, applyCountForSuffix(fake, "opensearch-example-credentials"))
	assert.Equal(t, certificatesApplies, applyCountForSuffix(fake, "opensearch-example-certificates"))
}

func TestUpdate_MetadataOnlyChangeDoesNotReconcile(t *testing.T) {
	srv, fake := newFakeAPIServer()
	defer srv.Close()
	deps := testDeps(t, srv)
	cluster := testCluster()

	r := New(deps, cluster)
	t.Cleanup(r.Finalize)
	require.NoError(t, r.Reconcile(context.Background()))
	appliesAfterFirstReconcile := len(fake.applies)

	updated := cluster.DeepCopyObject().(*v1alpha1.Cluster)
	updated.ResourceVersion = "999"
	updated.Labels = map[string]string{"x": "y"}

	require.NoError(t, r.Update(context.Background(), updated))
	assert.Equal(t, updated, r.Manifest())
	assert.Len(t, fake.applies, appliesAfterFirstReconcile, "metadata-only update must not trigger any further writes")
}

func TestUpdate_SpecChangeTriggersReconcile(t *testing.T) {
	srv, fake := newFakeAPIServer()
	defer srv.Close()
	deps := testDeps(t, srv)
	cluster := testCluster()

	r := New(deps, cluster)
	t.Cleanup(r.Finalize)
	require.NoError(t, r.Reconcile(context.Background()))
	credentialsApplies := applyCountForSuffix(fake, "opensearch-example-credentials")

	updated := cluster.DeepCopyObject().(*v1alpha1.Cluster)
	updated.Spec.Replicas = 5

	require.NoError(t, r.Update(context.Background(), updated))

	// Credentials/certificates are not regenerated on a spec change that
	// does not touch them (invariants 2 and 3).
	assert.Equal(t, credentialsApplies, applyCountForSuffix(fake, "opensearch-example-credentials"))

	var sts map[string]interface{}
	for path, body := range fake.objects {
		if containsSuffix(path, "statefulsets/opensearch-example") {
			require.NoError(t, json.Unmarshal(body, &sts))
		}
	}
	require.NotNil(t, sts, "expected the statefulset to have been applied")
}

func containsSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func applyCountForSuffix(fake *fakeAPIServer, suffix string) int {
	total := 0
	for path, n := range fake.applies {
		if containsSuffix(path, suffix) {
			total += n
		}
	}
	return total
}
