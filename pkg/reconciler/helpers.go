package reconciler

import (
	"fmt"
	"os"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
)

// serviceURL derives the OpenSearch REST endpoint from the managed
// Service's in-cluster DNS name. The REST data path is plaintext even
// though the transport layer uses generated certs, so the scheme is
// always http. CLUSTER_HOST_OVERRIDE lets tests substitute a different
// host.
func serviceURL(cluster *v1alpha1.Cluster) string {
	host := fmt.Sprintf("opensearch-%s.%s.svc.cluster.local", cluster.Name, cluster.Namespace)
	if override := os.Getenv("CLUSTER_HOST_OVERRIDE"); override != "" {
		host = override
	}
	return "http://" + host + ":9200"
}

func secretName(cluster *v1alpha1.Cluster) string        { return "opensearch-" + cluster.Name + "-credentials" }
func certificatesSecretName(cluster *v1alpha1.Cluster) string {
	return "opensearch-" + cluster.Name + "-certificates"
}
func securityConfigMapName(cluster *v1alpha1.Cluster) string {
	return "opensearch-" + cluster.Name + "-security-config"
}
func serviceName(cluster *v1alpha1.Cluster) string    { return "opensearch-" + cluster.Name }
func statefulSetName(cluster *v1alpha1.Cluster) string { return "opensearch-" + cluster.Name }
func dashboardsName(cluster *v1alpha1.Cluster) string  { return "opensearch-" + cluster.Name + "-dashboards" }

// MetricsSecretName is the operator-global Secret (in the operator's
// own namespace) that stores the single shared "metrics" user password
// used across every managed cluster.
const MetricsSecretName = "opensearch-metrics-basic-auth"
