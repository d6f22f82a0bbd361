package reconciler

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/blang/semver/v4"
	yamlv3 "gopkg.in/yaml.v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/certificates"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/memory"
)

// defaultOpenSearchConfig is the floor opensearch.yml settings every
// managed cluster gets even if spec.config says nothing. cluster.name
// ties the cluster's nodes together at the transport layer;
// plugins.security.disabled stays explicit (false) so an operator
// reading the rendered config never has to wonder whether the security
// plugin is active. Discovery is seeded from the headless Service's DNS
// name (every pod behind it answers) plus the full set of ordinal pod
// hostnames the StatefulSet will create, so a fresh cluster forms
// without a separate seed-hosts file.
func defaultOpenSearchConfig(cluster *v1alpha1.Cluster) map[string]interface{} {
	name := statefulSetName(cluster)
	if cluster.Spec.Replicas <= 1 {
		return map[string]interface{}{
			"cluster.name":              "opensearch-" + cluster.Name,
			"plugins.security.disabled": false,
			"network.host":              "0.0.0.0",
			"discovery.type":            "single-node",
		}
	}

	managerNodes := make([]string, cluster.Spec.Replicas)
	for i := range managerNodes {
		managerNodes[i] = fmt.Sprintf("%s-%d", name, i)
	}
	return map[string]interface{}{
		"cluster.name":                           "opensearch-" + cluster.Name,
		"plugins.security.disabled":              false,
		"network.host":                           "0.0.0.0",
		"discovery.seed_hosts":                   name,
		"cluster.initial_cluster_manager_nodes":  managerNodes,
	}
}

// mergedOpenSearchConfig layers spec.config over defaultOpenSearchConfig,
// with spec.config winning on every key it sets.
func mergedOpenSearchConfig(cluster *v1alpha1.Cluster) (map[string]interface{}, error) {
	merged := defaultOpenSearchConfig(cluster)
	if err := mergo.Merge(&merged, map[string]interface{}(cluster.Spec.Config), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging spec.config over default opensearch.yml settings: %w", err)
	}
	return merged, nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// ensureService renders and applies the headless Service fronting both
// the REST (9200) and transport (9300) ports.
func (r *Reconciler) ensureService(ctx context.Context, cluster *v1alpha1.Cluster) error {
	name := serviceName(cluster)
	rendered, err := r.deps.Templates.Render("service", map[string]string{
		"name":         name,
		"namespace":    cluster.Namespace,
		"cluster_name": cluster.Name,
	})
	if err != nil {
		return fmt.Errorf("rendering service template: %w", err)
	}

	var svc corev1.Service
	if err := yaml.Unmarshal([]byte(rendered), &svc); err != nil {
		return fmt.Errorf("parsing rendered service template: %w", err)
	}
	svc.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if err := r.deps.KubeClient.Apply(ctx, serviceResource, cluster.Namespace, name, &svc, nil); err != nil {
		return fmt.Errorf("applying service %s/%s: %w", cluster.Namespace, name, err)
	}
	return nil
}

// exporterPluginVersion derives the Prometheus exporter plugin version
// that must exactly match the cluster's own OpenSearch version:
// "<opensearch-version>.0".
func exporterPluginVersion(image string) (string, error) {
	idx := strings.LastIndex(image, ":")
	if idx < 0 {
		return "", fmt.Errorf("image %q has no tag", image)
	}
	tag := image[idx+1:]
	v, err := semver.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("parsing opensearch version from image tag %q: %w", tag, err)
	}
	return fmt.Sprintf("%d.%d.%d.0", v.Major, v.Minor, v.Patch), nil
}

// normalizedSnapshotRepository fills in the region/endpoint/protocol
// defaults: region defaults to us-east-1, endpoint defaults to
// s3.<region>.amazonaws.com, protocol defaults to https.
func normalizedSnapshotRepository(repo v1alpha1.SnapshotRepository) v1alpha1.SnapshotRepository {
	out := repo
	if out.Region == "" {
		out.Region = "us-east-1"
	}
	if out.Endpoint == "" {
		out.Endpoint = "s3." + out.Region + ".amazonaws.com"
	}
	if out.Protocol == "" {
		out.Protocol = "https"
	}
	return out
}

// ensureStatefulSet builds and applies the OpenSearch StatefulSet.
func (r *Reconciler) ensureStatefulSet(ctx context.Context, cluster *v1alpha1.Cluster, bundle *certificates.Bundle) error {
	name := statefulSetName(cluster)
	spec := cluster.Spec

	memLimit := spec.Resources.Limits.Memory().String()
	if spec.Resources.Limits.Memory().IsZero() {
		return fmt.Errorf("statefulset %s/%s: spec.resources.limits.memory is required", cluster.Namespace, name)
	}
	heapFlag, err := memory.HeapFlag(memLimit)
	if err != nil {
		return fmt.Errorf("computing jvm heap for %s/%s: %w", cluster.Namespace, name, err)
	}

	exporterVersion, err := exporterPluginVersion(spec.Image)
	if err != nil {
		return fmt.Errorf("deriving exporter plugin version for %s/%s: %w", cluster.Namespace, name, err)
	}

	normalized := make([]v1alpha1.SnapshotRepository, len(spec.SnapshotRepositories))
	for i, repo := range spec.SnapshotRepositories {
		normalized[i] = normalizedSnapshotRepository(repo)
	}

	mergedConfig, err := mergedOpenSearchConfig(cluster)
	if err != nil {
		return fmt.Errorf("merging opensearch.yml config for %s/%s: %w", cluster.Namespace, name, err)
	}
	configYAML, err := yamlv3.Marshal(mergedConfig)
	if err != nil {
		return fmt.Errorf("serializing opensearch.yml config for %s/%s: %w", cluster.Namespace, name, err)
	}

	startupScript, err := r.deps.Templates.Render("_startup_script", map[string]string{
		"heap_flag":        heapFlag,
		"exporter_version": exporterVersion,
		"config_yaml_b64":  b64(configYAML),
	})
	if err != nil {
		return fmt.Errorf("rendering startup script for %s/%s: %w", cluster.Namespace, name, err)
	}

	rendered, err := r.deps.Templates.Render("statefulset", map[string]string{
		"name":                     name,
		"namespace":                cluster.Namespace,
		"cluster_name":             cluster.Name,
		"image":                    spec.Image,
		"replicas":                 strconv.Itoa(int(spec.Replicas)),
		"disk_size":                spec.DiskSize,
		"creation_timestamp_epoch": strconv.FormatInt(cluster.CreationTimestamp.Unix(), 10),
		"certificates_secret_name": certificatesSecretName(cluster),
		"security_configmap_name":  securityConfigMapName(cluster),
		"startup_script_b64":       b64([]byte(startupScript)),
	})
	if err != nil {
		return fmt.Errorf("rendering statefulset template: %w", err)
	}

	var sts appsv1.StatefulSet
	if err := yaml.Unmarshal([]byte(rendered), &sts); err != nil {
		return fmt.Errorf("parsing rendered statefulset template: %w", err)
	}
	sts.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if len(sts.Spec.Template.Spec.Containers) > 0 {
		sts.Spec.Template.Spec.Containers[0].Resources = spec.Resources
	}
	sts.Spec.Template.Spec.NodeSelector = spec.NodeSelector
	sts.Spec.Template.Spec.Tolerations = spec.Tolerations

	for _, repo := range normalized {
		envPrefix := "S3_CLIENT_" + strings.ToUpper(repo.Name)
		sts.Spec.Template.Spec.Containers[0].Env = append(sts.Spec.Template.Spec.Containers[0].Env,
			corev1.EnvVar{
				Name: envPrefix + "_ACCESS_KEY",
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: repo.AccessKeyID.Name},
						Key:                  repo.AccessKeyID.Key,
					},
				},
			},
			corev1.EnvVar{
				Name: envPrefix + "_SECRET_KEY",
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: repo.SecretAccessKey.Name},
						Key:                  repo.SecretAccessKey.Key,
					},
				},
			},
		)
	}

	if len(sts.Spec.VolumeClaimTemplates) > 0 {
		size, perr := resource.ParseQuantity(spec.DiskSize)
		if perr != nil {
			return fmt.Errorf("parsing disk size %q for %s/%s: %w", spec.DiskSize, cluster.Namespace, name, perr)
		}
		sts.Spec.VolumeClaimTemplates[0].Spec.Resources.Requests = corev1.ResourceList{
			corev1.ResourceStorage: size,
		}
	}

	if err := r.deps.KubeClient.Apply(ctx, statefulSetResource, cluster.Namespace, name, &sts, nil); err != nil {
		return fmt.Errorf("applying statefulset %s/%s: %w", cluster.Namespace, name, err)
	}
	return nil
}

// ensureDashboardsDeployment renders and applies the OpenSearch
// Dashboards Deployment.
func (r *Reconciler) ensureDashboardsDeployment(ctx context.Context, cluster *v1alpha1.Cluster) error {
	name := dashboardsName(cluster)
	rendered, err := r.deps.Templates.Render("dashboards_deployment", map[string]string{
		"name":                     name,
		"namespace":                cluster.Namespace,
		"cluster_name":             cluster.Name,
		"service_name":             serviceName(cluster),
		"certificates_secret_name": certificatesSecretName(cluster),
	})
	if err != nil {
		return fmt.Errorf("rendering dashboards deployment template: %w", err)
	}

	var deploy appsv1.Deployment
	if err := yaml.Unmarshal([]byte(rendered), &deploy); err != nil {
		return fmt.Errorf("parsing rendered dashboards deployment template: %w", err)
	}
	deploy.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if err := r.deps.KubeClient.Apply(ctx, deploymentResource, cluster.Namespace, name, &deploy, nil); err != nil {
		return fmt.Errorf("applying dashboards deployment %s/%s: %w", cluster.Namespace, name, err)
	}
	return nil
}

// ensureDashboardsService renders and applies the Service fronting the
// Dashboards Deployment.
func (r *Reconciler) ensureDashboardsService(ctx context.Context, cluster *v1alpha1.Cluster) error {
	name := dashboardsName(cluster) + "-service"
	rendered, err := r.deps.Templates.Render("dashboards_service", map[string]string{
		"name":         name,
		"namespace":    cluster.Namespace,
		"cluster_name": cluster.Name,
	})
	if err != nil {
		return fmt.Errorf("rendering dashboards service template: %w", err)
	}

	var svc corev1.Service
	if err := yaml.Unmarshal([]byte(rendered), &svc); err != nil {
		return fmt.Errorf("parsing rendered dashboards service template: %w", err)
	}
	svc.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if err := r.deps.KubeClient.Apply(ctx, serviceResource, cluster.Namespace, name, &svc, nil); err != nil {
		return fmt.Errorf("applying dashboards service %s/%s: %w", cluster.Namespace, name, err)
	}
	return nil
}
