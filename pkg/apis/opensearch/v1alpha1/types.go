// Copyright Reclaim the Stack and/or licensed to Reclaim the Stack under one
// or more contributor license agreements. Licensed under the Apache License
// 2.0; you may not use this file except in compliance with the License.

// Package v1alpha1 holds the OpenSearch custom resource schema, group
// opensearch.reclaim-the-stack.com, version v1alpha1, plural opensearches.
package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// GroupName is the API group the OpenSearch CRD is registered under.
const GroupName = "opensearch.reclaim-the-stack.com"

// Version is the only served version of the CRD.
const Version = "v1alpha1"

// Plural is the resource's plural name as used in REST paths and RBAC.
const Plural = "opensearches"

// SecretKeyRef points at a single key within a Secret in the same
// namespace as the Cluster, the way corev1.SecretKeySelector does, kept as
// its own type since the core only ever needs (name, key), not an
// optional flag.
type SecretKeyRef struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// SnapshotPolicy describes one OpenSearch Snapshot Management policy to
// converge once the cluster is green, scoped to a single repository.
type SnapshotPolicy struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	MaxAge   string `json:"max_age"`
}

// SnapshotRepository describes one S3-backed snapshot repository and the
// policies that should exist against it.
type SnapshotRepository struct {
	Name            string           `json:"name"`
	Bucket          string           `json:"bucket"`
	BasePath        string           `json:"base_path,omitempty"`
	Region          string           `json:"region,omitempty"`
	Endpoint        string           `json:"endpoint,omitempty"`
	Protocol        string           `json:"protocol,omitempty"`
	AccessKeyID     SecretKeyRef     `json:"accessKeyId"`
	SecretAccessKey SecretKeyRef     `json:"secretAccessKey"`
	Policies        []SnapshotPolicy `json:"policies,omitempty"`
}

// ClusterSpec is the user-authored desired state. Tolerations and
// NodeSelector are passed through to templates as opaque values; the
// core never interprets their contents.
type ClusterSpec struct {
	Image                string                      `json:"image"`
	Replicas             int32                       `json:"replicas"`
	DiskSize             string                      `json:"diskSize"`
	Resources            corev1.ResourceRequirements `json:"resources,omitempty"`
	NodeSelector         map[string]string           `json:"nodeSelector,omitempty"`
	Tolerations          []corev1.Toleration         `json:"tolerations,omitempty"`
	Config               map[string]interface{}      `json:"config,omitempty"`
	SnapshotRepositories []SnapshotRepository        `json:"snapshotRepositories,omitempty"`
}

// ClusterStatus is written to the /status subresource. It is a
// derived read-through view of the health watcher's last observation,
// not ground truth.
type ClusterStatus struct {
	Health  string `json:"health,omitempty"`
	Nodes   int    `json:"nodes,omitempty"`
	Version string `json:"version,omitempty"`
}

// Cluster is the OpenSearch custom resource. It satisfies runtime.Object
// so it can flow through the same watch-decoding path as any other typed
// Kubernetes object, even though this operator does not use a generated
// clientset or controller-runtime's scheme machinery to get there.
type Cluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterSpec   `json:"spec"`
	Status ClusterStatus `json:"status,omitempty"`
}

// ClusterList is the list wrapper returned by LIST requests.
type ClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []Cluster `json:"items"`
}

// DeepCopyObject implements runtime.Object.
func (c *Cluster) DeepCopyObject() runtime.Object {
	if c == nil {
		return nil
	}
	out := new(Cluster)
	*out = *c
	out.ObjectMeta = *c.ObjectMeta.DeepCopy()
	out.Spec = *c.Spec.DeepCopy()
	return out
}

// DeepCopyObject implements runtime.Object.
func (l *ClusterList) DeepCopyObject() runtime.Object {
	if l == nil {
		return nil
	}
	out := new(ClusterList)
	out.TypeMeta = l.TypeMeta
	out.ListMeta = l.ListMeta
	if l.Items != nil {
		out.Items = make([]Cluster, len(l.Items))
		for i := range l.Items {
			out.Items[i] = *l.Items[i].DeepCopyObject().(*Cluster)
		}
	}
	return out
}

// DeepCopy returns a deep copy of the spec, used by ClusterReconciler.update
// to compare against the cached manifest without aliasing slices/maps.
func (s *ClusterSpec) DeepCopy() *ClusterSpec {
	if s == nil {
		return nil
	}
	out := new(ClusterSpec)
	*out = *s
	out.Resources = *s.Resources.DeepCopy()
	if s.NodeSelector != nil {
		out.NodeSelector = make(map[string]string, len(s.NodeSelector))
		for k, v := range s.NodeSelector {
			out.NodeSelector[k] = v
		}
	}
	if s.Tolerations != nil {
		out.Tolerations = make([]corev1.Toleration, len(s.Tolerations))
		copy(out.Tolerations, s.Tolerations)
	}
	if s.Config != nil {
		out.Config = deepCopyJSON(s.Config)
	}
	if s.SnapshotRepositories != nil {
		out.SnapshotRepositories = make([]SnapshotRepository, len(s.SnapshotRepositories))
		for i, r := range s.SnapshotRepositories {
			rc := r
			if r.Policies != nil {
				rc.Policies = make([]SnapshotPolicy, len(r.Policies))
				copy(rc.Policies, r.Policies)
			}
			out.SnapshotRepositories[i] = rc
		}
	}
	return out
}

func deepCopyJSON(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyJSONValue(v)
	}
	return out
}

func deepCopyJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyJSON(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyJSONValue(e)
		}
		return out
	default:
		return t
	}
}

// NamespacedName is a convenience alias used across the core to key the
// per-cluster registry and the health-watcher callbacks by (namespace,
// name) while uid remains the canonical identity.
type NamespacedName struct {
	Namespace string
	Name      string
}

func (c *Cluster) NamespacedName() NamespacedName {
	return NamespacedName{Namespace: c.Namespace, Name: c.Name}
}
