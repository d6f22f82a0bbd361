package reconciler

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
)

// ownerReference builds the single ownerReference every child resource
// carries back to its Cluster, with controller=true and
// blockOwnerDeletion=true referencing the source Cluster's
// (apiVersion, kind, name, uid).
func ownerReference(cluster *v1alpha1.Cluster) metav1.OwnerReference {
	isController := true
	blockDeletion := true
	return metav1.OwnerReference{
		APIVersion:         v1alpha1.GroupName + "/" + v1alpha1.Version,
		Kind:               "OpenSearch",
		Name:               cluster.Name,
		UID:                cluster.UID,
		Controller:         &isController,
		BlockOwnerDeletion: &blockDeletion,
	}
}
