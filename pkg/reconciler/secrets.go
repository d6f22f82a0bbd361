package reconciler

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/certificates"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/kubeclient"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/password"
)

// credentialsSecretKey returns the Secret data key for a given internal
// user's password.
func credentialsSecretKey(user string) string { return user + "-password" }

// ensureCredentialsSecret: if the credentials Secret is absent, generate
// seven random hex passwords (one per internal user; "metrics" uses the
// operator-global shared password) and apply the Secret; otherwise skip
// entirely.
func (r *Reconciler) ensureCredentialsSecret(ctx context.Context, cluster *v1alpha1.Cluster) error {
	name := secretName(cluster)
	exists, err := r.deps.KubeClient.Exists(ctx, secretResource, cluster.Namespace, name)
	if err != nil {
		return fmt.Errorf("checking credentials secret %s/%s: %w", cluster.Namespace, name, err)
	}
	if exists {
		return nil
	}

	vars := map[string]string{"name": name, "namespace": cluster.Namespace}
	for _, user := range internalUsers {
		var pw string
		if user == "metrics" {
			pw, err = r.deps.MetricsPassword.Get()
			if err != nil {
				return fmt.Errorf("resolving operator-global metrics password: %w", err)
			}
		} else {
			pw, err = password.GenerateHex(16)
			if err != nil {
				return fmt.Errorf("generating password for internal user %q: %w", user, err)
			}
		}
		vars[user+"_password_b64"] = b64([]byte(pw))
	}

	rendered, err := r.deps.Templates.Render("credentials_secret", vars)
	if err != nil {
		return fmt.Errorf("rendering credentials secret template: %w", err)
	}

	var secret corev1.Secret
	if err := yaml.Unmarshal([]byte(rendered), &secret); err != nil {
		return fmt.Errorf("parsing rendered credentials secret template: %w", err)
	}
	secret.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if err := r.deps.KubeClient.Apply(ctx, secretResource, cluster.Namespace, name, &secret, nil); err != nil {
		return fmt.Errorf("applying credentials secret %s/%s: %w", cluster.Namespace, name, err)
	}
	return nil
}

// ensureCertificatesSecret: if absent, runs CertAuthority and applies
// the Secret; otherwise reads and returns the existing bundle.
// Certificate material is never regenerated once created.
func (r *Reconciler) ensureCertificatesSecret(ctx context.Context, cluster *v1alpha1.Cluster) (*certificates.Bundle, error) {
	name := certificatesSecretName(cluster)

	var existing corev1.Secret
	getErr := r.deps.KubeClient.Get(ctx, secretResource, cluster.Namespace, name, &existing)
	if getErr == nil {
		return &certificates.Bundle{
			CACert:    existing.Data["ca.crt"],
			CAKey:     existing.Data["ca.key"],
			NodeCert:  existing.Data["node.crt"],
			NodeKey:   existing.Data["node.key"],
			AdminCert: existing.Data["admin.crt"],
			AdminKey:  existing.Data["admin.key"],
		}, nil
	}
	if !kubeclient.IsNotFound(getErr) {
		return nil, fmt.Errorf("checking certificates secret %s/%s: %w", cluster.Namespace, name, getErr)
	}

	bundle, err := certificates.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating certificate bundle for %s/%s: %w", cluster.Namespace, cluster.Name, err)
	}

	rendered, err := r.deps.Templates.Render("certificates_secret", map[string]string{
		"name":          name,
		"namespace":     cluster.Namespace,
		"ca_crt_b64":    b64(bundle.CACert),
		"ca_key_b64":    b64(bundle.CAKey),
		"node_crt_b64":  b64(bundle.NodeCert),
		"node_key_b64":  b64(bundle.NodeKey),
		"admin_crt_b64": b64(bundle.AdminCert),
		"admin_key_b64": b64(bundle.AdminKey),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering certificates secret template: %w", err)
	}

	var secret corev1.Secret
	if err := yaml.Unmarshal([]byte(rendered), &secret); err != nil {
		return nil, fmt.Errorf("parsing rendered certificates secret template: %w", err)
	}
	secret.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if err := r.deps.KubeClient.Apply(ctx, secretResource, cluster.Namespace, name, &secret, nil); err != nil {
		return nil, fmt.Errorf("applying certificates secret %s/%s: %w", cluster.Namespace, name, err)
	}
	return bundle, nil
}

// EnsureMetricsSecret implements the operator-global Secret's
// created-if-missing-on-first-need lifecycle: it reads
// MetricsSecretName out of operatorNamespace, and if absent generates a
// password via generate and applies the Secret. The winning password —
// whether freshly generated or already on record — is returned, so that
// callers racing to initialize it still converge on a single shared
// value.
func EnsureMetricsSecret(ctx context.Context, kubeClient *kubeclient.Client, operatorNamespace string, generate func() (string, error)) (string, error) {
	var existing corev1.Secret
	getErr := kubeClient.Get(ctx, secretResource, operatorNamespace, MetricsSecretName, &existing)
	if getErr == nil {
		if pw, ok := existing.Data["metrics-password"]; ok {
			return string(pw), nil
		}
		return "", fmt.Errorf("metrics secret %s/%s is missing its password key", operatorNamespace, MetricsSecretName)
	}
	if !kubeclient.IsNotFound(getErr) {
		return "", fmt.Errorf("checking metrics secret %s/%s: %w", operatorNamespace, MetricsSecretName, getErr)
	}

	pw, err := generate()
	if err != nil {
		return "", fmt.Errorf("generating metrics password: %w", err)
	}

	secret := corev1.Secret{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{Name: MetricsSecretName, Namespace: operatorNamespace},
		Type:       corev1.SecretTypeOpaque,
		Data:       map[string][]byte{"metrics-password": []byte(pw)},
	}
	if err := kubeClient.Apply(ctx, secretResource, operatorNamespace, MetricsSecretName, &secret, nil); err != nil {
		return "", fmt.Errorf("applying metrics secret %s/%s: %w", operatorNamespace, MetricsSecretName, err)
	}
	return pw, nil
}

// adminPassword reads the admin internal user's password out of the
// credentials Secret, used to authenticate the health watcher's
// OpenSearch REST client.
func (r *Reconciler) adminPassword(ctx context.Context, cluster *v1alpha1.Cluster) (string, error) {
	var secret corev1.Secret
	if err := r.deps.KubeClient.Get(ctx, secretResource, cluster.Namespace, secretName(cluster), &secret); err != nil {
		return "", fmt.Errorf("reading credentials secret for admin password: %w", err)
	}
	pw, ok := secret.Data[credentialsSecretKey("admin")]
	if !ok {
		return "", fmt.Errorf("credentials secret %s/%s has no admin password", cluster.Namespace, secret.Name)
	}
	return string(pw), nil
}
