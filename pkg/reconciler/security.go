package reconciler

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"golang.org/x/crypto/bcrypt"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/template"
)

// ensureSecurityConfig reads the current credentials Secret,
// bcrypt-hashes each password, renders the `_internal_users` and
// `_roles` templates, and applies the resulting ConfigMap. Always runs
// — it is cheap and idempotent via SSA.
func (r *Reconciler) ensureSecurityConfig(ctx context.Context, cluster *v1alpha1.Cluster) error {
	var secret corev1.Secret
	if err := r.deps.KubeClient.Get(ctx, secretResource, cluster.Namespace, secretName(cluster), &secret); err != nil {
		return fmt.Errorf("reading credentials secret for security config: %w", err)
	}

	hashedUsers := make(map[string]string, len(internalUsers))
	for _, user := range internalUsers {
		plain, ok := secret.Data[credentialsSecretKey(user)]
		if !ok {
			return fmt.Errorf("credentials secret %s/%s is missing password for internal user %q", cluster.Namespace, secret.Name, user)
		}
		hash, err := bcrypt.GenerateFromPassword(plain, bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password for internal user %q: %w", user, err)
		}
		hashedUsers[user] = string(hash)
	}

	internalUsersYAML, err := renderInternalUsersYAML(r.deps.Templates, hashedUsers)
	if err != nil {
		return fmt.Errorf("rendering internal_users.yml: %w", err)
	}
	rolesYAML, err := r.deps.Templates.Render("_roles", nil)
	if err != nil {
		return fmt.Errorf("rendering roles.yml: %w", err)
	}

	name := securityConfigMapName(cluster)
	rendered, err := r.deps.Templates.Render("security_configmap", map[string]string{
		"name":               name,
		"namespace":          cluster.Namespace,
		"internal_users_b64": b64([]byte(internalUsersYAML)),
		"roles_b64":          b64([]byte(rolesYAML)),
	})
	if err != nil {
		return fmt.Errorf("rendering security configmap template: %w", err)
	}

	var cm corev1.ConfigMap
	if err := yaml.Unmarshal([]byte(rendered), &cm); err != nil {
		return fmt.Errorf("parsing rendered security configmap template: %w", err)
	}
	cm.OwnerReferences = []metav1.OwnerReference{ownerReference(cluster)}

	if err := r.deps.KubeClient.Apply(ctx, configMapResource, cluster.Namespace, name, &cm, nil); err != nil {
		return fmt.Errorf("applying security config map %s/%s: %w", cluster.Namespace, name, err)
	}
	return nil
}

// renderInternalUsersYAML renders the `_internal_users` template once
// per internal user and concatenates the fragments under a single YAML
// document header, so the template itself only ever describes one user
// entry and stays reusable regardless of how many users exist.
func renderInternalUsersYAML(templates *template.Renderer, hashedUsers map[string]string) (string, error) {
	var out strings.Builder
	out.WriteString("---\n")
	for _, user := range internalUsers {
		fragment, err := templates.Render("_internal_users", map[string]string{
			"user": user,
			"hash": hashedUsers[user],
		})
		if err != nil {
			return "", err
		}
		out.WriteString(fragment)
	}
	return out.String(), nil
}
