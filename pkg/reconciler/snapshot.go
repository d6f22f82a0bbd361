package reconciler

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron"
	corev1 "k8s.io/api/core/v1"

	"github.com/reclaim-the-stack/opensearch-operator/pkg/apis/opensearch/v1alpha1"
	"github.com/reclaim-the-stack/opensearch-operator/pkg/osclient"
)

// smPolicyName builds the `<repo>-<policy.name>` SM policy identity.
func smPolicyName(repo, policy string) string { return repo + "-" + policy }

// smPolicyDocument builds the Snapshot Management policy document for
// one repository/policy pair.
func smPolicyDocument(repo string, policy v1alpha1.SnapshotPolicy) osclient.SMPolicyDocument {
	return osclient.SMPolicyDocument{
		Creation: osclient.SMCreation{
			Schedule: osclient.SMSchedule{
				Cron: osclient.SMCron{Expression: policy.Schedule, Timezone: "UTC"},
			},
		},
		Deletion: osclient.SMDeletion{
			Condition: osclient.SMDeletionCondition{MaxAge: policy.MaxAge},
		},
		SnapshotConf: osclient.SMSnapshotConf{
			Repository:         repo,
			IncludeGlobalState: false,
			Indices:            "*,-.opendistro_security",
		},
	}
}

// upsertSnapshotRepositories is SnapshotManager's entry point, invoked
// from the health watcher's one-shot on-green callback. It processes
// every configured repository independently — a failure on one
// repository is logged and does not abort the rest.
func (r *Reconciler) upsertSnapshotRepositories(ctx context.Context, cluster *v1alpha1.Cluster, esClient *osclient.Client) {
	var errs *multierror.Error
	for _, repo := range cluster.Spec.SnapshotRepositories {
		if err := r.upsertSnapshotRepository(ctx, cluster, esClient, repo); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs.ErrorOrNil() != nil {
		r.deps.Log.Error(errs, "reconciling snapshot repositories", "cluster", cluster.NamespacedName())
	}
}

func (r *Reconciler) upsertSnapshotRepository(ctx context.Context, cluster *v1alpha1.Cluster, esClient *osclient.Client, repo v1alpha1.SnapshotRepository) error {
	normalized := normalizedSnapshotRepository(repo)

	for _, policy := range repo.Policies {
		if _, err := cron.Parse(policy.Schedule); err != nil {
			return fmt.Errorf("repository %q policy %q has an invalid cron schedule %q: %w", normalized.Name, policy.Name, policy.Schedule, err)
		}
	}

	if err := r.resolveSnapshotCredentials(ctx, cluster, normalized); err != nil {
		return fmt.Errorf("resolving credentials for repository %q: %w", normalized.Name, err)
	}

	if err := esClient.PutSnapshotRepository(ctx, normalized.Name, osclient.SnapshotRepositorySettings{
		Type: "s3",
		Settings: osclient.SnapshotRepositoryBody{
			BasePath:      normalized.BasePath,
			Bucket:        normalized.Bucket,
			Client:        normalized.Name,
			ShardPathType: "hashed_infix",
			Region:        normalized.Region,
			Endpoint:      normalized.Endpoint,
			Protocol:      normalized.Protocol,
		},
	}); err != nil {
		return err
	}

	existingList, err := esClient.ListSMPolicies(ctx)
	if err != nil {
		return err
	}
	existingByName := make(map[string]osclient.SMPolicyListEntry, len(existingList.Policies))
	for _, entry := range existingList.Policies {
		existingByName[entry.PolicyName] = entry
	}

	desired := make(map[string]bool, len(repo.Policies))
	var errs *multierror.Error
	for _, policy := range repo.Policies {
		name := smPolicyName(normalized.Name, policy.Name)
		desired[name] = true
		doc := smPolicyDocument(normalized.Name, policy)

		if existing, ok := existingByName[name]; ok {
			if err := esClient.UpdateSMPolicy(ctx, name, doc, existing.SeqNo, existing.PrimaryTerm); err != nil {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		if err := esClient.CreateSMPolicy(ctx, name, doc); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for name, entry := range existingByName {
		if entry.Policy.SnapshotConf.Repository != normalized.Name {
			continue
		}
		if desired[name] {
			continue
		}
		if err := esClient.DeleteSMPolicy(ctx, name); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// resolveSnapshotCredentials reads the repository's accessKeyId/
// secretAccessKey Secrets and builds the AWS config and S3 endpoint
// client that describe how OpenSearch's own repository-s3 plugin will
// reach the bucket, so a missing Secret or key is caught as a
// snapshot-reconciliation error attributed to this repository instead
// of surfacing later as an opaque rejection from the plugin itself. It
// makes no network call: bucket reachability and S3 permissions are
// the plugin's responsibility, not the operator's — the operator
// process is not specified to carry S3 egress or any S3 IAM permission.
func (r *Reconciler) resolveSnapshotCredentials(ctx context.Context, cluster *v1alpha1.Cluster, repo v1alpha1.SnapshotRepository) error {
	accessKeyID, err := r.secretKeyValue(ctx, cluster.Namespace, repo.AccessKeyID)
	if err != nil {
		return fmt.Errorf("reading accessKeyId: %w", err)
	}
	secretAccessKey, err := r.secretKeyValue(ctx, cluster.Namespace, repo.SecretAccessKey)
	if err != nil {
		return fmt.Errorf("reading secretAccessKey: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(repo.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	endpoint := repo.Protocol + "://" + repo.Endpoint
	s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true
	})

	return nil
}

// secretKeyValue reads a single key out of a Secret in namespace,
// returning it as a plain string for use as an AWS credential.
func (r *Reconciler) secretKeyValue(ctx context.Context, namespace string, ref v1alpha1.SecretKeyRef) (string, error) {
	var secret corev1.Secret
	if err := r.deps.KubeClient.Get(ctx, secretResource, namespace, ref.Name, &secret); err != nil {
		return "", fmt.Errorf("reading secret %s/%s: %w", namespace, ref.Name, err)
	}
	value, ok := secret.Data[ref.Key]
	if !ok {
		return "", fmt.Errorf("secret %s/%s has no key %q", namespace, ref.Name, ref.Key)
	}
	return string(value), nil
}
