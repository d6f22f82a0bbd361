package osclient

// Node is one row of `_cat/nodes?h=name,cluster_manager,master,version&format=json`.
type Node struct {
	Name           string `json:"name"`
	ClusterManager string `json:"cluster_manager"`
	Master         string `json:"master"`
	Version        string `json:"version"`
}

// ClusterHealth is the subset of `/_cluster/health` the watcher reads.
type ClusterHealth struct {
	Status string `json:"status"`
}

// SnapshotRepositorySettings is the body of a `PUT /_snapshot/<repo>`
// request. It always sets `hashed_infix` shard_path_type so multiple
// clusters can safely share one bucket.
type SnapshotRepositorySettings struct {
	Type     string                 `json:"type"`
	Settings SnapshotRepositoryBody `json:"settings"`
}

type SnapshotRepositoryBody struct {
	BasePath      string `json:"base_path,omitempty"`
	Bucket        string `json:"bucket"`
	Client        string `json:"client"`
	ShardPathType string `json:"shard_path_type"`
	Region        string `json:"region,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

// SMPolicyDocument is the body of an SM policy PUT/POST, and (with Seq/
// PrimaryTerm populated) the shape decoded back from GET
// `/_plugins/_sm/policies`.
type SMPolicyDocument struct {
	Creation     SMCreation     `json:"creation"`
	Deletion     SMDeletion     `json:"deletion"`
	SnapshotConf SMSnapshotConf `json:"snapshot_config"`
}

type SMCreation struct {
	Schedule SMSchedule `json:"schedule"`
}

type SMSchedule struct {
	Cron SMCron `json:"cron"`
}

type SMCron struct {
	Expression string `json:"expression"`
	Timezone   string `json:"timezone"`
}

type SMDeletion struct {
	Condition SMDeletionCondition `json:"condition"`
}

type SMDeletionCondition struct {
	MaxAge string `json:"max_age"`
}

type SMSnapshotConf struct {
	Repository         string `json:"repository"`
	IncludeGlobalState bool   `json:"include_global_state"`
	Indices            string `json:"indices"`
}

// SMPolicyListEntry wraps one policy as returned by
// GET /_plugins/_sm/policies, carrying the optimistic-concurrency
// tokens a subsequent PUT must echo back.
type SMPolicyListEntry struct {
	PolicyName  string           `json:"policy_name"`
	SeqNo       int64            `json:"seq_no"`
	PrimaryTerm int64            `json:"primary_term"`
	Policy      SMPolicyDocument `json:"policy"`
}

// SMPolicyListResponse is the top-level shape of
// GET /_plugins/_sm/policies.
type SMPolicyListResponse struct {
	Policies []SMPolicyListEntry `json:"policies"`
}
