package job

import "time"

// MetadataIdemKey is the metadata field carrying the caller's idempotency key.
const MetadataIdemKey = "client_request_id"

// State is the job pipeline position. It only moves forward, except for the
// bounded waiting-for-worker retry sub-state.
type State int

const (
	StatePending State = iota
	StateWaitingForWorker
	StateLinkRetrieval
	StateLinksRetrieved
	StateUpload
	StateCompleted
	StateFailed
	StateSkippedDuplicate
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWaitingForWorker:
		return "waiting_for_worker"
	case StateLinkRetrieval:
		return "link_retrieval_in_progress"
	case StateLinksRetrieved:
		return "links_retrieved"
	case StateUpload:
		return "artifact_upload_in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "skipped_duplicate_on_restart"
	}
}

// Terminal reports whether no further processing will happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkippedDuplicate
}

// FailCode classifies terminal job failures.
type FailCode string

const (
	FailNoWorkerAvailable    FailCode = "no_worker_available"
	FailConversationTimeout  FailCode = "conversation_timeout"
	FailButtonNotFound       FailCode = "button_not_found"
	FailProviderEmpty        FailCode = "provider_reported_empty"
	FailProviderError        FailCode = "provider_reported_error"
	FailMainURLMissing       FailCode = "main_url_missing"
	FailSignaturesSeenNoURL  FailCode = "signatures_seen_no_url"
	FailDownloadPrimary      FailCode = "download_primary"
	FailPublishPrimary       FailCode = "publish_primary"
	FailInternal             FailCode = "internal"
)

// Artifact is a republished file attached to a job result.
type Artifact struct {
	RemoteKey    string `json:"remote_key"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	URL          string `json:"url"`
}

// Job is the persisted record for one unit of work. Records are never
// deleted automatically; terminal jobs are retained for idempotency lookups
// and audit.
type Job struct {
	ID          string            `json:"id"`
	OriginalURL string            `json:"original_url"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// IdemKey is copied out of Metadata at submission for indexed lookups.
	IdemKey string `json:"idempotency_key,omitempty"`

	State   State `json:"state"`
	Attempt int   `json:"attempt"`

	Primary   *Artifact `json:"primary_artifact,omitempty"`
	Secondary *Artifact `json:"secondary_artifact,omitempty"`

	ErrorKind   FailCode `json:"error_kind,omitempty"`
	ErrorDetail string   `json:"error_detail,omitempty"`

	CallbackState string `json:"callback_state,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	if j.Primary != nil {
		p := *j.Primary
		cp.Primary = &p
	}
	if j.Secondary != nil {
		s := *j.Secondary
		cp.Secondary = &s
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
