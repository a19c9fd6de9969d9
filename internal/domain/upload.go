package domain

import "time"

// UploadCallback is invoked asynchronously after a job's object has been stored
// and tagged.
type UploadCallback func(job UploadJob)

// UploadJob is one local file pending transfer to remote storage.
type UploadJob struct {
	SourcePath string    `json:"source_path"`
	TargetKey  string    `json:"target_key"`
	CaptureID  string    `json:"capture_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Filled in by the upload worker before the callback runs.
	UploadedBytes int64     `json:"-"`
	UploadedAt    time.Time `json:"-"`

	Callback UploadCallback `json:"-"`
}

// Tags returns the object tags attached to the remote copy.
func (j UploadJob) Tags() map[string]string {
	tags := make(map[string]string, 2)
	if j.CaptureID != "" {
		tags["capture_id"] = j.CaptureID
	}
	if j.NodeID != "" {
		tags["node_id"] = j.NodeID
	}
	return tags
}

// JournalOp names an upload journal entry kind.
type JournalOp string

const (
	JournalEnqueued  JournalOp = "enqueued"
	JournalCompleted JournalOp = "completed"
)

// JournalEntry is one line of the durable upload journal.
type JournalEntry struct {
	Op         JournalOp `json:"op"`
	Job        UploadJob `json:"job"`
	RecordedAt time.Time `json:"recorded_at"`
}

// UploadedObject is the catalog row written after a confirmed upload.
type UploadedObject struct {
	Key        string    `json:"object_key"`
	CaptureID  string    `json:"capture_id"`
	NodeID     string    `json:"node_id"`
	Bytes      int64     `json:"bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}
