package domain

import "context"

// LineSource is an open, byte-oriented device connection that yields newline
// terminated lines.
type LineSource interface {
	// ReadLine blocks until a full line is available or the read timeout expires.
	// A timeout with no complete line returns ErrNoData.
	ReadLine() ([]byte, error)

	// Close releases the underlying device.
	Close() error
}

// ObjectStore abstracts the S3-compatible remote storage.
type ObjectStore interface {
	// PutObject uploads the file at sourcePath under key, overwriting any existing
	// object, and returns the number of bytes sent.
	PutObject(ctx context.Context, key, sourcePath string) (int64, error)

	// SetObjectTags replaces the tag set of an existing object.
	SetObjectTags(ctx context.Context, key string, tags map[string]string) error
}

// UploadJournal is the durable log backing the upload queue so pending jobs
// survive a restart.
type UploadJournal interface {
	// Write appends an entry to the journal.
	Write(ctx context.Context, entry JournalEntry) error

	// Replay reads entries in the order they were written and sends them to handler.
	Replay(ctx context.Context, handler func(entry JournalEntry) error) error

	// Truncate removes all journal segments once nothing is pending.
	Truncate(ctx context.Context) error
}

// UploadCatalog records confirmed uploads for later discovery.
type UploadCatalog interface {
	RecordUpload(ctx context.Context, obj UploadedObject) error
}

// StatusPublisher pushes status snapshots to an external observer.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status Status) error
}
