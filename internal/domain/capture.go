package domain

import "time"

// CaptureMetadata is the header snapshot written at the top of every capture file.
type CaptureMetadata struct {
	CaptureID  string    `json:"capture_id"`
	NodeID     string    `json:"node_id"`
	SampleRate int       `json:"sample_rate"`
	Sequence   int       `json:"sequence"`
	CreatedAt  time.Time `json:"created_at"`
	Location   string    `json:"location,omitempty"`
	Operator   string    `json:"operator,omitempty"`
}

// CaptureFile describes one rotation unit. While Closed is false it belongs to the
// capture writer; once closed and enqueued it belongs to the upload queue.
type CaptureFile struct {
	Path         string
	Sequence     int
	LinesWritten int
	Metadata     CaptureMetadata
	Closed       bool
}
