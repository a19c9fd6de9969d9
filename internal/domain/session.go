package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// UnknownSampleRate marks a session that has not yet seen a valid record.
	UnknownSampleRate = -1
	// UnknownNodeID is used when the operator did not configure a node id.
	UnknownNodeID = "UNKNOWN"
)

// Session identifies one continuous acquisition run. Its fields never change after
// NewSession returns.
type Session struct {
	CaptureID uuid.UUID
	NodeID    string
	StartTime time.Time
	Location  string
	Operator  string
}

// NewSession creates a session with a freshly generated capture id.
func NewSession(nodeID, location, operator string, now time.Time) *Session {
	if nodeID == "" {
		nodeID = UnknownNodeID
	}
	return &Session{
		CaptureID: uuid.New(),
		NodeID:    nodeID,
		StartTime: now.UTC(),
		Location:  location,
		Operator:  operator,
	}
}

// Metadata returns a capture file header snapshot for the given rate and sequence.
func (s *Session) Metadata(sampleRate, sequence int, createdAt time.Time) CaptureMetadata {
	return CaptureMetadata{
		CaptureID:  s.CaptureID.String(),
		NodeID:     s.NodeID,
		SampleRate: sampleRate,
		Sequence:   sequence,
		CreatedAt:  createdAt.UTC(),
		Location:   s.Location,
		Operator:   s.Operator,
	}
}

// SessionState holds the mutable per-session scalars. Only the ingest loop writes it;
// readers get best-effort values and must not assume consistency across fields.
type SessionState struct {
	gpsFix       atomic.Bool
	clipping     atomic.Bool
	linesWritten atomic.Int64
	sampleRate   atomic.Int64
	records      atomic.Int64
	rotations    atomic.Int64
}

// NewSessionState creates a state with an unknown sample rate.
func NewSessionState() *SessionState {
	s := &SessionState{}
	s.sampleRate.Store(UnknownSampleRate)
	return s
}

// SetGPSFix stores the fix flag and returns the previous value.
func (s *SessionState) SetGPSFix(v bool) bool { return s.gpsFix.Swap(v) }

// SetClipping stores the clipping flag and returns the previous value.
func (s *SessionState) SetClipping(v bool) bool { return s.clipping.Swap(v) }

// SetSampleRate stores the established rate and returns the previous one.
func (s *SessionState) SetSampleRate(rate int) int { return int(s.sampleRate.Swap(int64(rate))) }

// SetLinesWritten mirrors the active capture file's record count.
func (s *SessionState) SetLinesWritten(n int) { s.linesWritten.Store(int64(n)) }

// RecordWritten counts one more record persisted during the session.
func (s *SessionState) RecordWritten() { s.records.Add(1) }

// Rotated counts one more completed rotation.
func (s *SessionState) Rotated() { s.rotations.Add(1) }

func (s *SessionState) GPSFix() bool      { return s.gpsFix.Load() }
func (s *SessionState) Clipping() bool    { return s.clipping.Load() }
func (s *SessionState) SampleRate() int   { return int(s.sampleRate.Load()) }
func (s *SessionState) LinesWritten() int { return int(s.linesWritten.Load()) }

// Status is a point-in-time view of the daemon used by logs, the admin API and
// the status publisher.
type Status struct {
	CaptureID     string    `json:"capture_id"`
	NodeID        string    `json:"node_id"`
	StartedAt     time.Time `json:"started_at"`
	ReportedAt    time.Time `json:"reported_at"`
	SampleRate    int       `json:"sample_rate"`
	GPSFix        bool      `json:"gps_fix"`
	Clipping      bool      `json:"clipping"`
	LinesWritten  int       `json:"lines_written"`
	RecordsTotal  int64     `json:"records_total"`
	Rotations     int64     `json:"rotations"`
	QueueDepth    int       `json:"queue_depth"`
	UploaderAlive bool      `json:"uploader_alive"`
	DeviceState   string    `json:"device_state"`
}

// Snapshot copies the session identity and current scalars into a Status. The
// caller fills in queue, uploader and device fields.
func (s *SessionState) Snapshot(session *Session, now time.Time) Status {
	return Status{
		CaptureID:    session.CaptureID.String(),
		NodeID:       session.NodeID,
		StartedAt:    session.StartTime,
		ReportedAt:   now.UTC(),
		SampleRate:   s.SampleRate(),
		GPSFix:       s.GPSFix(),
		Clipping:     s.Clipping(),
		LinesWritten: s.LinesWritten(),
		RecordsTotal: s.records.Load(),
		Rotations:    s.rotations.Load(),
	}
}
