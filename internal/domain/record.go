package domain

import "time"

// Record is one decoded data line from the acquisition device. It is created by the
// parser, handed to the capture writer, and not retained afterwards.
type Record struct {
	Time       time.Time `json:"time"`
	ReceivedAt time.Time `json:"received_at"`
	SampleRate int       `json:"sample_rate"`
	GPSFix     bool      `json:"gps_fix"`
	Clipping   bool      `json:"clipping"`
	Samples    []int32   `json:"samples"`
}

// HasGPSFix reports whether the device had a valid time reference for this record.
func (r Record) HasGPSFix() bool { return r.GPSFix }

// IsClipping reports whether any sample in the record exceeded the device range.
func (r Record) IsClipping() bool { return r.Clipping }
