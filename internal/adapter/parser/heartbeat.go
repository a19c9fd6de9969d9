// Package parser decodes heartbeat device data lines into records.
//
// A data line, with the leading '$' already removed, looks like
//
//	<unix_time>,<sample_rate>,<gps>,<clip>,<s0>,<s1>,...[*HH]
//
// where gps is 'A' (fix) or 'V' (no fix), clip is '0' or '1', and the optional
// HH is the hex XOR of every byte before the '*'.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const minFields = 5

// Parse decodes one data line. It never panics; every malformed input yields a
// *domain.ParseError.
func Parse(line string) (domain.Record, error) {
	body, err := verifyChecksum(line)
	if err != nil {
		return domain.Record{}, err
	}

	fields := strings.Split(body, ",")
	if len(fields) < minFields {
		return domain.Record{}, parseErr(line, fmt.Sprintf("wrong field count: got %d, want at least %d", len(fields), minFields), nil)
	}

	ts, err := parseUnixTime(fields[0])
	if err != nil {
		return domain.Record{}, parseErr(line, "invalid timestamp", err)
	}

	rate, err := strconv.Atoi(fields[1])
	if err != nil {
		return domain.Record{}, parseErr(line, "invalid sample rate", err)
	}
	if rate <= 0 {
		return domain.Record{}, parseErr(line, fmt.Sprintf("sample rate must be positive, got %d", rate), nil)
	}

	var rec domain.Record
	switch fields[2] {
	case "A":
		rec.GPSFix = true
	case "V":
		rec.GPSFix = false
	default:
		return domain.Record{}, parseErr(line, fmt.Sprintf("unknown gps flag %q", fields[2]), nil)
	}

	switch fields[3] {
	case "1":
		rec.Clipping = true
	case "0":
		rec.Clipping = false
	default:
		return domain.Record{}, parseErr(line, fmt.Sprintf("unknown clipping flag %q", fields[3]), nil)
	}

	samples := make([]int32, 0, len(fields)-4)
	for i, f := range fields[4:] {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return domain.Record{}, parseErr(line, fmt.Sprintf("invalid sample at index %d", i), err)
		}
		samples = append(samples, int32(v))
	}

	rec.Time = ts
	rec.SampleRate = rate
	rec.Samples = samples
	return rec, nil
}

// Format renders a record as a data line body (without the leading '$') with a
// trailing checksum. Parse(Format(r)) reproduces r's device fields.
func Format(rec domain.Record) string {
	var b strings.Builder
	b.WriteString(formatUnixTime(rec.Time))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(rec.SampleRate))
	if rec.GPSFix {
		b.WriteString(",A")
	} else {
		b.WriteString(",V")
	}
	if rec.Clipping {
		b.WriteString(",1")
	} else {
		b.WriteString(",0")
	}
	for _, s := range rec.Samples {
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(int64(s), 10))
	}
	body := b.String()
	return fmt.Sprintf("%s*%02X", body, Checksum(body))
}

// Checksum returns the XOR of all bytes in body.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

func verifyChecksum(line string) (string, error) {
	idx := strings.LastIndexByte(line, '*')
	if idx < 0 {
		return line, nil
	}
	body, suffix := line[:idx], line[idx+1:]
	if len(suffix) != 2 {
		return "", parseErr(line, "malformed checksum", nil)
	}
	want, err := strconv.ParseUint(suffix, 16, 8)
	if err != nil {
		return "", parseErr(line, "malformed checksum", err)
	}
	if got := Checksum(body); got != byte(want) {
		return "", parseErr(line, fmt.Sprintf("checksum mismatch: got %02X, want %02X", got, want), nil)
	}
	return body, nil
}

func parseUnixTime(s string) (time.Time, error) {
	secPart, fracPart, hasFrac := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if !hasFrac {
		return time.Unix(sec, 0).UTC(), nil
	}
	if fracPart == "" || len(fracPart) > 9 || !allDigits(fracPart) {
		return time.Time{}, fmt.Errorf("bad fractional seconds %q", fracPart)
	}
	nsec, err := strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	// "-0.5" is half a second before the epoch; the sign covers the fraction too.
	if strings.HasPrefix(secPart, "-") {
		nsec = -nsec
	}
	return time.Unix(sec, nsec).UTC(), nil
}

func formatUnixTime(t time.Time) string {
	sec, nsec := t.Unix(), int64(t.Nanosecond())
	if nsec == 0 {
		return strconv.FormatInt(sec, 10)
	}
	sign := ""
	if sec < 0 {
		sign = "-"
		sec, nsec = -sec-1, 1_000_000_000-nsec
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", nsec), "0")
	return sign + strconv.FormatInt(sec, 10) + "." + frac
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseErr(line, reason string, err error) *domain.ParseError {
	return &domain.ParseError{Line: line, Reason: reason, Err: err}
}
