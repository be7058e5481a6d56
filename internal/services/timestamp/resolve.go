package timestamp

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Source names which field produced the capture time.
type Source string

const (
	SourceGPS            Source = "gps"
	SourceOffsetField    Source = "offset_field"
	SourceBridgeMarker   Source = "bridge_marker"
	SourceTimezone       Source = "timezone"
	SourceInferredOffset Source = "inferred_offset"
	SourceModTime        Source = "mtime"
)

const (
	offsetStep        = 15 * time.Minute
	maxOffset         = 14 * time.Hour
	maxInferResidual  = 2 * time.Minute
	exifLayout        = "2006:01:02 15:04:05"
	exifLayoutDashed  = "2006-01-02 15:04:05"
	exifDateLayout    = "2006:01:02"
	exifDateLayoutAlt = "2006-01-02"
)

// Resolution is the outcome of capture-time reconciliation.
type Resolution struct {
	Time   time.Time
	Source Source
	// Offset is the local-time offset that was applied or inferred, when
	// one was involved.
	Offset    time.Duration
	HasOffset bool
}

// Resolve picks the authoritative UTC capture time from metadata, in
// priority order: GPS time, explicit offset field, bridge-upload marker,
// camera timezone, offset inferred against modTime, then modTime itself.
func Resolve(meta Metadata, timezone, bridgeMarker string, modTime time.Time) Resolution {
	if t, ok := gpsTime(meta); ok {
		return Resolution{Time: t, Source: SourceGPS}
	}

	local, hasLocal := parseLocal(meta.LocalTime)

	if hasLocal && meta.Offset != "" {
		if off, ok := parseOffset(meta.Offset); ok {
			return Resolution{Time: local.Add(-off).UTC(), Source: SourceOffsetField, Offset: off, HasOffset: true}
		}
	}

	if hasLocal && bridgeMarker != "" && strings.HasPrefix(meta.Software, bridgeMarker) {
		return Resolution{Time: local.UTC(), Source: SourceBridgeMarker, HasOffset: true}
	}

	if hasLocal && timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			t := time.Date(local.Year(), local.Month(), local.Day(),
				local.Hour(), local.Minute(), local.Second(), 0, loc)
			_, secs := t.Zone()
			return Resolution{
				Time:      t.UTC(),
				Source:    SourceTimezone,
				Offset:    time.Duration(secs) * time.Second,
				HasOffset: true,
			}
		}
	}

	if hasLocal && !modTime.IsZero() {
		if off, ok := InferOffset(local, modTime); ok {
			return Resolution{Time: local.Add(-off).UTC(), Source: SourceInferredOffset, Offset: off, HasOffset: true}
		}
	}

	return Resolution{Time: modTime.UTC(), Source: SourceModTime}
}

// InferOffset deduces the camera's UTC offset by comparing its wall-clock
// field with the upload's modification time. The difference must round to
// a 15-minute step within +/-14h, with at most 2 minutes of residual.
func InferOffset(local, modTime time.Time) (time.Duration, bool) {
	diff := local.Sub(modTime.UTC())
	off := diff.Round(offsetStep)
	if off > maxOffset || off < -maxOffset {
		return 0, false
	}
	residual := diff - off
	if residual < 0 {
		residual = -residual
	}
	if residual > maxInferResidual {
		return 0, false
	}
	return off, true
}

// gpsTime builds the UTC time from GPSDateStamp and GPSTimeStamp.
func gpsTime(meta Metadata) (time.Time, bool) {
	if !meta.HasGPS() {
		return time.Time{}, false
	}
	day, err := time.Parse(exifDateLayout, meta.GPSDate)
	if err != nil {
		if day, err = time.Parse(exifDateLayoutAlt, meta.GPSDate); err != nil {
			return time.Time{}, false
		}
	}
	h := meta.GPSTime[0].Float()
	m := meta.GPSTime[1].Float()
	s := meta.GPSTime[2].Float()
	if h >= 24 || m >= 60 || s >= 61 {
		return time.Time{}, false
	}
	secs := h*3600 + m*60 + s
	whole, frac := math.Modf(secs)
	return day.Add(time.Duration(whole)*time.Second + time.Duration(frac*float64(time.Second))).UTC(), true
}

// parseLocal parses an EXIF wall-clock value as if it were UTC.
func parseLocal(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "0000") {
		return time.Time{}, false
	}
	for _, layout := range []string{exifLayout, exifLayoutDashed} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseOffset reads "+02:00", "-0530" or "Z".
func parseOffset(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "Z" {
		return 0, true
	}
	if len(v) < 3 {
		return 0, false
	}
	sign := time.Duration(1)
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, false
	}
	rest := strings.ReplaceAll(v[1:], ":", "")
	if len(rest) != 2 && len(rest) != 4 {
		return 0, false
	}
	hours, err := strconv.Atoi(rest[:2])
	if err != nil || hours > 14 {
		return 0, false
	}
	minutes := 0
	if len(rest) == 4 {
		if minutes, err = strconv.Atoi(rest[2:]); err != nil || minutes >= 60 {
			return 0, false
		}
	}
	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), true
}
