package timestamp

import (
	"errors"
	"fmt"
	"os"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

// ErrNoMetadata is returned when a file carries no EXIF block.
var ErrNoMetadata = errors.New("no embedded metadata")

const (
	ifdRoot = "IFD"
	ifdExif = "IFD/Exif"
	ifdGPS  = "IFD/GPSInfo"

	tagDateTime           = 0x0132
	tagSoftware           = 0x0131
	tagDateTimeOriginal   = 0x9003
	tagOffsetTime         = 0x9010
	tagOffsetTimeOriginal = 0x9011
	tagGPSTimeStamp       = 0x0007
	tagGPSDateStamp       = 0x001d
)

// Rational is an EXIF fixed-point value.
type Rational struct {
	Numerator   uint32
	Denominator uint32
}

// Float converts the rational; a zero denominator is read as 1.
func (r Rational) Float() float64 {
	den := r.Denominator
	if den == 0 {
		den = 1
	}
	return float64(r.Numerator) / float64(den)
}

// Metadata holds the capture-time related EXIF fields of one image.
type Metadata struct {
	// LocalTime is DateTimeOriginal (or DateTime) as written by the camera,
	// "2006:01:02 15:04:05" with no zone.
	LocalTime string
	// Offset is OffsetTimeOriginal (or OffsetTime), e.g. "+02:00".
	Offset string
	// GPSDate is GPSDateStamp, "2006:01:02", always UTC.
	GPSDate string
	// GPSTime is GPSTimeStamp as hour, minute, second rationals.
	GPSTime  []Rational
	Software string
}

// HasGPS reports whether both GPS date and time are present.
func (m Metadata) HasGPS() bool {
	return m.GPSDate != "" && len(m.GPSTime) == 3
}

// ReadMetadata extracts the capture-time fields of the image at path.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read image: %w", err)
	}
	return ParseMetadata(data)
}

// ParseMetadata extracts the capture-time fields from raw image bytes.
func ParseMetadata(data []byte) (meta Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse exif: %v", r)
		}
	}()

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return Metadata{}, ErrNoMetadata
		}
		return Metadata{}, fmt.Errorf("failed to locate exif: %w", err)
	}

	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to decode exif: %w", err)
	}

	var dateTime, offsetTime string
	for _, t := range tags {
		switch {
		case t.IfdPath == ifdExif && t.TagId == tagDateTimeOriginal:
			meta.LocalTime = asString(t.Value)
		case t.IfdPath == ifdExif && t.TagId == tagOffsetTimeOriginal:
			meta.Offset = asString(t.Value)
		case t.IfdPath == ifdExif && t.TagId == tagOffsetTime:
			offsetTime = asString(t.Value)
		case t.IfdPath == ifdRoot && t.TagId == tagDateTime:
			dateTime = asString(t.Value)
		case t.IfdPath == ifdRoot && t.TagId == tagSoftware:
			meta.Software = asString(t.Value)
		case t.IfdPath == ifdGPS && t.TagId == tagGPSDateStamp:
			meta.GPSDate = asString(t.Value)
		case t.IfdPath == ifdGPS && t.TagId == tagGPSTimeStamp:
			meta.GPSTime = asRationals(t.Value)
		}
	}
	if meta.LocalTime == "" {
		meta.LocalTime = dateTime
	}
	if meta.Offset == "" {
		meta.Offset = offsetTime
	}
	return meta, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimRight(strings.TrimSpace(s), "\x00")
	case []byte:
		return strings.TrimRight(strings.TrimSpace(string(s)), "\x00")
	default:
		return ""
	}
}

func asRationals(v any) []Rational {
	switch rs := v.(type) {
	case []exifcommon.Rational:
		out := make([]Rational, len(rs))
		for i, r := range rs {
			out[i] = Rational{Numerator: r.Numerator, Denominator: r.Denominator}
		}
		return out
	case []exifcommon.SignedRational:
		out := make([]Rational, len(rs))
		for i, r := range rs {
			if r.Numerator < 0 || r.Denominator < 0 {
				return nil
			}
			out[i] = Rational{Numerator: uint32(r.Numerator), Denominator: uint32(r.Denominator)}
		}
		return out
	default:
		return nil
	}
}
