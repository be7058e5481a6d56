package timestamp

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// WriteGPSTime stamps utc into the GPSDateStamp/GPSTimeStamp fields of the
// JPEG at path, so later readers get an unambiguous time.
func WriteGPSTime(path string, utc time.Time) error {
	utc = utc.UTC()
	return WriteMetadata(path, Metadata{
		GPSDate: utc.Format(exifDateLayout),
		GPSTime: []Rational{
			{Numerator: uint32(utc.Hour()), Denominator: 1},
			{Numerator: uint32(utc.Minute()), Denominator: 1},
			{Numerator: uint32(utc.Second()), Denominator: 1},
		},
	})
}

// WriteMetadata sets every non-empty field of meta on the JPEG at path,
// keeping the rest of its EXIF block. The file is replaced atomically.
func WriteMetadata(path string, meta Metadata) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to write exif: %v", r)
		}
	}()

	parsed, err := jpegstructure.NewJpegMediaParser().ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse jpeg: %w", err)
	}
	sl, ok := parsed.(*jpegstructure.SegmentList)
	if !ok {
		return fmt.Errorf("unexpected jpeg structure %T", parsed)
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		if rootIb, err = emptyRootBuilder(); err != nil {
			return err
		}
	}

	if meta.Software != "" {
		if err := rootIb.SetStandardWithName("Software", meta.Software); err != nil {
			return fmt.Errorf("failed to set Software: %w", err)
		}
	}

	if meta.LocalTime != "" || meta.Offset != "" {
		exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, ifdExif)
		if err != nil {
			return fmt.Errorf("failed to open exif ifd: %w", err)
		}
		if meta.LocalTime != "" {
			if err := exifIb.SetStandardWithName("DateTimeOriginal", meta.LocalTime); err != nil {
				return fmt.Errorf("failed to set DateTimeOriginal: %w", err)
			}
		}
		if meta.Offset != "" {
			if err := exifIb.SetStandardWithName("OffsetTimeOriginal", meta.Offset); err != nil {
				return fmt.Errorf("failed to set OffsetTimeOriginal: %w", err)
			}
		}
	}

	if meta.HasGPS() {
		gpsIb, err := exif.GetOrCreateIbFromRootIb(rootIb, ifdGPS)
		if err != nil {
			return fmt.Errorf("failed to open gps ifd: %w", err)
		}
		if err := gpsIb.SetStandardWithName("GPSDateStamp", meta.GPSDate); err != nil {
			return fmt.Errorf("failed to set GPSDateStamp: %w", err)
		}
		rs := make([]exifcommon.Rational, len(meta.GPSTime))
		for i, r := range meta.GPSTime {
			rs[i] = exifcommon.Rational{Numerator: r.Numerator, Denominator: r.Denominator}
		}
		if err := gpsIb.SetStandardWithName("GPSTimeStamp", rs); err != nil {
			return fmt.Errorf("failed to set GPSTimeStamp: %w", err)
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("failed to encode exif: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".exif-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := sl.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace image: %w", err)
	}
	return nil
}

func emptyRootBuilder() (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("failed to build ifd mapping: %w", err)
	}
	ti := exif.NewTagIndex()
	return exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder), nil
}
