package acquisition

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/metrics"
	"webcamd/internal/model"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
	pngMagic   = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

var (
	// errFrameTooLarge is returned when no complete frame fits the byte cap.
	errFrameTooLarge = errors.New("frame exceeds download limit")
	// errNoFrame is returned when a stream ends without a complete JPEG.
	errNoFrame = errors.New("no complete jpeg frame in stream")
)

// PullStrategy fetches frames from a camera over HTTP or RTSP.
type PullStrategy struct {
	cam        model.Camera
	sourceType string
	deps       Deps
	client     *http.Client
	grabber    rtspGrabber
	policy     skipPolicy
	log        zerolog.Logger
}

func NewPullStrategy(cam model.Camera, d Deps) *PullStrategy {
	client := d.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	s := &PullStrategy{
		cam:        cam,
		sourceType: DeriveSourceType(cam.URL, cam.SourceType),
		deps:       d,
		client:     client,
		policy:     newSkipPolicy(cam, d.Worker),
		log:        d.Log.With().Str("camera", cam.ID()).Str("strategy", "pull").Logger(),
	}
	if s.sourceType == model.SourceTypeRTSP {
		s.grabber = newRTSPGrabber(d)
	}
	return s
}

func (s *PullStrategy) SourceType() string {
	return s.sourceType
}

func (s *PullStrategy) ShouldSkip(state model.CameraState, now time.Time) model.SkipDecision {
	return s.policy.check(state, now)
}

// Acquire fetches one frame within the configured acquire timeout. The
// capture time is the wall clock at completion; the timestamp stage refines
// it from embedded metadata.
func (s *PullStrategy) Acquire(ctx context.Context) model.AcquisitionResult {
	if s.deps.Worker.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.Worker.AcquireTimeout)
		defer cancel()
	}

	start := time.Now()
	var res model.AcquisitionResult
	if s.sourceType == model.SourceTypeRTSP {
		res = s.acquireRTSP(ctx)
	} else {
		res = s.acquireHTTP(ctx)
	}
	elapsed := time.Since(start)
	res.Metadata["duration_ms"] = elapsed.Milliseconds()
	metrics.AcquireDuration.WithLabelValues(s.sourceType).Observe(elapsed.Seconds())

	if !res.Success {
		s.log.Debug().Str("reason", res.Reason).Interface("metadata", res.Metadata).Msg("Acquisition failed")
	}
	return res
}

func (s *PullStrategy) acquireRTSP(ctx context.Context) model.AcquisitionResult {
	dst, err := stagingPath(s.deps.StagingDir, s.cam.ID(), "jpg")
	if err != nil {
		return model.AcquisitionFailed(s.sourceType, model.ReasonStagingFailed, model.Metadata{"error": err.Error()})
	}
	md, reason := s.grabber.Grab(ctx, s.cam, dst)
	if reason != "" {
		os.Remove(dst)
		return model.AcquisitionFailed(s.sourceType, reason, md)
	}
	if err := checkStaged(dst); err != nil {
		os.Remove(dst)
		md["error"] = err.Error()
		return model.AcquisitionFailed(s.sourceType, model.ReasonInvalidContent, md)
	}
	return model.Acquired(s.sourceType, dst, s.deps.now().UTC(), md)
}

func (s *PullStrategy) acquireHTTP(ctx context.Context) model.AcquisitionResult {
	md := model.Metadata{}
	if u, err := url.Parse(s.cam.URL); err == nil {
		md["url_host"] = u.Host
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cam.URL, nil)
	if err != nil {
		md["error"] = err.Error()
		return model.AcquisitionFailed(s.sourceType, model.ReasonFetchError, md)
	}
	if s.cam.Username != "" {
		req.SetBasicAuth(s.cam.Username, s.cam.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		md["error"] = err.Error()
		return model.AcquisitionFailed(s.sourceType, classifyError(ctx, err), md)
	}
	defer resp.Body.Close()

	md["http_status"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return model.AcquisitionFailed(s.sourceType, model.ReasonHTTPError, md)
	}

	limit := s.deps.Worker.MaxDownloadBytes
	var data []byte
	if s.sourceType == model.SourceTypeMJPEG {
		data, err = readFirstFrame(resp.Body, limit)
	} else {
		data, err = readAll(resp.Body, limit)
	}
	md["bytes"] = len(data)
	if err != nil {
		md["error"] = err.Error()
		if errors.Is(err, errFrameTooLarge) || errors.Is(err, errNoFrame) {
			return model.AcquisitionFailed(s.sourceType, model.ReasonInvalidContent, md)
		}
		return model.AcquisitionFailed(s.sourceType, classifyError(ctx, err), md)
	}
	if len(data) == 0 {
		return model.AcquisitionFailed(s.sourceType, model.ReasonEmptyResponse, md)
	}

	ext := sniffFormat(data)
	if ext == "" {
		return model.AcquisitionFailed(s.sourceType, model.ReasonInvalidContent, md)
	}

	dst, err := stagingPath(s.deps.StagingDir, s.cam.ID(), ext)
	if err != nil {
		md["error"] = err.Error()
		return model.AcquisitionFailed(s.sourceType, model.ReasonStagingFailed, md)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		os.Remove(dst)
		md["error"] = err.Error()
		return model.AcquisitionFailed(s.sourceType, model.ReasonStagingFailed, md)
	}
	return model.Acquired(s.sourceType, dst, s.deps.now().UTC(), md)
}

// readAll reads a whole static image, refusing more than limit bytes.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return data, err
	}
	if int64(len(data)) > limit {
		return data[:limit], errFrameTooLarge
	}
	return data, nil
}

// readFirstFrame returns the first complete JPEG of an MJPEG stream (or a
// single snapshot). Marker segments are walked rather than searching for the
// first EOI, so an embedded EXIF thumbnail does not end the frame early.
func readFirstFrame(r io.Reader, limit int64) ([]byte, error) {
	fr := &frameReader{br: bufio.NewReaderSize(r, 32*1024), limit: limit}
	if err := fr.seekSOI(); err != nil {
		if errors.Is(err, io.EOF) {
			if fr.read == 0 {
				return nil, nil
			}
			return nil, errNoFrame
		}
		return nil, err
	}

	marker, err := fr.marker()
	for err == nil {
		switch {
		case marker == 0xD9:
			return fr.buf.Bytes(), nil
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			marker, err = fr.marker()
		case marker == 0xDA:
			if err = fr.segment(); err == nil {
				marker, err = fr.scan()
			}
		default:
			if err = fr.segment(); err == nil {
				marker, err = fr.marker()
			}
		}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, errNoFrame
	}
	return nil, err
}

type frameReader struct {
	br    *bufio.Reader
	buf   bytes.Buffer
	read  int64
	limit int64
}

func (f *frameReader) next() (byte, error) {
	b, err := f.br.ReadByte()
	if err != nil {
		return 0, err
	}
	f.read++
	if f.limit > 0 && f.read > f.limit {
		return 0, errFrameTooLarge
	}
	return b, nil
}

// seekSOI discards bytes (multipart headers, garbage) up to the first SOI.
func (f *frameReader) seekSOI() error {
	var prev byte
	for {
		b, err := f.next()
		if err != nil {
			return err
		}
		if prev == jpegHeader[0] && b == jpegHeader[1] {
			f.buf.Write(jpegHeader)
			return nil
		}
		prev = b
	}
}

// marker reads one marker, skipping fill bytes.
func (f *frameReader) marker() (byte, error) {
	b, err := f.next()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, errNoFrame
	}
	f.buf.WriteByte(b)
	for {
		if b, err = f.next(); err != nil {
			return 0, err
		}
		f.buf.WriteByte(b)
		if b != 0xFF {
			return b, nil
		}
	}
}

// segment copies a length-prefixed marker payload.
func (f *frameReader) segment() error {
	hi, err := f.next()
	if err != nil {
		return err
	}
	lo, err := f.next()
	if err != nil {
		return err
	}
	f.buf.WriteByte(hi)
	f.buf.WriteByte(lo)
	n := int(hi)<<8 | int(lo)
	if n < 2 {
		return errNoFrame
	}
	for i := 0; i < n-2; i++ {
		b, err := f.next()
		if err != nil {
			return err
		}
		f.buf.WriteByte(b)
	}
	return nil
}

// scan copies entropy-coded data and returns the marker that ends it.
// Stuffed zero bytes and restart markers belong to the scan.
func (f *frameReader) scan() (byte, error) {
	for {
		b, err := f.next()
		if err != nil {
			return 0, err
		}
		f.buf.WriteByte(b)
		if b != 0xFF {
			continue
		}
		for b == 0xFF {
			if b, err = f.next(); err != nil {
				return 0, err
			}
			f.buf.WriteByte(b)
		}
		if b == 0x00 || (b >= 0xD0 && b <= 0xD7) {
			continue
		}
		return b, nil
	}
}

// sniffFormat returns the file extension matching the image magic bytes.
func sniffFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, jpegHeader):
		return "jpg"
	case bytes.HasPrefix(data, pngMagic):
		return "png"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp"
	}
	return ""
}

// checkStaged verifies a file written by a subprocess is a non-empty image.
func checkStaged(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 12)
	n, _ := io.ReadFull(f, head)
	if n == 0 {
		return errors.New("empty frame")
	}
	if sniffFormat(head[:n]) == "" {
		return fmt.Errorf("unrecognised image header % x", head[:n])
	}
	return nil
}

// classifyError maps a transport error onto a reason tag.
func classifyError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.ReasonDNSError
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.ReasonConnectionRefused
	}
	return model.ReasonFetchError
}
