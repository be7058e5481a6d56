// Package imaging derives the configured size x format matrix from a
// validated original.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/model"
)

// Variant failure reasons.
const (
	FailureSkippedUpscale    = "skipped_upscale"
	FailureUnsupportedFormat = "unsupported_format"
	FailureEncode            = "encode_failed"
	FailureCancelled         = "cancelled"
)

// Plan is the size x format matrix to produce.
type Plan struct {
	Formats []string
	Sizes   []config.SizeConfig
}

// PlanFromConfig builds the plan configured for every camera.
func PlanFromConfig(cfg config.ImagingConfig) Plan {
	return Plan{Formats: cfg.Formats, Sizes: cfg.Sizes}
}

// Generator writes variants with one encoder backend.
type Generator struct {
	enc Encoder
	log zerolog.Logger
}

// NewGenerator selects the backend named in cfg.
func NewGenerator(cfg config.ImagingConfig, log zerolog.Logger) (*Generator, error) {
	q := Quality{JPEG: cfg.JPEGQuality, WebP: cfg.WebPQuality}
	var enc Encoder = newNativeEncoder(q)
	if cfg.Backend == "opencv" {
		cv, err := newOpenCVEncoder(q)
		if err != nil {
			return nil, fmt.Errorf("imaging backend %q: %w", cfg.Backend, err)
		}
		enc = cv
	}
	return NewGeneratorWithEncoder(enc, log), nil
}

// NewGeneratorWithEncoder is used by tests to inject an encoder.
func NewGeneratorWithEncoder(enc Encoder, log zerolog.Logger) *Generator {
	return &Generator{enc: enc, log: log.With().Str("encoder", enc.Name()).Logger()}
}

// Backend names the active encoder.
func (g *Generator) Backend() string {
	return g.enc.Name()
}

// Producible returns the formats of plan this backend can write. History
// completeness is judged against this set.
func (g *Generator) Producible(plan Plan) []string {
	var out []string
	for _, f := range plan.Formats {
		for _, supported := range g.enc.Formats() {
			if f == supported {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Generate writes every (label, format) of plan for src into dstDir, named
// "<label>.<format>". The original in its own format is a byte copy so
// embedded metadata survives. A combination that fails is reported and the
// rest continue; an error is returned only when src cannot be decoded.
func (g *Generator) Generate(ctx context.Context, src, dstDir string, plan Plan) (map[string]map[string]string, []model.VariantFailure, error) {
	variants := map[string]map[string]string{}
	var failures []model.VariantFailure

	add := func(label, format, path string) {
		if variants[label] == nil {
			variants[label] = map[string]string{}
		}
		variants[label][format] = path
	}
	fail := func(label, format, reason string) {
		failures = append(failures, model.VariantFailure{Label: label, Format: format, Reason: reason})
	}

	srcFormat := FormatOf(src)
	if srcFormat != "" {
		dst := filepath.Join(dstDir, model.VariantOriginal+"."+srcFormat)
		if err := copyFile(src, dst); err != nil {
			return nil, nil, fmt.Errorf("failed to copy original: %w", err)
		}
		add(model.VariantOriginal, srcFormat, dst)
	}

	frame, err := g.enc.Load(src)
	if err != nil {
		return variants, failures, fmt.Errorf("failed to load source: %w", err)
	}
	defer frame.Close()
	srcW, _ := frame.Size()

	type job struct {
		label string
		width int
	}
	jobs := []job{{label: model.VariantOriginal}}
	for _, s := range plan.Sizes {
		jobs = append(jobs, job{label: s.Label, width: s.Width})
	}

	for _, j := range jobs {
		for _, format := range plan.Formats {
			if j.label == model.VariantOriginal && format == srcFormat {
				continue
			}
			if ctx.Err() != nil {
				fail(j.label, format, FailureCancelled)
				continue
			}
			if j.width > srcW {
				fail(j.label, format, FailureSkippedUpscale)
				continue
			}

			dst := filepath.Join(dstDir, j.label+"."+format)
			if err := g.encodeTo(frame, dst, j.width, format); err != nil {
				reason := FailureEncode
				if errors.Is(err, ErrUnsupportedFormat) {
					reason = FailureUnsupportedFormat
				}
				g.log.Debug().Err(err).Str("label", j.label).Str("format", format).Msg("Variant failed")
				fail(j.label, format, reason)
				continue
			}
			add(j.label, format, dst)
		}
	}
	return variants, failures, nil
}

func (g *Generator) encodeTo(frame Frame, dst string, width int, format string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := frame.Encode(f, width, format); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// FormatOf maps a file extension onto an output format name.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpg"
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	}
	return ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
