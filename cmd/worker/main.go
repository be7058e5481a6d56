// Command worker runs one pipeline invocation and exits 0 on success, 1 on
// failure and 2 on skip, so an external scheduler can drive it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"webcamd/internal/app"
	"webcamd/internal/config"
	"webcamd/internal/logger"
	"webcamd/internal/model"
	"webcamd/internal/repository/sqlite"
)

// outcomeLine is the single JSON line printed per invocation.
type outcomeLine struct {
	Camera       string                       `json:"camera"`
	Outcome      string                       `json:"outcome"`
	Reason       string                       `json:"reason,omitempty"`
	ExitCode     int                          `json:"exit_code"`
	OriginalPath string                       `json:"original_path,omitempty"`
	CapturedAt   *time.Time                   `json:"captured_at,omitempty"`
	Variants     map[string]map[string]string `json:"variants,omitempty"`
	Metadata     model.Metadata               `json:"metadata,omitempty"`
}

func newOutcomeLine(cam model.Camera, res model.WorkerResult) outcomeLine {
	line := outcomeLine{
		Camera:   cam.ID(),
		Outcome:  res.Outcome.String(),
		Reason:   res.Reason,
		ExitCode: res.ExitCode(),
		Metadata: res.Metadata,
	}
	if p := res.Pipeline; p != nil {
		captured := p.CapturedAt.UTC()
		line.OriginalPath = p.OriginalPath
		line.CapturedAt = &captured
		line.Variants = p.Variants
	}
	return line
}

// printer serializes outcome lines from concurrent invocations.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) print(line outcomeLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

// combinedExitCode is 1 if any camera failed, 0 if any succeeded and 2 when
// every camera skipped.
func combinedExitCode(codes []int) int {
	if len(codes) == 0 {
		return 2
	}
	result := 2
	for _, c := range codes {
		switch c {
		case 1:
			return 1
		case 0:
			result = 0
		}
	}
	return result
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	airport := flag.String("airport", "", "Airport identifier")
	camIndex := flag.Int("cam", 0, "Webcam index within the airport")
	all := flag.Bool("all", false, "Run every configured camera once")
	textfile := flag.String("metrics-textfile", "", "Write Prometheus metrics to this file after the run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	var cameras []model.Camera
	if *all {
		cameras = cfg.Cameras()
	} else {
		if *airport == "" {
			fmt.Fprintln(os.Stderr, "Either -airport or -all is required")
			return 1
		}
		cam, err := cfg.Camera(*airport, *camIndex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		cameras = []model.Camera{cam}
	}

	// Outcome lines own stdout.
	log, err := logger.NewLoggerTo(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer log.Close()

	for _, dir := range []string{cfg.Paths.CacheDir, cfg.Paths.HistoryDir, cfg.Paths.StagingDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("Failed to create directory")
			return 1
		}
	}

	db, err := sqlite.New(cfg.Paths.StateDB)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open state database")
		return 1
	}
	defer db.Close()

	pipeline, err := app.NewPipeline(cfg, log, db, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build pipeline")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &printer{out: os.Stdout}
	codes := make([]int, len(cameras))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Server.MaxConcurrent)
	for i, cam := range cameras {
		i, cam := i, cam
		g.Go(func() error {
			res := pipeline.Worker.Run(gctx, cam)
			codes[i] = res.ExitCode()
			return out.print(newOutcomeLine(cam, res))
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Failed to write outcome")
	}

	if *textfile != "" {
		if err := prometheus.WriteToTextfile(*textfile, prometheus.DefaultGatherer); err != nil {
			log.Error().Err(err).Str("path", *textfile).Msg("Failed to write metrics textfile")
		}
	}

	return combinedExitCode(codes)
}
