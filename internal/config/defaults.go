package config

import (
	"path/filepath"
	"time"
)

func defaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			CacheDir:   filepath.Join(".", "cache", "webcams"),
			HistoryDir: filepath.Join(".", "cache", "history"),
			UploadRoot: filepath.Join(".", "uploads"),
			StagingDir: filepath.Join(".", "cache", ".staging"),
			StateDB:    filepath.Join(".", "data", "webcamd.db"),
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			Directory: filepath.Join(".", "logs"),
		},
		Server: ServerConfig{
			Port:          8080,
			MaxConcurrent: 4,
			PushPoll:      30 * time.Second,
		},
		Worker: WorkerConfig{
			Timeout:          60 * time.Second,
			ExtendedTimeout:  5 * time.Minute,
			AcquireTimeout:   15 * time.Second,
			MaxDownloadBytes: 20 << 20,
			FailureThreshold: 3,
			BackoffBase:      time.Minute,
			BackoffMax:       time.Hour,
			RefreshTolerance: 5 * time.Second,
			FFmpegPath:       "ffmpeg",
		},
		Detector: DetectorConfig{
			MinWidth:          100,
			MinHeight:         100,
			SampleTarget:      10000,
			GreyTolerance:     12,
			GreyMinLuma:       30,
			GreyMaxLuma:       225,
			GreyRatioLimit:    0.85,
			VarianceLimit:     150,
			EdgeDelta:         20,
			EdgeDensityLimit:  0.03,
			BorderFraction:    0.08,
			BorderGreyLimit:   0.90,
			WeightGrey:        0.30,
			WeightVariance:    0.30,
			WeightEdges:       0.25,
			WeightBorder:      0.15,
			Threshold:         0.60,
			QuickSampleFactor: 4,
		},
		Imaging: ImagingConfig{
			Backend:     "native",
			Formats:     []string{"jpg"},
			Sizes:       []SizeConfig{{Label: "thumb", Width: 320}, {Label: "medium", Width: 1280}},
			JPEGQuality: 85,
			WebPQuality: 80,
		},
		History: HistoryConfig{
			Enabled:     true,
			MaxFrames:   96,
			MinInterval: 5 * time.Minute,
		},
		Push: PushConfig{
			MaxBatch:         5,
			BacklogThreshold: 10,
			MinFileAge:       3 * time.Second,
			MaxFileAge:       2 * time.Hour,
			Extensions:       []string{".jpg", ".jpeg", ".png", ".webp"},
		},
		Timestamp: TimestampConfig{
			WriteGPS:      true,
			BridgeMarker:  "webcam-bridge",
			MaxFutureSkew: 5 * time.Minute,
		},
	}
}

// Default returns the built-in configuration, used by tests and by
// callers that assemble a Config in code.
func Default() *Config {
	return defaultConfig()
}
