package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped to
// config keys: WEBCAMD_WORKER__TIMEOUT -> worker.timeout.
const EnvPrefix = "WEBCAMD_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/webcamd/config.yaml",
}

// ErrCameraNotFound is returned when an airport/index pair is not configured.
var ErrCameraNotFound = errors.New("camera not configured")

type Config struct {
	Paths     PathsConfig     `koanf:"paths"`
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Worker    WorkerConfig    `koanf:"worker"`
	Detector  DetectorConfig  `koanf:"detector"`
	Imaging   ImagingConfig   `koanf:"imaging"`
	History   HistoryConfig   `koanf:"history"`
	Push      PushConfig      `koanf:"push"`
	Timestamp TimestampConfig `koanf:"timestamp"`
	Airports  []AirportConfig `koanf:"airports" validate:"dive"`
}

type PathsConfig struct {
	CacheDir   string `koanf:"cache_dir" validate:"required"`
	HistoryDir string `koanf:"history_dir" validate:"required"`
	UploadRoot string `koanf:"upload_root" validate:"required"`
	StagingDir string `koanf:"staging_dir" validate:"required"`
	StateDB    string `koanf:"state_db" validate:"required"`
}

type LogConfig struct {
	Level     string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format    string `koanf:"format" validate:"oneof=json console"`
	Directory string `koanf:"directory"`
}

type ServerConfig struct {
	Port          int           `koanf:"port" validate:"min=1,max=65535"`
	MaxConcurrent int           `koanf:"max_concurrent" validate:"min=1"`
	PushPoll      time.Duration `koanf:"push_poll"`
}

// WorkerConfig holds invocation timeouts and the circuit breaker policy.
type WorkerConfig struct {
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	ExtendedTimeout  time.Duration `koanf:"extended_timeout" validate:"gtefield=Timeout"`
	AcquireTimeout   time.Duration `koanf:"acquire_timeout" validate:"gt=0"`
	MaxDownloadBytes int64         `koanf:"max_download_bytes" validate:"gt=0"`
	FailureThreshold int           `koanf:"failure_threshold" validate:"min=1"`
	BackoffBase      time.Duration `koanf:"backoff_base"`
	BackoffMax       time.Duration `koanf:"backoff_max"`
	RefreshTolerance time.Duration `koanf:"refresh_tolerance"`
	FFmpegPath       string        `koanf:"ffmpeg_path"`
}

// DetectorConfig exposes every tuned constant of the error-frame heuristic.
type DetectorConfig struct {
	MinWidth          int     `koanf:"min_width" validate:"min=1"`
	MinHeight         int     `koanf:"min_height" validate:"min=1"`
	SampleTarget      int     `koanf:"sample_target" validate:"min=100"`
	GreyTolerance     int     `koanf:"grey_tolerance" validate:"min=0,max=255"`
	GreyMinLuma       float64 `koanf:"grey_min_luma" validate:"min=0,max=255"`
	GreyMaxLuma       float64 `koanf:"grey_max_luma" validate:"min=0,max=255,gtefield=GreyMinLuma"`
	GreyRatioLimit    float64 `koanf:"grey_ratio_limit" validate:"min=0,max=1"`
	VarianceLimit     float64 `koanf:"variance_limit" validate:"min=0"`
	EdgeDelta         float64 `koanf:"edge_delta" validate:"min=0"`
	EdgeDensityLimit  float64 `koanf:"edge_density_limit" validate:"min=0,max=1"`
	BorderFraction    float64 `koanf:"border_fraction" validate:"gt=0,lt=0.5"`
	BorderGreyLimit   float64 `koanf:"border_grey_limit" validate:"min=0,max=1"`
	WeightGrey        float64 `koanf:"weight_grey" validate:"min=0"`
	WeightVariance    float64 `koanf:"weight_variance" validate:"min=0"`
	WeightEdges       float64 `koanf:"weight_edges" validate:"min=0"`
	WeightBorder      float64 `koanf:"weight_border" validate:"min=0"`
	Threshold         float64 `koanf:"threshold" validate:"gt=0,max=1"`
	QuickSampleFactor int     `koanf:"quick_sample_factor" validate:"min=1"`
}

type SizeConfig struct {
	Label string `koanf:"label" validate:"required,ne=original"`
	Width int    `koanf:"width" validate:"min=1"`
}

type ImagingConfig struct {
	Backend     string       `koanf:"backend" validate:"oneof=native opencv"`
	Formats     []string     `koanf:"formats" validate:"min=1,dive,oneof=jpg png webp"`
	Sizes       []SizeConfig `koanf:"sizes" validate:"dive"`
	JPEGQuality int          `koanf:"jpeg_quality" validate:"min=1,max=100"`
	WebPQuality int          `koanf:"webp_quality" validate:"min=1,max=100"`
}

type HistoryConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxFrames   int           `koanf:"max_frames" validate:"min=1"`
	MinInterval time.Duration `koanf:"min_interval"`
}

type PushConfig struct {
	MaxBatch         int           `koanf:"max_batch" validate:"min=1"`
	BacklogThreshold int           `koanf:"backlog_threshold" validate:"min=1"`
	MinFileAge       time.Duration `koanf:"min_file_age"`
	MaxFileAge       time.Duration `koanf:"max_file_age" validate:"gtfield=MinFileAge"`
	Extensions       []string      `koanf:"extensions" validate:"min=1"`
}

type TimestampConfig struct {
	WriteGPS     bool   `koanf:"write_gps"`
	BridgeMarker string `koanf:"bridge_marker"`

	// MaxFutureSkew bounds how far ahead of the host clock a resolved
	// capture time may be before it is replaced by the host time.
	MaxFutureSkew time.Duration `koanf:"max_future_skew" validate:"gte=0"`
}

type AirportConfig struct {
	ID       string         `koanf:"id" validate:"required,alphanum"`
	Timezone string         `koanf:"timezone"`
	Webcams  []WebcamConfig `koanf:"webcams" validate:"dive"`
}

type WebcamPushConfig struct {
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	Protocol  string `koanf:"protocol" validate:"omitempty,oneof=ftp ftps sftp"`
	UploadDir string `koanf:"upload_dir"`
}

type WebcamHistoryConfig struct {
	Enabled     *bool         `koanf:"enabled"`
	MaxFrames   int           `koanf:"max_frames" validate:"min=0"`
	MinInterval time.Duration `koanf:"min_interval"`
}

type WebcamConfig struct {
	Name           string               `koanf:"name"`
	Type           string               `koanf:"type" validate:"omitempty,oneof=pull push"`
	SourceType     string               `koanf:"source_type" validate:"omitempty,oneof=mjpeg static_jpeg static_png rtsp"`
	URL            string               `koanf:"url"`
	Username       string               `koanf:"username"`
	Password       string               `koanf:"password"`
	RTSPTransport  string               `koanf:"rtsp_transport" validate:"omitempty,oneof=tcp udp"`
	Timezone       string               `koanf:"timezone"`
	RefreshSeconds int                  `koanf:"refresh_seconds" validate:"min=0"`
	Push           *WebcamPushConfig    `koanf:"push_config"`
	History        *WebcamHistoryConfig `koanf:"history"`
}

// Load reads configuration from defaults, an optional YAML file, an optional
// .env file and the process environment, in increasing priority.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// A missing .env is the normal case in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps WEBCAMD_PUSH__MAX_BATCH to push.max_batch.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}
