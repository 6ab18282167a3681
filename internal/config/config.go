package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/your-org/judge/internal/matching"
	"github.com/your-org/judge/internal/tracking"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	Capture  CaptureConfig  `yaml:"capture"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	URL      string `yaml:"url"` // overrides the individual fields when set
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	BodyThreshold      float64 `yaml:"body_threshold"`
	MinFaceSize        int     `yaml:"min_face_size"`
	MinEmbeddingNorm   float64 `yaml:"min_embedding_norm"`
	MaxYaw             float64 `yaml:"max_yaw"`
	MaxPitch           float64 `yaml:"max_pitch"`
	WorkerCount        int     `yaml:"worker_count"`
}

type TrackingConfig struct {
	MissingAfter         time.Duration `yaml:"missing_after"`
	ReturningWindow      time.Duration `yaml:"returning_window"`
	RemoveAfter          time.Duration `yaml:"remove_after"`
	PromoteAfter         int           `yaml:"promote_after"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	RecognitionThreshold float64       `yaml:"recognition_threshold"`
	QualityThreshold     float64       `yaml:"quality_threshold"`
	RecentLimit          int           `yaml:"recent_limit"`
	OlderLimit           int           `yaml:"older_limit"`
	BodyMatchThreshold   float64       `yaml:"body_match_threshold"`
}

func (t TrackingConfig) Policy() tracking.Policy {
	return tracking.Policy{
		MissingAfter:    t.MissingAfter,
		ReturningWindow: t.ReturningWindow,
		RemoveAfter:     t.RemoveAfter,
		PromoteAfter:    t.PromoteAfter,
	}
}

func (t TrackingConfig) Recognizer() matching.RecognizerConfig {
	return matching.RecognizerConfig{
		Threshold:        float32(t.RecognitionThreshold),
		QualityThreshold: float32(t.QualityThreshold),
		RecentLimit:      t.RecentLimit,
		OlderLimit:       t.OlderLimit,
	}
}

type CameraConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type CaptureConfig struct {
	Interval   time.Duration  `yaml:"interval"`
	Timeout    time.Duration  `yaml:"timeout"`
	FrameWidth int            `yaml:"frame_width"`
	Cameras    []CameraConfig `yaml:"cameras"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// Variables from a .env file in the working directory are loaded first when
// present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	seen := make(map[string]bool, len(c.Capture.Cameras))
	for _, cam := range c.Capture.Cameras {
		if cam.Name == "" || cam.URL == "" {
			return fmt.Errorf("camera entries need both name and url")
		}
		if seen[cam.Name] {
			return fmt.Errorf("duplicate camera %q", cam.Name)
		}
		seen[cam.Name] = true
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "judge-frames"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.BodyThreshold == 0 {
		cfg.Vision.BodyThreshold = 0.5
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 40
	}
	if cfg.Vision.MinEmbeddingNorm == 0 {
		cfg.Vision.MinEmbeddingNorm = 8
	}
	if cfg.Vision.MaxYaw == 0 {
		cfg.Vision.MaxYaw = 45
	}
	if cfg.Vision.MaxPitch == 0 {
		cfg.Vision.MaxPitch = 30
	}

	policy := tracking.DefaultPolicy()
	if cfg.Tracking.MissingAfter == 0 {
		cfg.Tracking.MissingAfter = policy.MissingAfter
	}
	if cfg.Tracking.ReturningWindow == 0 {
		cfg.Tracking.ReturningWindow = policy.ReturningWindow
	}
	if cfg.Tracking.RemoveAfter == 0 {
		cfg.Tracking.RemoveAfter = policy.RemoveAfter
	}
	if cfg.Tracking.PromoteAfter == 0 {
		cfg.Tracking.PromoteAfter = policy.PromoteAfter
	}
	if cfg.Tracking.SweepInterval == 0 {
		cfg.Tracking.SweepInterval = time.Second
	}
	rec := matching.DefaultRecognizerConfig()
	if cfg.Tracking.RecognitionThreshold == 0 {
		cfg.Tracking.RecognitionThreshold = float64(rec.Threshold)
	}
	if cfg.Tracking.QualityThreshold == 0 {
		cfg.Tracking.QualityThreshold = float64(rec.QualityThreshold)
	}
	if cfg.Tracking.RecentLimit == 0 {
		cfg.Tracking.RecentLimit = rec.RecentLimit
	}
	if cfg.Tracking.OlderLimit == 0 {
		cfg.Tracking.OlderLimit = rec.OlderLimit
	}
	if cfg.Tracking.BodyMatchThreshold == 0 {
		cfg.Tracking.BodyMatchThreshold = matching.DefaultBodyThreshold
	}

	if cfg.Capture.Interval == 0 {
		cfg.Capture.Interval = 10 * time.Second
	}
	if cfg.Capture.Timeout == 0 {
		cfg.Capture.Timeout = 5 * time.Second
	}
	if cfg.Capture.FrameWidth == 0 {
		cfg.Capture.FrameWidth = 1280
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JUDGE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("JUDGE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("JUDGE_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("JUDGE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("JUDGE_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("JUDGE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("JUDGE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("JUDGE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("JUDGE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("JUDGE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("JUDGE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("JUDGE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("JUDGE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("JUDGE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("JUDGE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("JUDGE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("JUDGE_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("JUDGE_CAPTURE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Capture.Interval = d
		}
	}
	if v := os.Getenv("JUDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
