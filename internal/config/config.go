package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeInPlace = "inplace"
	ModeExport  = "export"

	ScanRange = "range"
	ScanGlob  = "glob"
)

type Config struct {
	Mode       string   `yaml:"mode" validate:"oneof=inplace export"`
	InputDir   string   `yaml:"input_dir" validate:"required"`
	Extensions []string `yaml:"extensions" validate:"min=1,dive,required"`
	Scan       string   `yaml:"scan" validate:"oneof=range glob"`
	MaxID      int      `yaml:"max_id" validate:"gte=1"`
	Workers    int      `yaml:"workers" validate:"gte=0"` // 0 = size from host
	Quality    int      `yaml:"quality" validate:"gte=1,lte=100"`
	Report     string   `yaml:"report"`
	DebugDir   string   `yaml:"debug_dir"`

	Detect DetectConfig `yaml:"detect"`
	Ledger LedgerConfig `yaml:"ledger"`
	Export ExportConfig `yaml:"export"`
	Log    LogConfig    `yaml:"log"`

	BuildVersion string `yaml:"-"`
}

type DetectConfig struct {
	ModelDir    string        `yaml:"model_dir"`
	Prototxt    string        `yaml:"prototxt" validate:"required"`
	CaffeModel  string        `yaml:"caffemodel" validate:"required"`
	Confidence  float64       `yaml:"confidence" validate:"gte=0,lte=1"`
	CascadeDir  string        `yaml:"cascade_dir"`
	Cascades    []string      `yaml:"cascades" validate:"dive,required"`
	Scales      []float64     `yaml:"scales" validate:"dive,gt=1"`
	Neighbors   []int         `yaml:"neighbors" validate:"dive,gte=0"`
	Skin        bool          `yaml:"skin"`
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=0"`
}

type LedgerConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=file redis"`
	Path          string `yaml:"path"`
	Checkpoint    bool   `yaml:"checkpoint"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	RedisKey      string `yaml:"redis_key"`
}

type ExportConfig struct {
	Dir              string  `yaml:"dir"`
	Prefix           string  `yaml:"prefix"`
	Sink             string  `yaml:"sink" validate:"oneof=local s3"`
	S3Bucket         string  `yaml:"s3_bucket" validate:"required_if=Sink s3"`
	S3Prefix         string  `yaml:"s3_prefix"`
	S3Region         string  `yaml:"s3_region"`
	UploadsPerSecond float64 `yaml:"uploads_per_second" validate:"gte=0"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// Default returns the settings of the original scripts: in-place over img/,
// ids 1..999 with the .jpeg extension, every detector enabled.
func Default() *Config {
	return &Config{
		Mode:       ModeInPlace,
		InputDir:   "img",
		Extensions: []string{"jpeg"},
		Scan:       ScanRange,
		MaxID:      999,
		Quality:    95,
		Detect: DetectConfig{
			ModelDir:   "models",
			Prototxt:   "deploy.prototxt.txt",
			CaffeModel: "res10_300x300_ssd_iter_140000.caffemodel",
			Confidence: 0.15,
			Cascades: []string{
				"haarcascade_frontalface_default.xml",
				"haarcascade_frontalface_alt.xml",
				"haarcascade_frontalface_alt2.xml",
				"haarcascade_frontalface_alt_tree.xml",
				"haarcascade_profileface.xml",
				"haarcascade_eye.xml",
			},
			Scales:      []float64{1.01, 1.05, 1.1, 1.15, 1.2, 1.3},
			Neighbors:   []int{1, 2, 3, 4, 5},
			Skin:        true,
			CallTimeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend:  "file",
			RedisKey: "faceblur:processed",
		},
		Export: ExportConfig{
			Dir:    "blurred_output",
			Prefix: "blurred_",
			Sink:   "local",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load starts from Default and overlays the YAML file at path, if any.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads the given dotenv files (missing ones are ignored) and then
// overlays FACEBLUR_* variables from the process environment.
func (c *Config) ApplyEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("FACEBLUR_MODE", &c.Mode)
	str("FACEBLUR_INPUT_DIR", &c.InputDir)
	str("FACEBLUR_REPORT", &c.Report)
	str("FACEBLUR_DEBUG_DIR", &c.DebugDir)
	str("FACEBLUR_MODEL_DIR", &c.Detect.ModelDir)
	str("FACEBLUR_CASCADE_DIR", &c.Detect.CascadeDir)
	str("FACEBLUR_LEDGER_BACKEND", &c.Ledger.Backend)
	str("FACEBLUR_LEDGER_PATH", &c.Ledger.Path)
	str("FACEBLUR_REDIS_ADDR", &c.Ledger.RedisAddr)
	str("FACEBLUR_REDIS_PASSWORD", &c.Ledger.RedisPassword)
	str("FACEBLUR_EXPORT_DIR", &c.Export.Dir)
	str("FACEBLUR_EXPORT_SINK", &c.Export.Sink)
	str("FACEBLUR_S3_BUCKET", &c.Export.S3Bucket)
	str("FACEBLUR_S3_REGION", &c.Export.S3Region)
	str("FACEBLUR_LOG_LEVEL", &c.Log.Level)
	str("FACEBLUR_LOG_FILE", &c.Log.File)

	if v, ok := os.LookupEnv("FACEBLUR_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACEBLUR_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v, ok := os.LookupEnv("FACEBLUR_CALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FACEBLUR_CALL_TIMEOUT: %w", err)
		}
		c.Detect.CallTimeout = d
	}
	return nil
}

// Validate checks struct tags and fills derived defaults.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mode == ModeInPlace && c.Scan == ScanGlob {
		return errors.New("invalid config: in-place mode needs numeric ids, use scan: range")
	}
	if c.Mode == ModeExport && c.Export.Dir == "" && c.Export.Sink == "local" {
		return errors.New("invalid config: export.dir is required for the local sink")
	}
	return nil
}

// LedgerPath is the configured ledger file or blurred_images.txt inside the
// input directory.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.InputDir, "blurred_images.txt")
}

// ModelPaths resolves the prototxt and caffemodel against ModelDir.
func (d DetectConfig) ModelPaths() (string, string) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) || d.ModelDir == "" {
			return p
		}
		return filepath.Join(d.ModelDir, p)
	}
	return resolve(d.Prototxt), resolve(d.CaffeModel)
}
