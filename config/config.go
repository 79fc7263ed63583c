package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "splitter.yaml"
	DefaultEnvFile    = ".env"

	EnvConfigPath = "SPLITTER_CONFIG"
	EnvSourceDir  = "SPLITTER_SOURCE_DIR"
	EnvOutputDir  = "SPLITTER_OUTPUT_DIR"
	EnvBackupDir  = "SPLITTER_BACKUP_DIR"
	EnvLogDir     = "SPLITTER_LOG_DIR"
	EnvTempDir    = "SPLITTER_TEMP_DIR"
	EnvImageDir   = "SPLITTER_IMAGE_DIR"
	EnvMode       = "SPLITTER_MODE"
	EnvWorkers    = "SPLITTER_WORKERS"
	EnvPrefixes   = "SPLITTER_OCR_PREFIXES"
	EnvRatio      = "SPLITTER_OCR_RATIO"
	EnvLogLevel   = "SPLITTER_LOG_LEVEL"
	EnvLockTTL    = "SPLITTER_LOCK_STALE_TTL"
)

var (
	ErrInvalidWorkers = errors.New("workers must be a positive integer")
	ErrInvalidMode    = errors.New("unknown mode")
	ErrInvalidRatio   = errors.New("ratio must be a number")
	ErrMissingDir     = errors.New("directory is not usable")
)

// Mode selects sequential or pooled processing.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

var (
	singleTokens = []string{"singleproccess", "single", "s", "sp", "sync"}
	multiTokens  = []string{"multiproccess", "multi", "m", "mp", "async"}
)

// PathsConfig holds every directory the pipeline touches.
type PathsConfig struct {
	Source string `yaml:"source"`
	Temp   string `yaml:"temp"`
	Image  string `yaml:"image"`
	Output string `yaml:"output"`
	Backup string `yaml:"backup"`
	Log    string `yaml:"log"`
}

// OCRConfig configures the text-recognition fallback. The fallback only runs
// when both Prefixes and Ratio are set.
type OCRConfig struct {
	Prefixes  []string       `yaml:"prefixes"`
	Ratio     *float64       `yaml:"ratio"`
	Languages []string       `yaml:"languages"`
	Engine    string         `yaml:"engine"`
	Textract  TextractConfig `yaml:"textract"`
}

// Enabled reports whether the text fallback is configured.
func (c *OCRConfig) Enabled() bool {
	return len(c.Prefixes) > 0 && c.Ratio != nil
}

type EnhanceConfig struct {
	Scale        float64 `yaml:"scale"`
	Contrast     float64 `yaml:"contrast"`
	SharpenSigma float64 `yaml:"sharpen_sigma"`
}

type ScannerConfig struct {
	Formats   []string `yaml:"formats"`
	TryHarder bool     `yaml:"try_harder"`
}

type RenderConfig struct {
	DPI    int    `yaml:"dpi"`
	Format string `yaml:"format"`
}

type LockConfig struct {
	StaleTTL string `yaml:"stale_ttl"`
}

// StaleTTLDuration returns the reclaim threshold; zero disables reclaiming.
func (c *LockConfig) StaleTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.StaleTTL)
	return d
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// Config is the root configuration, resolved once at startup.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Mode    string        `yaml:"mode"`
	Workers int           `yaml:"workers"`
	OCR     OCRConfig     `yaml:"ocr"`
	Enhance EnhanceConfig `yaml:"enhance"`
	Scanner ScannerConfig `yaml:"scanner"`
	Render  RenderConfig  `yaml:"render"`
	Lock    LockConfig    `yaml:"lock"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Status  StatusConfig  `yaml:"status"`
}

// Overrides carries raw command-line values; empty strings mean "not given".
type Overrides struct {
	Source      string
	Destination string
	Backup      string
	Log         string
	Temp        string
	Image       string
	Mode        string
	Workers     string
	Prefixes    string
	Ratio       string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Source: "docs",
			Temp:   "temp",
			Image:  "images",
			Output: "out",
			Backup: "backup",
			Log:    "logs",
		},
		Mode:    string(ModeSingle),
		Workers: runtime.NumCPU(),
		OCR: OCRConfig{
			Languages: []string{"hun", "eng"},
			Engine:    "tesseract",
		},
		Enhance: EnhanceConfig{
			Scale:        2.0,
			Contrast:     2.0,
			SharpenSigma: 1.0,
		},
		Scanner: ScannerConfig{
			Formats:   []string{"QR_CODE", "DATA_MATRIX", "CODE_128", "CODE_39", "EAN_13"},
			TryHarder: true,
		},
		Render: RenderConfig{
			DPI:    300,
			Format: "png",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		Storage: StorageConfig{Type: StorageNone},
	}
}

// Load resolves configuration from defaults, an optional YAML file, .env,
// SPLITTER_* environment variables and finally command-line overrides.
func Load(path string, ov Overrides) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DefaultEnvFile, err)
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Apply(ov); err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if doc.Kind == 0 {
		return nil
	}
	if err := checkWorkersNode(&doc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := doc.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// checkWorkersNode rejects a workers value that is not a plain integer. yaml.v3
// would otherwise truncate 2.5 to 2 when decoding into an int.
func checkWorkersNode(doc *yaml.Node) error {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "workers" {
			continue
		}
		v := root.Content[i+1]
		if v.Kind == yaml.ScalarNode && v.ShortTag() == "!!null" {
			return nil
		}
		if v.Kind != yaml.ScalarNode || v.ShortTag() != "!!int" {
			return fmt.Errorf("%w: %q", ErrInvalidWorkers, v.Value)
		}
		_, err := ParseWorkers(v.Value)
		return err
	}
	return nil
}

func (c *Config) loadEnv() error {
	return c.Apply(Overrides{
		Source:      os.Getenv(EnvSourceDir),
		Destination: os.Getenv(EnvOutputDir),
		Backup:      os.Getenv(EnvBackupDir),
		Log:         os.Getenv(EnvLogDir),
		Temp:        os.Getenv(EnvTempDir),
		Image:       os.Getenv(EnvImageDir),
		Mode:        os.Getenv(EnvMode),
		Workers:     os.Getenv(EnvWorkers),
		Prefixes:    os.Getenv(EnvPrefixes),
		Ratio:       os.Getenv(EnvRatio),
	}, c.applyExtraEnv)
}

func (c *Config) applyExtraEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLockTTL); v != "" {
		c.Lock.StaleTTL = v
	}
	c.OCR.Textract.loadEnv()
	c.Storage.loadEnv()
	c.Status.loadEnv()
	return nil
}

// Apply layers non-empty override values onto c.
func (c *Config) Apply(ov Overrides, extra ...func() error) error {
	setIf(&c.Paths.Source, ov.Source)
	setIf(&c.Paths.Output, ov.Destination)
	setIf(&c.Paths.Backup, ov.Backup)
	setIf(&c.Paths.Log, ov.Log)
	setIf(&c.Paths.Temp, ov.Temp)
	setIf(&c.Paths.Image, ov.Image)
	setIf(&c.Mode, ov.Mode)

	if ov.Workers != "" {
		n, err := ParseWorkers(ov.Workers)
		if err != nil {
			return err
		}
		c.Workers = n
	}
	if ov.Prefixes != "" {
		c.OCR.Prefixes = ParsePrefixes(ov.Prefixes)
	}
	if ov.Ratio != "" {
		r, err := ParseRatio(ov.Ratio)
		if err != nil {
			return err
		}
		c.OCR.Ratio = &r
	}

	for _, fn := range extra {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// Finalize validates c and resolves relative paths against the working directory.
func (c *Config) Finalize() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Workers)
	}
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return err
	}
	c.Mode = string(mode)

	if c.Lock.StaleTTL != "" {
		if _, err := time.ParseDuration(c.Lock.StaleTTL); err != nil {
			return fmt.Errorf("invalid lock stale_ttl: %w", err)
		}
	}
	switch c.OCR.Engine {
	case "tesseract", "textract":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.OCR.Engine)
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	for _, p := range c.dirs() {
		if *p == "" {
			return fmt.Errorf("%w: empty path", ErrMissingDir)
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// RunMode returns the parsed mode. Call after Finalize.
func (c *Config) RunMode() Mode {
	return Mode(c.Mode)
}

// EnsureDirs creates every configured directory and checks the source is readable.
func (c *Config) EnsureDirs() error {
	for _, p := range c.dirs() {
		if err := os.MkdirAll(*p, 0755); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMissingDir, *p, err)
		}
	}
	if _, err := os.ReadDir(c.Paths.Source); err != nil {
		return fmt.Errorf("%w: source %s: %w", ErrMissingDir, c.Paths.Source, err)
	}
	return nil
}

func (c *Config) dirs() []*string {
	return []*string{
		&c.Paths.Source,
		&c.Paths.Temp,
		&c.Paths.Image,
		&c.Paths.Output,
		&c.Paths.Backup,
		&c.Paths.Log,
	}
}

// ParseMode maps a mode token onto a Mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	token := strings.ToLower(strings.TrimSpace(s))
	for _, t := range singleTokens {
		if token == t {
			return ModeSingle, nil
		}
	}
	for _, t := range multiTokens {
		if token == t {
			return ModeMulti, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// ParseWorkers parses a worker count strictly: no rounding, no clamping.
func ParseWorkers(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWorkers, s)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidWorkers, n)
	}
	return n, nil
}

// ParsePrefixes splits a comma-separated prefix list, dropping whitespace and empty entries.
func ParsePrefixes(s string) []string {
	s = strings.Join(strings.Fields(s), "")
	var prefixes []string
	for _, p := range strings.Split(s, ",") {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// ParseRatio parses the OCR crop ratio. Range checking happens at classification time.
func ParseRatio(s string) (float64, error) {
	r, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRatio, s)
	}
	return r, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
