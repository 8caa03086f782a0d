package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Encoder selects the external encoder and the parameters passed to it verbatim.
type Encoder struct {
	Name   string `toml:"name"`
	Binary string `toml:"binary"`
	Params string `toml:"params"`
	PixFmt string `toml:"pix_fmt"`
}

// Chunking controls how the timeline is split into chunks.
type Chunking struct {
	Method          string  `toml:"method"`
	Interval        int     `toml:"interval"`
	MinLength       int     `toml:"min_length"`
	MaxLength       int     `toml:"max_length"`
	SceneThreshold  float64 `toml:"scene_threshold"`
	DownscaleHeight int     `toml:"downscale_height"`
}

// Workers controls the encoder worker pool.
type Workers struct {
	Count           int  `toml:"count"` // 0 selects a value from CPU and memory
	Affinity        bool `toml:"affinity"`
	MaxTries        int  `toml:"max_tries"`
	WatchdogSeconds int  `toml:"watchdog_seconds"` // 0 disables the stall watchdog
}

// Resume controls checkpointing and reuse of a previous run's temp directory.
type Resume struct {
	Enabled    bool `toml:"enabled"`
	PurgeStale bool `toml:"purge_stale"`
	KeepTemp   bool `toml:"keep_temp"`
}

// Source controls frame extraction ahead of the encoder.
type Source struct {
	Crop    string `toml:"crop"`
	Filters string `toml:"filters"`
	Seek    bool   `toml:"seek"` // seek to each chunk on constant frame rate inputs
}

// Audio controls the single audio pass that runs beside chunk encoding.
type Audio struct {
	Mode    string `toml:"mode"`
	Codec   string `toml:"codec"`
	Bitrate string `toml:"bitrate"`
}

// Concat selects the muxer used to join encoded chunks.
type Concat struct {
	Method string `toml:"method"`
}

// Paths contains directory and database locations.
type Paths struct {
	TempDir   string `toml:"temp_dir"`
	HistoryDB string `toml:"history_db"`
	LogDir    string `toml:"log_dir"`
}

// Metrics contains the optional Prometheus listener address.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Notifications configures the optional ntfy alerts sent when a run ends.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for chunkwise.
//
// Configuration sections by subsystem:
//   - Encoder: encoder binary, name, pixel format, and pass-through parameters
//   - Chunking: split method and chunk length bounds
//   - Workers: pool size, CPU pinning, retry budget, stall watchdog
//   - Resume: checkpoint reuse and temp directory retention
//   - Source: crop and extra filters applied while extracting frames
//   - Audio: copy, encode, or drop the audio tracks
//   - Concat: final muxer selection
//   - Paths: temp directory, history database, log directory
//   - Metrics: Prometheus listener
//   - Notifications: ntfy topic for run completion alerts
//   - Logging: log format and level
type Config struct {
	Encoder       Encoder       `toml:"encoder"`
	Chunking      Chunking      `toml:"chunking"`
	Workers       Workers       `toml:"workers"`
	Resume        Resume        `toml:"resume"`
	Source        Source        `toml:"source"`
	Audio         Audio         `toml:"audio"`
	Concat        Concat        `toml:"concat"`
	Paths         Paths         `toml:"paths"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Finalize normalizes and validates a config assembled in code, for example
// after CLI flags have been applied on top of a loaded file.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("chunkwise.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// FFmpegBinary returns the ffmpeg executable name used for frame extraction, audio, and concat.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// MkvmergeBinary returns the mkvmerge executable name used by the mkvmerge concat method.
func (c *Config) MkvmergeBinary() string {
	return "mkvmerge"
}

// EncoderBinary returns the configured encoder executable, falling back to the
// conventional binary for the selected encoder.
func (c *Config) EncoderBinary() string {
	if bin := strings.TrimSpace(c.Encoder.Binary); bin != "" {
		return bin
	}
	return DefaultEncoderBinary(c.Encoder.Name)
}

// DefaultEncoderBinary maps an encoder name to its usual executable name.
func DefaultEncoderBinary(name string) string {
	switch name {
	case EncoderSvtAv1:
		return "SvtAv1EncApp"
	case EncoderAom:
		return "aomenc"
	case EncoderRav1e:
		return "rav1e"
	case EncoderX264:
		return "x264"
	case EncoderX265:
		return "x265"
	default:
		return name
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
