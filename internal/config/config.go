package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/scopecast/service/internal/logging"
)

var log = logging.L("config")

// AppName is the product name used to derive per-user socket and state
// directories (XDG-style on POSIX, named-pipe suffix on Windows).
const AppName = "scopecast"

type Config struct {
	// Logging configuration
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	// Endpoint overrides. Empty means "use the platform default derived
	// from XDG_RUNTIME_DIR / TMPDIR / the named-pipe convention".
	ControlSocketPath   string `mapstructure:"control_socket_path" yaml:"control_socket_path,omitempty"`
	SelectionSocketPath string `mapstructure:"selection_socket_path" yaml:"selection_socket_path,omitempty"`

	// TrustedExecutables is the fixed set of binary stems peer verification
	// accepts (client, service, picker), case-insensitive on Windows.
	TrustedExecutables []string `mapstructure:"trusted_executables" yaml:"trusted_executables"`

	// TrustedInstallDirs supplements the built-in per-OS install prefixes
	// with additional directories accepted as legitimate peer locations,
	// e.g. for packaged builds outside the default prefix.
	TrustedInstallDirs []string `mapstructure:"trusted_install_dirs" yaml:"trusted_install_dirs,omitempty"`

	// Connection hardening.
	ConnRateLimitAttempts  int `mapstructure:"conn_rate_limit_attempts" yaml:"conn_rate_limit_attempts"`
	ConnRateLimitWindowMs  int `mapstructure:"conn_rate_limit_window_ms" yaml:"conn_rate_limit_window_ms"`
	IdleSubscriberTimeoutS int `mapstructure:"idle_subscriber_timeout_seconds" yaml:"idle_subscriber_timeout_seconds"`

	// Segment ring buffer.
	SegmentBufferSeconds int     `mapstructure:"segment_buffer_seconds" yaml:"segment_buffer_seconds"`
	SegmentSampleRateHz  int     `mapstructure:"segment_sample_rate_hz" yaml:"segment_sample_rate_hz"`
	SegmentOverflowFrac  float64 `mapstructure:"segment_overflow_fraction" yaml:"segment_overflow_fraction"`
	SegmentSilenceMs     int     `mapstructure:"segment_silence_ms" yaml:"segment_silence_ms"`
	SegmentMaxUtteranceS int     `mapstructure:"segment_max_utterance_seconds" yaml:"segment_max_utterance_seconds"`

	// Transcription.
	TranscriptionEnabled   bool   `mapstructure:"transcription_enabled" yaml:"transcription_enabled"`
	TranscriptionModelPath string `mapstructure:"transcription_model_path" yaml:"transcription_model_path,omitempty"`

	// Thumbnails.
	ThumbnailJPEGQuality int `mapstructure:"thumbnail_jpeg_quality" yaml:"thumbnail_jpeg_quality"`
	ThumbnailCacheTTLMs  int `mapstructure:"thumbnail_cache_ttl_ms" yaml:"thumbnail_cache_ttl_ms"`

	// PreviewListenAddr enables the development-only WebSocket event bridge
	// when non-empty (e.g. "127.0.0.1:7823"). Production clients use the
	// control socket; this exists for GUI shells iterating in a browser.
	PreviewListenAddr string `mapstructure:"preview_listen_addr" yaml:"preview_listen_addr,omitempty"`
}

// Dump renders cfg as YAML, the same shape Load reads back.
func Dump(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("config: marshal: %w", err)
	}
	return string(out), nil
}

func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		TrustedExecutables: []string{"scopecast", "scopecast-service", "scopecast-picker"},

		ConnRateLimitAttempts:  20,
		ConnRateLimitWindowMs:  60_000,
		IdleSubscriberTimeoutS: 1800,

		SegmentBufferSeconds: 35,
		SegmentSampleRateHz:  16000,
		SegmentOverflowFrac:  0.9,
		SegmentSilenceMs:     500,
		SegmentMaxUtteranceS: 20,

		TranscriptionEnabled: false,

		ThumbnailJPEGQuality: 80,
		ThumbnailCacheTTLMs:  2000,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("scopecast")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SCOPECAST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("control_socket_path", cfg.ControlSocketPath)
	viper.Set("selection_socket_path", cfg.SelectionSocketPath)
	viper.Set("trusted_executables", cfg.TrustedExecutables)
	viper.Set("trusted_install_dirs", cfg.TrustedInstallDirs)
	viper.Set("segment_buffer_seconds", cfg.SegmentBufferSeconds)
	viper.Set("transcription_enabled", cfg.TranscriptionEnabled)
	viper.Set("transcription_model_path", cfg.TranscriptionModelPath)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "scopecast.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for cached
// thumbnails and transcription models.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Scopecast", "data")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Scopecast")
	default:
		return filepath.Join(stateHome(), AppName)
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Scopecast")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Preferences", "Scopecast")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, AppName)
		}
		return filepath.Join(os.Getenv("HOME"), ".config", AppName)
	}
}

// stateHome returns ${XDG_STATE_HOME} or $HOME/.local/state.
func stateHome() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
