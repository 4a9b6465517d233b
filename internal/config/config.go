package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	Addr         string
	DBPath       string
	RecordingDir string

	FFmpegBinary string
	// FFmpegArgs est découpé façon shell puis inséré avant le fichier de sortie.
	FFmpegArgs string
	// FFmpegCeiling borne -t ; jamais inférieur à la plus longue durée planifiable.
	FFmpegCeiling time.Duration

	TickInterval    time.Duration
	IdleBackoff     time.Duration
	StopGrace       time.Duration
	ShutdownTimeout time.Duration
	LogLines        int
	// MinFreeBytes = 0 désactive l'avertissement d'espace disque.
	MinFreeBytes uint64

	LogLevel  string
	LogFormat string
}

// Default lit les variables STREAMREC_* ; une valeur illisible garde le défaut.
func Default() Config {
	return Config{
		Addr:            envOr("STREAMREC_ADDR", "127.0.0.1:8080"),
		DBPath:          envOr("STREAMREC_DB_PATH", "streamrec.db"),
		RecordingDir:    envOr("STREAMREC_RECORDING_DIR", "recordings"),
		FFmpegBinary:    envOr("STREAMREC_FFMPEG", "ffmpeg"),
		FFmpegArgs:      os.Getenv("STREAMREC_FFMPEG_ARGS"),
		FFmpegCeiling:   envSeconds("STREAMREC_FFMPEG_CEILING_SECONDS", 24*time.Hour),
		TickInterval:    envSeconds("STREAMREC_TICK_SECONDS", 5*time.Second),
		IdleBackoff:     envSeconds("STREAMREC_IDLE_BACKOFF_SECONDS", 15*time.Second),
		StopGrace:       envSeconds("STREAMREC_STOP_GRACE_SECONDS", 10*time.Second),
		ShutdownTimeout: envSeconds("STREAMREC_SHUTDOWN_TIMEOUT_SECONDS", 30*time.Second),
		LogLines:        envInt("STREAMREC_LOG_LINES", 200),
		MinFreeBytes:    envBytes("STREAMREC_MIN_FREE", 0),
		LogLevel:        envOr("STREAMREC_LOG_LEVEL", "info"),
		LogFormat:       envOr("STREAMREC_LOG_FORMAT", "json"),
	}
}

// fileConfig reflète le fichier TOML ; seules les clés présentes écrasent les défauts.
type fileConfig struct {
	Addr         *string `toml:"addr"`
	DBPath       *string `toml:"db_path"`
	RecordingDir *string `toml:"recording_dir"`

	FFmpeg struct {
		Binary *string `toml:"binary"`
		Args   *string `toml:"args"`
		// CeilingSeconds est la valeur de -t passée à ffmpeg.
		CeilingSeconds *int `toml:"ceiling_seconds"`
	} `toml:"ffmpeg"`

	Scheduler struct {
		TickSeconds            *int    `toml:"tick_seconds"`
		IdleBackoffSeconds     *int    `toml:"idle_backoff_seconds"`
		StopGraceSeconds       *int    `toml:"stop_grace_seconds"`
		ShutdownTimeoutSeconds *int    `toml:"shutdown_timeout_seconds"`
		LogLines               *int    `toml:"log_lines"`
		MinFree                *string `toml:"min_free"`
	} `toml:"scheduler"`

	Log struct {
		Level  *string `toml:"level"`
		Format *string `toml:"format"`
	} `toml:"log"`
}

// Load part de Default() puis applique le fichier TOML s'il est fourni.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.apply(fc); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(fc fileConfig) error {
	setString(&c.Addr, fc.Addr)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.RecordingDir, fc.RecordingDir)
	setString(&c.FFmpegBinary, fc.FFmpeg.Binary)
	setString(&c.FFmpegArgs, fc.FFmpeg.Args)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)

	setSeconds(&c.FFmpegCeiling, fc.FFmpeg.CeilingSeconds)
	setSeconds(&c.TickInterval, fc.Scheduler.TickSeconds)
	setSeconds(&c.IdleBackoff, fc.Scheduler.IdleBackoffSeconds)
	setSeconds(&c.StopGrace, fc.Scheduler.StopGraceSeconds)
	setSeconds(&c.ShutdownTimeout, fc.Scheduler.ShutdownTimeoutSeconds)
	if fc.Scheduler.LogLines != nil {
		c.LogLines = *fc.Scheduler.LogLines
	}
	if fc.Scheduler.MinFree != nil {
		n, err := humanize.ParseBytes(*fc.Scheduler.MinFree)
		if err != nil {
			return fmt.Errorf("scheduler.min_free: %w", err)
		}
		c.MinFreeBytes = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is empty"))
	}
	if strings.TrimSpace(c.RecordingDir) == "" {
		errs = append(errs, errors.New("recording_dir is empty"))
	}
	if strings.TrimSpace(c.FFmpegBinary) == "" {
		errs = append(errs, errors.New("ffmpeg.binary is empty"))
	}
	if c.FFmpegCeiling < 24*time.Hour {
		errs = append(errs, fmt.Errorf("ffmpeg.ceiling_seconds must be >= %d", int(24*time.Hour/time.Second)))
	}
	for name, d := range map[string]time.Duration{
		"tick_seconds":             c.TickInterval,
		"idle_backoff_seconds":     c.IdleBackoff,
		"stop_grace_seconds":       c.StopGrace,
		"shutdown_timeout_seconds": c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.LogLines <= 0 {
		errs = append(errs, errors.New("log_lines must be > 0"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log.format %q (want json or console)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// LockPath est le fichier de verrou d'instance associé à la base.
func (c Config) LockPath() string {
	return c.DBPath + ".lock"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envSeconds(key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return time.Duration(v) * time.Second
}

func envBytes(key string, def uint64) uint64 {
	v, err := humanize.ParseBytes(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setSeconds(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}
