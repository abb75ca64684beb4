// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// All settings needed to run the verbose GC pipeline.
// Values come from the environment (Load), optionally overlaid by a YAML
// file (LoadFile) and finally by CLI flags in cmd/vgclogd.
// After startup the struct is treated as read-only; live sink changes go
// through verbose.Manager.Configure, not through Config.
type Config struct {

	// ---------------------------
	// Verbose output
	// ---------------------------

	VerboseTarget string        `yaml:"verbose_target"` // "stderr", "stdout", "trace", "hook" or a file template
	VerboseFiles  int           `yaml:"verbose_files"`  // rotation file count (0 = single file)
	VerboseCycles int           `yaml:"verbose_cycles"` // GC cycles written per file before rotating
	Modes         []string      `yaml:"modes"`          // collector modes: standard, realtime, region
	Heartbeat     time.Duration `yaml:"heartbeat"`      // realtime heartbeat cycle threshold
	Quantum       time.Duration `yaml:"quantum"`        // simulated realtime quantum length

	// ---------------------------
	// Process identity / network
	// ---------------------------

	ServiceName string `yaml:"service_name"`
	InstanceID  string `yaml:"instance_id"` // hostname, random hex on failure
	AdminAddr   string `yaml:"admin_addr"`  // admin HTTP bind address, empty disables

	// ---------------------------
	// Logging
	// ---------------------------

	LogLevel   string `yaml:"log_level"`
	LogPretty  bool   `yaml:"log_pretty"`
	LogSampleN uint32 `yaml:"log_sample_n"`

	// ---------------------------
	// Archive of completed log files
	// ---------------------------
	// The SDK retry is pinned to 0 in the uploader; the only retry budget
	// is Archive.Retries so the two never stack.

	Archive Archive `yaml:"archive"`
}

// Archive holds object storage and local spool settings.
// An empty Bucket disables archiving.
type Archive struct {
	Region      string        `yaml:"region"`
	Bucket      string        `yaml:"bucket"`
	Prefix      string        `yaml:"prefix"`       // completed log files
	SpoolPrefix string        `yaml:"spool_prefix"` // spool files that fail validation
	Timeout     time.Duration `yaml:"timeout"`      // per PutObject attempt
	Retries     int           `yaml:"retries"`
	QueueSize   int           `yaml:"queue_size"`

	SpoolDir          string        `yaml:"spool_dir"`
	SpoolMaxAge       time.Duration `yaml:"spool_max_age"`
	SpoolMaxSizeBytes int64         `yaml:"spool_max_size_bytes"`
}

// Enabled reports whether completed files should be shipped.
func (a Archive) Enabled() bool {
	return a.Bucket != ""
}

const (
	ModeStandard = "standard"
	ModeRealtime = "realtime"
	ModeRegion   = "region"
)

// Load
//
// Builds a Config from environment variables.
// Unlike a server process that must not start half-configured, every key
// here has a usable default; only malformed values are errors.
func Load() (Config, error) {
	var errs []error
	p := &parser{errs: &errs}

	cfg := Config{
		VerboseTarget: p.str("VERBOSE_TARGET", "stderr"),
		VerboseFiles:  p.num("VERBOSE_FILES", 0),
		VerboseCycles: p.num("VERBOSE_CYCLES", 0),
		Modes:         p.list("VERBOSE_MODES", []string{ModeStandard}),
		Heartbeat:     p.dur("VERBOSE_HEARTBEAT", time.Second),
		Quantum:       p.dur("VERBOSE_QUANTUM", 500*time.Microsecond),

		ServiceName: p.str("SERVICE_NAME", "vgclog"),
		InstanceID:  p.str("INSTANCE_ID", fallbackInstanceID()),
		AdminAddr:   p.str("ADMIN_ADDR", ""),

		LogLevel:   p.str("LOG_LEVEL", "info"),
		LogPretty:  p.flag("LOG_PRETTY", false),
		LogSampleN: uint32(p.num("LOG_SAMPLE_N", 0)),

		Archive: Archive{
			Region:      p.str("ARCHIVE_REGION", ""),
			Bucket:      p.str("ARCHIVE_BUCKET", ""),
			Prefix:      p.str("ARCHIVE_PREFIX", "verbosegc"),
			SpoolPrefix: p.str("ARCHIVE_SPOOL_PREFIX", "verbosegc_dlq"),
			Timeout:     p.dur("ARCHIVE_TIMEOUT", 5*time.Second),
			Retries:     p.num("ARCHIVE_RETRIES", 3),
			QueueSize:   p.num("ARCHIVE_QUEUE", 64),

			SpoolDir:          p.str("SPOOL_DIR", os.TempDir()+"/vgclog-spool"),
			SpoolMaxAge:       p.dur("SPOOL_MAX_AGE", 24*time.Hour),
			SpoolMaxSizeBytes: p.num64("SPOOL_MAX_SIZE_BYTES", 256<<20),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot honour.
func (c Config) Validate() error {
	if c.VerboseFiles < 0 {
		return fmt.Errorf("verbose files must be >= 0, got %d", c.VerboseFiles)
	}
	if c.VerboseCycles < 0 {
		return fmt.Errorf("verbose cycles must be >= 0, got %d", c.VerboseCycles)
	}
	if len(c.Modes) == 0 {
		return errors.New("at least one collector mode is required")
	}
	for _, m := range c.Modes {
		switch m {
		case ModeStandard, ModeRealtime, ModeRegion:
		default:
			return fmt.Errorf("unknown collector mode %q", m)
		}
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %s", c.Heartbeat)
	}
	if c.Quantum < time.Microsecond {
		return fmt.Errorf("quantum must be at least 1µs, got %s", c.Quantum)
	}
	if c.Archive.Enabled() && c.Archive.Retries <= 0 {
		return fmt.Errorf("archive retries must be positive, got %d", c.Archive.Retries)
	}
	return nil
}

// parser collects malformed values instead of exiting on the first one,
// so a bad deployment reports every broken key at once.
type parser struct {
	errs *[]error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) num(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid int env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (p *parser) num64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid int64 env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (p *parser) flag(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid bool env %s=%q: %w", key, v, err))
		return def
	}
	return b
}

func (p *parser) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid duration env %s=%q: %w", key, v, err))
		return def
	}
	return d
}

func (p *parser) list(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fallbackInstanceID
//
// Identifies this process in log lines and archive object names.
//   - default: hostname
//   - fallback: 12 random hex characters
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
