// Package config loads the server's configuration record.
//
// Precedence (lowest to highest): built-in defaults, an optional YAML file,
// environment variables, command-line flags. This mirrors the flag/env
// fallback idiom in gsoultan-Hermod's cmd/hermod/main.go (flags declared
// with defaults, then overridden from the environment only when the flag
// was left at its default, then overridden again by an explicit flag) and
// the yaml-tagged struct shape of its internal/config package.
//
// Command-line parsing and environment loading are, per spec.md §1, external
// collaborators to the ingestion core — this package has no dependency on
// anything in internal/server, internal/ring, etc.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WaitStrategy selects how the journal consumer idles when the ring is
// empty. See spec.md §4.2.
type WaitStrategy string

const (
	WaitBlock WaitStrategy = "block"
	WaitSleep WaitStrategy = "sleep"
	WaitYield WaitStrategy = "yield"
	WaitBusy  WaitStrategy = "busy"
)

func (w WaitStrategy) valid() bool {
	switch w {
	case WaitBlock, WaitSleep, WaitYield, WaitBusy:
		return true
	}
	return false
}

// Config is the configuration record consumed by the server lifecycle (C8).
type Config struct {
	Port                    int          `yaml:"port"`
	JournalDirectory        string       `yaml:"journal_directory"`
	JournalWaitStrategy     WaitStrategy `yaml:"journal_wait_strategy"`
	SingleThreadedEventLoop bool         `yaml:"single_threaded_event_loop"`

	// RingCapacity is K from spec.md §3, the number of 9-byte slots in the
	// producer/consumer ring. Must be a power of two.
	RingCapacity int `yaml:"ring_capacity"`

	// JournalBufferSize is the buffered writer size for numbers.log, in
	// bytes. spec.md §3 requires at least 8 KiB; SPEC_FULL.md raises the
	// default to 64 KiB. Exposed as a knob so tests can force frequent
	// flushes without waiting on the buffer to fill naturally.
	JournalBufferSize int `yaml:"journal_buffer_size"`

	// WorkerPoolSize is the hard concurrency cap from spec.md §4.7. The spec
	// fixes it at 5; exposed as a knob so tests can exercise the gate at a
	// smaller size without spinning up 100 real sockets.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// MetricsAddr, if non-empty, serves Prometheus metrics (the [EXPANSION]
	// C9 in SPEC_FULL.md) on this address. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration record described in spec.md §6.
func Default() Config {
	return Config{
		Port:                    4000,
		JournalDirectory:        os.TempDir(),
		JournalWaitStrategy:     WaitBlock,
		SingleThreadedEventLoop: false,
		RingCapacity:            1 << 20, // 1,048,576, per spec.md §3
		JournalBufferSize:       64 * 1024,
		WorkerPoolSize:          5,
		MetricsAddr:             "",
		LogLevel:                "info",
	}
}

// Load resolves a Config from (in increasing precedence order) built-in
// defaults, an optional YAML file, environment variables, and the given
// command-line arguments.
func Load(args []string) (Config, error) {
	cfg := Default()

	// File layer: only to discover -config, since flag parsing only runs
	// once below. We peek at argv by hand for this one string flag so the
	// file's values can become the *defaults* flags/env fall back to.
	if configPath := peekConfigFlag(args); configPath != "" {
		b, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var (
		port              = cfg.Port
		journalDir        = cfg.JournalDirectory
		waitStrategy      = string(cfg.JournalWaitStrategy)
		singleThreaded    = cfg.SingleThreadedEventLoop
		ringCapacity      = cfg.RingCapacity
		journalBufferSize = cfg.JournalBufferSize
		workerPoolSize    = cfg.WorkerPoolSize
		metricsAddr       = cfg.MetricsAddr
		logLevel          = cfg.LogLevel
	)

	// Env layer: overrides the file/default values, before flags are
	// registered, so an unset flag falls back to the env value rather than
	// silently reverting to Default().
	applyEnvInt("DIGITS_PORT", &port)
	applyEnvString("DIGITS_JOURNAL_DIR", &journalDir)
	applyEnvString("DIGITS_WAIT_STRATEGY", &waitStrategy)
	applyEnvBool("DIGITS_SINGLE_THREADED", &singleThreaded)
	applyEnvInt("DIGITS_RING_CAPACITY", &ringCapacity)
	applyEnvInt("DIGITS_JOURNAL_BUFFER_SIZE", &journalBufferSize)
	applyEnvInt("DIGITS_WORKER_POOL_SIZE", &workerPoolSize)
	applyEnvString("DIGITS_METRICS_ADDR", &metricsAddr)
	applyEnvString("DIGITS_LOG_LEVEL", &logLevel)

	// Flag layer: highest precedence.
	fs := flag.NewFlagSet("digitserver", flag.ContinueOnError)
	fs.String("config", "", "path to an optional YAML config file")
	fs.IntVar(&port, "port", port, "TCP port to listen on")
	fs.StringVar(&journalDir, "journal-dir", journalDir, "directory for numbers.log")
	fs.StringVar(&waitStrategy, "wait-strategy", waitStrategy, "journal consumer wait discipline: block, sleep, yield, busy")
	fs.BoolVar(&singleThreaded, "single-threaded", singleThreaded, "run all goroutines on a single OS thread (GOMAXPROCS=1)")
	fs.IntVar(&ringCapacity, "ring-capacity", ringCapacity, "producer/consumer ring capacity (power of two)")
	fs.IntVar(&journalBufferSize, "journal-buffer-size", journalBufferSize, "buffered writer size for numbers.log, in bytes (minimum 8192)")
	fs.IntVar(&workerPoolSize, "worker-pool-size", workerPoolSize, "maximum concurrently-reading connection handlers")
	fs.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "optional address to serve Prometheus metrics on, e.g. :9090")
	fs.StringVar(&logLevel, "log-level", logLevel, "zerolog level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Port = port
	cfg.JournalDirectory = journalDir
	cfg.JournalWaitStrategy = WaitStrategy(strings.ToLower(waitStrategy))
	cfg.SingleThreadedEventLoop = singleThreaded
	cfg.RingCapacity = ringCapacity
	cfg.JournalBufferSize = journalBufferSize
	cfg.WorkerPoolSize = workerPoolSize
	cfg.MetricsAddr = metricsAddr
	cfg.LogLevel = logLevel

	return cfg, cfg.Validate()
}

func peekConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

// Validate checks the invariants the rest of the server assumes hold.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if !c.JournalWaitStrategy.valid() {
		return fmt.Errorf("invalid wait strategy %q", c.JournalWaitStrategy)
	}
	if c.RingCapacity <= 0 || c.RingCapacity&(c.RingCapacity-1) != 0 {
		return fmt.Errorf("ring capacity %d must be a power of two", c.RingCapacity)
	}
	if c.JournalBufferSize < 8*1024 {
		return fmt.Errorf("journal buffer size %d must be at least 8192 bytes", c.JournalBufferSize)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive, got %d", c.WorkerPoolSize)
	}
	return nil
}

func applyEnvString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyEnvInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyEnvBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// JournalPath returns the path of the journal file inside JournalDirectory,
// per spec.md §6. It is absolute only if JournalDirectory is.
func (c Config) JournalPath() string {
	return c.JournalDirectory + string(os.PathSeparator) + "numbers.log"
}

// StatsInterval is the fixed 10 second reporting period from spec.md §4.4.
// Not configurable: the spec fixes it, and test suites rely on the exact
// cadence (spec.md §4.4, "test suites rely on the heartbeat").
const StatsInterval = 10 * time.Second
