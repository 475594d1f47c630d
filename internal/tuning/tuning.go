// Package tuning loads transport tunables from an optional YAML file. Values
// are safe defaults when no file is present; Reload supports hot reloading.
package tuning

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Transport struct {
		PollIntervalMs   int `yaml:"poll_interval_ms"`
		PollMaxAttempts  int `yaml:"poll_max_attempts"`
		SocketGraceMs    int `yaml:"socket_grace_ms"`
		OverallTimeoutMs int `yaml:"overall_timeout_ms"`
	} `yaml:"transport"`
	Guard struct {
		CooldownMs    int `yaml:"cooldown_ms"`
		RatePerMinute int `yaml:"rate_per_minute"`
	} `yaml:"guard"`
}

// Tunables are the effective transport and guard knobs.
type Tunables struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	SocketGrace     time.Duration
	OverallTimeout  time.Duration
	Cooldown        time.Duration
	RatePerMinute   int
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
)

var defaultPaths = []string{
	os.Getenv("TUNING_CONFIG_PATH"),
	"/app/config/transport.yaml",
	"./config/transport.yaml",
}

func loadLocked() {
	var cfg config
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal tuning config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		log.Printf("Loaded transport tuning from %s", p)
		break
	}
	loaded = &cfg
	initialized = true
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// Current returns the effective tunables with defaults filled in.
func Current() Tunables {
	cfg := get()
	t := Tunables{
		PollInterval:    2 * time.Second,
		PollMaxAttempts: 90,
		SocketGrace:     10 * time.Second,
		OverallTimeout:  180 * time.Second,
		Cooldown:        30 * time.Second,
		RatePerMinute:   0,
	}
	if cfg == nil {
		return t
	}
	if v := cfg.Transport.PollIntervalMs; v > 0 {
		t.PollInterval = time.Duration(v) * time.Millisecond
	}
	if v := cfg.Transport.PollMaxAttempts; v > 0 {
		t.PollMaxAttempts = v
	}
	if v := cfg.Transport.SocketGraceMs; v > 0 {
		t.SocketGrace = time.Duration(v) * time.Millisecond
	}
	if v := cfg.Transport.OverallTimeoutMs; v > 0 {
		t.OverallTimeout = time.Duration(v) * time.Millisecond
	}
	if v := cfg.Guard.CooldownMs; v > 0 {
		t.Cooldown = time.Duration(v) * time.Millisecond
	}
	if v := cfg.Guard.RatePerMinute; v > 0 {
		t.RatePerMinute = v
	}
	return t
}

// Reload re-reads the tuning file; wired to the config watcher.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}

// SetPathForTest points the loader at a specific file, used by tests.
func SetPathForTest(path string) {
	mu.Lock()
	defer mu.Unlock()
	defaultPaths = []string{path}
	initialized = false
	loadLocked()
}

func init() {
	// Allow relative lookup when running from a subdirectory.
	if wd, err := os.Getwd(); err == nil {
		defaultPaths = append(defaultPaths, filepath.Join(filepath.Dir(wd), "config", "transport.yaml"))
	}
}
