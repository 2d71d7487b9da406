// Package bridgeconfig loads the fixed paths and timing constants a bridge
// instance runs with, defaults-then-override style: start from Defaults,
// then decode an optional YAML file on top of them.
package bridgeconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of knobs a running bridge needs, covering the
// supervisor's fixed paths and the transport/supervisor timing constants.
// yaml tags make every field overridable from a file on disk; callers that
// only want the contract defaults can skip Load entirely and call Defaults.
type Config struct {
	SocketPath     string `yaml:"socket_path"`
	PidPath        string `yaml:"pid_path"`
	ConfigPath     string `yaml:"config_path"`
	ScriptFilename string `yaml:"script_filename"`
	WorkerBinary   string `yaml:"worker_binary"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`

	ReadinessPollInterval time.Duration `yaml:"readiness_poll_interval"`
	ReadinessTimeout      time.Duration `yaml:"readiness_timeout"`
	ReclaimPollInterval   time.Duration `yaml:"reclaim_poll_interval"`
	ReclaimTimeout        time.Duration `yaml:"reclaim_timeout"`
	StopGrace             time.Duration `yaml:"stop_grace"`
}

// Defaults returns the fixed paths and constants the bridge's environment
// image guarantees: socket and pid under /tmp/.bref, the default php-fpm
// config path, and every timing constant named in the design.
func Defaults() *Config {
	return &Config{
		SocketPath:     "/tmp/.bref/php-fpm.sock",
		PidPath:        "/tmp/.bref/php-fpm.pid",
		ConfigPath:     "/opt/bref/etc/php-fpm.conf",
		ScriptFilename: "/var/task/public/index.php",
		WorkerBinary:   "php-fpm",

		ConnectTimeout: 1 * time.Second,
		ReadTimeout:    30 * time.Second,

		ReadinessPollInterval: 5 * time.Millisecond,
		ReadinessTimeout:      5 * time.Second,
		ReclaimPollInterval:   5 * time.Millisecond,
		ReclaimTimeout:        1 * time.Second,
		StopGrace:             2 * time.Second,
	}
}

// Load returns Defaults with path decoded as YAML on top of it, if path
// exists. A missing file is the common case — the fixed paths already work
// without any override — and is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
