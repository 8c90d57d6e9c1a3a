// Package config holds the run configuration: where the kernel tree and
// checkpoints live, how to build and boot, and the optional search budget.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "KMIN_"

// DefaultBootCommand runs the kernel under QEMU with user networking; the
// guest reaches the host listener at 10.0.2.2.
const DefaultBootCommand = "qemu -hda ../pcdisk.img -vga std -serial stdio" +
	" -net user -net nic,model=e1000 -m 1024M -usbdevice mouse" +
	" -kernel {{.Artifact}} -append '{{.Cmdline}}'"

// DefaultKernelCmdline is the kernel command line passed to the emulator
const DefaultKernelCmdline = "root=/dev/sda1 rootfstype=ext2 init=/bin/start" +
	" video=vesa:ywrap,mtrr vga=0x344 console=/dev/ttyS0 console=tty0 rw"

// Config is the complete run configuration
type Config struct {
	// SourceDir is the kernel tree; the build runs here and relative paths
	// below resolve against it
	SourceDir string `yaml:"source_dir"`

	// Declarations is an optional YAML file of symbol declarations
	Declarations string `yaml:"declarations"`

	// SeedConfig is the known-good start configuration
	SeedConfig string `yaml:"seed_config"`

	// ConfigPath is the working configuration rewritten before every build
	ConfigPath string `yaml:"config_path"`

	// CheckpointDir holds config_<N> checkpoints and the run lock
	CheckpointDir string `yaml:"checkpoint_dir"`

	Build BuildConfig `yaml:"build"`
	Boot  BootConfig  `yaml:"boot"`

	// Env is exported to the build and boot commands
	Env map[string]string `yaml:"env"`

	Budget BudgetConfig `yaml:"budget"`

	// HistoryDB enables the SQLite run journal when set
	HistoryDB string `yaml:"history_db"`
}

// BuildConfig configures the build gate
type BuildConfig struct {
	Command  string `yaml:"command"`
	Artifact string `yaml:"artifact"`
	Log      string `yaml:"log"`
}

// BootConfig configures the boot gate
type BootConfig struct {
	// Command is a template with .Artifact, .Cmdline, .Port and .Addr
	Command       string        `yaml:"command"`
	KernelCmdline string        `yaml:"kernel_cmdline"`
	ListenAddr    string        `yaml:"listen_addr"`
	Timeout       time.Duration `yaml:"timeout"`
	Grace         time.Duration `yaml:"grace"`
	ConsoleLog    string        `yaml:"console_log"`
}

// BudgetConfig bounds a run. Zero means unbounded.
type BudgetConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxDuration   time.Duration `yaml:"max_duration"`
}

// DefaultConfig returns the configuration for an i386 kernel booted under QEMU
func DefaultConfig() *Config {
	return &Config{
		SourceDir:     ".",
		SeedConfig:    ".goodconfig",
		ConfigPath:    ".config",
		CheckpointDir: "configs",
		Build: BuildConfig{
			Command:  "make CROSS_COMPILE=i686-linux- -j8",
			Artifact: "arch/x86/boot/bzImage",
		},
		Boot: BootConfig{
			Command:       DefaultBootCommand,
			KernelCmdline: DefaultKernelCmdline,
			ListenAddr:    ":1234",
			Timeout:       10 * time.Second,
			Grace:         5 * time.Second,
		},
		Env: map[string]string{
			"ARCH":          "i386",
			"SRCARCH":       "x86",
			"KERNELVERSION": "2",
		},
	}
}

// Load reads a YAML configuration file over the defaults. A missing file is
// not an error when optional is true.
func Load(path string, optional bool) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// yaml.v3 merges into the existing map; start env from scratch only if
	// the file sets it
	defaults := cfg.Env
	cfg.Env = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if cfg.Env == nil {
		cfg.Env = defaults
	}
	return cfg, nil
}

// ApplyEnv overrides fields from KMIN_* environment variables.
//
// Environment variables:
//   - KMIN_SOURCE_DIR, KMIN_DECLARATIONS, KMIN_SEED_CONFIG, KMIN_CONFIG_PATH,
//     KMIN_CHECKPOINT_DIR, KMIN_HISTORY_DB: paths
//   - KMIN_BUILD_COMMAND, KMIN_BUILD_ARTIFACT, KMIN_BUILD_LOG
//   - KMIN_BOOT_COMMAND, KMIN_BOOT_KERNEL_CMDLINE, KMIN_BOOT_LISTEN_ADDR,
//     KMIN_BOOT_CONSOLE_LOG
//   - KMIN_BOOT_TIMEOUT, KMIN_BOOT_GRACE, KMIN_MAX_DURATION: durations ("10s")
//   - KMIN_MAX_ITERATIONS: integer
//
// Returns an error if any environment variable has an invalid value.
func (c *Config) ApplyEnv() error {
	strs := []struct {
		key  string
		dest *string
	}{
		{"SOURCE_DIR", &c.SourceDir},
		{"DECLARATIONS", &c.Declarations},
		{"SEED_CONFIG", &c.SeedConfig},
		{"CONFIG_PATH", &c.ConfigPath},
		{"CHECKPOINT_DIR", &c.CheckpointDir},
		{"HISTORY_DB", &c.HistoryDB},
		{"BUILD_COMMAND", &c.Build.Command},
		{"BUILD_ARTIFACT", &c.Build.Artifact},
		{"BUILD_LOG", &c.Build.Log},
		{"BOOT_COMMAND", &c.Boot.Command},
		{"BOOT_KERNEL_CMDLINE", &c.Boot.KernelCmdline},
		{"BOOT_LISTEN_ADDR", &c.Boot.ListenAddr},
		{"BOOT_CONSOLE_LOG", &c.Boot.ConsoleLog},
	}
	for _, s := range strs {
		if val := os.Getenv(EnvPrefix + s.key); val != "" {
			*s.dest = val
		}
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"BOOT_TIMEOUT", &c.Boot.Timeout},
		{"BOOT_GRACE", &c.Boot.Grace},
		{"MAX_DURATION", &c.Budget.MaxDuration},
	}
	for _, d := range durations {
		if err := parseEnvDuration(EnvPrefix+d.key, d.dest); err != nil {
			return err
		}
	}

	return parseEnvInt(EnvPrefix+"MAX_ITERATIONS", &c.Budget.MaxIterations)
}

// Validate checks that the configuration can drive a run
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"source_dir", c.SourceDir},
		{"seed_config", c.SeedConfig},
		{"config_path", c.ConfigPath},
		{"checkpoint_dir", c.CheckpointDir},
		{"build.command", c.Build.Command},
		{"build.artifact", c.Build.Artifact},
		{"boot.command", c.Boot.Command},
		{"boot.listen_addr", c.Boot.ListenAddr},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if c.Boot.Timeout <= 0 {
		return fmt.Errorf("boot.timeout must be positive, got %v", c.Boot.Timeout)
	}
	if c.Boot.Grace <= 0 {
		return fmt.Errorf("boot.grace must be positive, got %v", c.Boot.Grace)
	}
	if c.Budget.MaxIterations < 0 {
		return fmt.Errorf("budget.max_iterations must be non-negative, got %d", c.Budget.MaxIterations)
	}
	if c.Budget.MaxDuration < 0 {
		return fmt.Errorf("budget.max_duration must be non-negative, got %v", c.Budget.MaxDuration)
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "= ") {
			return fmt.Errorf("invalid env name %q", k)
		}
	}
	return nil
}

// Resolve returns p relative to the source directory, unless p is empty or absolute
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.SourceDir, p)
}

// EnvList returns Env as sorted KEY=VALUE pairs
func (c *Config) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
