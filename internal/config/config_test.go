package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".goodconfig", cfg.SeedConfig)
	assert.Equal(t, "configs", cfg.CheckpointDir)
	assert.Equal(t, "make CROSS_COMPILE=i686-linux- -j8", cfg.Build.Command)
	assert.Equal(t, "arch/x86/boot/bzImage", cfg.Build.Artifact)
	assert.Equal(t, ":1234", cfg.Boot.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Boot.Timeout)
	assert.Zero(t, cfg.Budget.MaxIterations, "unbounded by default")
	assert.Zero(t, cfg.Budget.MaxDuration)
	assert.Equal(t, []string{"ARCH=i386", "KERNELVERSION=2", "SRCARCH=x86"}, cfg.EnvList())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source_dir: /src/linux
checkpoint_dir: /var/kmin/configs
boot:
  timeout: 30s
  listen_addr: 127.0.0.1:4321
budget:
  max_iterations: 50
  max_duration: 12h
history_db: kmin.db
`), 0644))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/src/linux", cfg.SourceDir)
	assert.Equal(t, 30*time.Second, cfg.Boot.Timeout)
	assert.Equal(t, "127.0.0.1:4321", cfg.Boot.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Boot.Grace, "unset fields keep defaults")
	assert.Equal(t, DefaultBootCommand, cfg.Boot.Command)
	assert.Equal(t, 50, cfg.Budget.MaxIterations)
	assert.Equal(t, 12*time.Hour, cfg.Budget.MaxDuration)
	assert.Equal(t, "i386", cfg.Env["ARCH"])

	assert.Equal(t, "/src/linux/.config", cfg.Resolve(cfg.ConfigPath))
	assert.Equal(t, "/var/kmin/configs", cfg.Resolve(cfg.CheckpointDir))
	assert.Equal(t, "/src/linux/kmin.db", cfg.Resolve(cfg.HistoryDB))
	assert.Empty(t, cfg.Resolve(""))
}

func TestLoad_EnvReplacesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env:\n  ARCH: x86_64\n"), 0644))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ARCH=x86_64"}, cfg.EnvList())
}

func TestLoad_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = Load(path, false)
	assert.Error(t, err)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boot:\n  timeout: soon\n"), 0644))

	_, err := Load(path, false)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("KMIN_SOURCE_DIR", "/kernel")
	t.Setenv("KMIN_BUILD_COMMAND", "make -j2")
	t.Setenv("KMIN_BOOT_TIMEOUT", "45s")
	t.Setenv("KMIN_MAX_ITERATIONS", "7")
	t.Setenv("KMIN_MAX_DURATION", "2h")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "/kernel", cfg.SourceDir)
	assert.Equal(t, "make -j2", cfg.Build.Command)
	assert.Equal(t, 45*time.Second, cfg.Boot.Timeout)
	assert.Equal(t, 7, cfg.Budget.MaxIterations)
	assert.Equal(t, 2*time.Hour, cfg.Budget.MaxDuration)
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("KMIN_BOOT_TIMEOUT", "ten seconds")
	assert.Error(t, DefaultConfig().ApplyEnv())

	t.Setenv("KMIN_BOOT_TIMEOUT", "")
	t.Setenv("KMIN_MAX_ITERATIONS", "many")
	assert.Error(t, DefaultConfig().ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty build command", func(c *Config) { c.Build.Command = " " }},
		{"empty artifact", func(c *Config) { c.Build.Artifact = "" }},
		{"empty boot command", func(c *Config) { c.Boot.Command = "" }},
		{"empty listen addr", func(c *Config) { c.Boot.ListenAddr = "" }},
		{"empty seed", func(c *Config) { c.SeedConfig = "" }},
		{"empty checkpoint dir", func(c *Config) { c.CheckpointDir = "" }},
		{"zero timeout", func(c *Config) { c.Boot.Timeout = 0 }},
		{"negative grace", func(c *Config) { c.Boot.Grace = -time.Second }},
		{"negative iterations", func(c *Config) { c.Budget.MaxIterations = -1 }},
		{"negative duration", func(c *Config) { c.Budget.MaxDuration = -time.Minute }},
		{"bad env name", func(c *Config) { c.Env["A=B"] = "x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDiscover(t *testing.T) {
	t.Setenv("KMIN_CONFIG", "")
	dir := t.TempDir()

	path, mustExist := Discover(dir)
	assert.Equal(t, filepath.Join(dir, FileName), path)
	assert.False(t, mustExist)

	t.Setenv("KMIN_CONFIG", "/etc/kmin/i386.yaml")
	path, mustExist = Discover(dir)
	assert.Equal(t, "/etc/kmin/i386.yaml", path)
	assert.True(t, mustExist)
}

func TestDiscover_IgnoresParent(t *testing.T) {
	t.Setenv("KMIN_CONFIG", "")
	parent := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parent, FileName), []byte("source_dir: /outer\n"), 0644))
	child := filepath.Join(parent, "linux")
	require.NoError(t, os.Mkdir(child, 0755))

	path, mustExist := Discover(child)
	cfg, err := Load(path, !mustExist)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.SourceDir, "outer kmin.yaml is not used")
}
