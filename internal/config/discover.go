package config

import (
	"os"
	"path/filepath"
)

// FileName is the configuration file looked up when none is named
const FileName = "kmin.yaml"

// Discover returns the configuration file to load when --config is not
// given. KMIN_CONFIG wins and must exist; otherwise kmin.yaml in dir is
// used if present. Parent directories are not searched, so a kernel tree
// nested inside another never picks up the outer configuration.
func Discover(dir string) (path string, mustExist bool) {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p, true
	}
	return filepath.Join(dir, FileName), false
}
