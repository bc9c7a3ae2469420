package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yndnr/jalsync-go/internal/infra/confloader"
)

// EnvPrefix is the environment prefix of CLI settings.
const EnvPrefix = "JALSYNC_CLI_"

// CLIConfig holds jalsync-cli defaults. Flags override every field.
type CLIConfig struct {
	// Server is the admin base URL of jalsync-server.
	Server string `koanf:"server"`
	Token  string `koanf:"token"`
	Output string `koanf:"output"`

	TLS TLSConfig `koanf:"tls"`
}

// TLSConfig names the material used when dialing peers.
type TLSConfig struct {
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// Default returns the built-in defaults.
func Default() *CLIConfig {
	return &CLIConfig{
		Server: "http://127.0.0.1:5080",
		Output: "table",
	}
}

// DefaultPath returns ~/.jalsync/cli.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".jalsync", "cli.yaml")
}

// Load layers path and the environment over the defaults. A missing file
// is not an error.
func Load(path string) (*CLIConfig, error) {
	cfg := Default()
	opts := []confloader.Option{confloader.WithEnvPrefix(EnvPrefix)}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			opts = append(opts, confloader.WithConfigFile(path))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
