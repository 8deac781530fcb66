// Package config loads the optional framecap configuration file. Flags
// override anything set here; a missing file just means defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"framecap/pkg/frame"
)

type Config struct {
	// Shell interprets chunk scripts.
	Shell string `yaml:"shell"`

	// Codec names the frame header encoding: "binary" or "delimited".
	// Both channels and the control stream use the same codec; the harness
	// must be configured identically.
	Codec string `yaml:"codec"`

	// PTY runs chunks under a pseudo-terminal.
	PTY bool `yaml:"pty"`

	// Listen is the serve command's address.
	Listen string `yaml:"listen"`

	// LogFile receives the runner's own diagnostics. Empty discards them;
	// they can never go to stdout or stderr, which carry frames.
	LogFile string `yaml:"log_file"`
}

func Default() Config {
	return Config{
		Shell:  "sh",
		Codec:  frame.Binary.Name(),
		Listen: "127.0.0.1:22124",
	}
}

// Load reads path over the defaults. An empty path or a missing file
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if _, err := frame.CodecByName(cfg.Codec); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}
