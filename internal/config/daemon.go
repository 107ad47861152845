package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a daemon started without flags or settings file.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 9091
	DefaultPollInterval = 750 * time.Millisecond
)

// DaemonSettings is the on-disk shape of ~/.grotto/daemon.yaml.
type DaemonSettings struct {
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	PollInterval string `yaml:"poll_interval,omitempty"` // Go duration, e.g. "750ms"
	WebDir       string `yaml:"web_dir,omitempty"`
	AuthToken    string `yaml:"auth_token,omitempty"`
	TLS          string `yaml:"tls,omitempty"` // "", "self-signed" or "custom"
	CertFile     string `yaml:"cert_file,omitempty"`
	KeyFile      string `yaml:"key_file,omitempty"`
	MDNS         bool   `yaml:"mdns,omitempty"`
}

// LoadDaemonSettings reads path, returning defaults if the file is absent.
func LoadDaemonSettings(path string) (*DaemonSettings, error) {
	s := &DaemonSettings{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.applyDefaults()
			return s, nil
		}
		return nil, fmt.Errorf("reading daemon settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing daemon settings %s: %w", path, err)
	}
	if _, err := s.Interval(); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return s, nil
}

// SaveDaemonSettings writes s as YAML.
func SaveDaemonSettings(path string, s *DaemonSettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *DaemonSettings) applyDefaults() {
	if strings.TrimSpace(s.Host) == "" {
		s.Host = DefaultHost
	}
	if s.Port <= 0 {
		s.Port = DefaultPort
	}
	if strings.TrimSpace(s.PollInterval) == "" {
		s.PollInterval = DefaultPollInterval.String()
	}
}

// Interval parses PollInterval. Empty means the default.
func (s *DaemonSettings) Interval() (time.Duration, error) {
	raw := strings.TrimSpace(s.PollInterval)
	if raw == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid poll_interval %q: must be positive", raw)
	}
	return d, nil
}
