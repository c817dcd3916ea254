// Package config loads the TOML configuration file shared by the rudtd
// server and rudt client binaries.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Server holds the server binary's configuration.
type Server struct {
	Listen           string   `toml:"listen"`
	RegistryCapacity int      `toml:"registry_capacity"`
	HeartbeatTimeout duration `toml:"heartbeat_timeout"`
	SweepInterval    duration `toml:"sweep_interval"`
	MSS              uint32   `toml:"mss"`
	MetricsListen    string   `toml:"metrics_listen"`
	LogLevel         string   `toml:"log_level"`
}

// Client holds the client binary's configuration.
type Client struct {
	ServerAddr string `toml:"server_addr"`
	LocalPort  int    `toml:"local_port"`
	MSS        uint32 `toml:"mss"`
	LogLevel   string `toml:"log_level"`
}

// repr is the on-disk shape of the combined config file; only one of the
// two top-level tables is normally populated for a given binary.
type repr struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
}

// duration lets TOML strings like "30s" decode straight into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "config: invalid duration %q", text)
	}
	*d = duration(parsed)
	return nil
}

// Duration returns d as a time.Duration.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// Defaults a caller may fall back to when a field is left zero in the file.
const (
	DefaultListen           = "127.0.0.1:12345"
	DefaultRegistryCapacity = 100
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Second
	DefaultMSS              = 44
	DefaultLogLevel         = "info"
)

// LoadServer reads and decodes the [server] table of the TOML file at path.
func LoadServer(path string) (*Server, error) {
	var r repr
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, errors.Wrapf(err, "config: failed to load %s", path)
	}
	s := r.Server
	applyServerDefaults(&s)
	return &s, nil
}

// LoadClient reads and decodes the [client] table of the TOML file at path.
func LoadClient(path string) (*Client, error) {
	var r repr
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, errors.Wrapf(err, "config: failed to load %s", path)
	}
	c := r.Client
	applyClientDefaults(&c)
	return &c, nil
}

func applyServerDefaults(s *Server) {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.RegistryCapacity == 0 {
		s.RegistryCapacity = DefaultRegistryCapacity
	}
	if s.HeartbeatTimeout == 0 {
		s.HeartbeatTimeout = duration(DefaultHeartbeatTimeout)
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = duration(DefaultSweepInterval)
	}
	if s.MSS == 0 {
		s.MSS = DefaultMSS
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
}

func applyClientDefaults(c *Client) {
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultListen
	}
	if c.MSS == 0 {
		c.MSS = DefaultMSS
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}
