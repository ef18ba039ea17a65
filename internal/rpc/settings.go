package rpc

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/datastation/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the RPC server.
	DefaultPort = 8777
	// DefaultMaxBodyBytes limits request payloads to 8 MB; projects travel whole.
	DefaultMaxBodyBytes int64 = 8 << 20
	DefaultReadTimeout        = 15 * time.Second
	// DefaultWriteTimeout is long because evalPanel waits on programs.
	DefaultWriteTimeout = 5 * time.Minute
	DefaultIdleTimeout  = 60 * time.Second
)

// Settings captures runtime configuration for the RPC HTTP server.
type Settings struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig builds Settings from config.yaml and its env overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{Host: DefaultHost, Port: DefaultPort}
	if cfg != nil {
		if host := strings.TrimSpace(cfg.Settings.Server.Host); host != "" {
			settings.Host = host
		}
		if isValidPort(cfg.Settings.Server.Port) {
			settings.Port = cfg.Settings.Server.Port
		}
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
