package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tcpframe/internal/codec"
	"tcpframe/internal/logging"
	"tcpframe/internal/wire"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Channel ChannelConfig `toml:"channel"`
	Journal JournalConfig `toml:"journal"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Listen     string  `toml:"listen"`
	MaxConns   int     `toml:"max_conns"`
	AcceptRate float64 `toml:"accept_rate"` // accepted connections per second per remote host; 0 disables
	Mode       string  `toml:"mode"`
}

type ChannelConfig struct {
	Timeout      Duration `toml:"timeout"`
	PollInterval Duration `toml:"poll_interval"`
	MaxMessage   int      `toml:"max_message"`
	Codec        string   `toml:"codec"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	DataDir string `toml:"data_dir"`
	Retain  int    `toml:"retain"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration that reads from TOML strings like "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Server modes understood by the tcpframe binary.
var Modes = []string{"echo", "ack", "text"}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:     "0.0.0.0:7400",
			MaxConns:   64,
			AcceptRate: 20,
			Mode:       "echo",
		},
		Channel: ChannelConfig{
			Timeout:      Duration{wire.DefaultBudget},
			PollInterval: Duration{wire.DefaultPollInterval},
			MaxMessage:   wire.DefaultMaxMessage,
			Codec:        "json",
		},
		Journal: JournalConfig{
			Enabled: true,
			DataDir: "~/.tcpframe",
			Retain:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, ~/.tcpframe/config.toml is used when present,
// otherwise defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.tcpframe/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if err := validateListenAddr(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.Server.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("server.max_conns: must be >= 0, got %d", c.Server.MaxConns))
	}
	if c.Server.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("server.accept_rate: must be >= 0, got %g", c.Server.AcceptRate))
	}
	if !validMode(c.Server.Mode) {
		errs = append(errs, fmt.Errorf("server.mode: unknown mode %q (want one of %s)", c.Server.Mode, strings.Join(Modes, ", ")))
	}

	if c.Channel.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("channel.timeout: must be positive, got %s", c.Channel.Timeout))
	}
	if c.Channel.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("channel.poll_interval: must be positive, got %s", c.Channel.PollInterval))
	} else if c.Channel.Timeout.Duration > 0 && c.Channel.PollInterval.Duration > c.Channel.Timeout.Duration {
		errs = append(errs, fmt.Errorf("channel.poll_interval: %s exceeds channel.timeout %s", c.Channel.PollInterval, c.Channel.Timeout))
	}
	if c.Channel.MaxMessage <= 0 || c.Channel.MaxMessage > 1<<31-1 {
		errs = append(errs, fmt.Errorf("channel.max_message: must be in 1..%d, got %d", 1<<31-1, c.Channel.MaxMessage))
	}
	if _, err := codec.ByName(c.Channel.Codec); err != nil {
		errs = append(errs, fmt.Errorf("channel.codec: %w", err))
	}

	if c.Journal.Enabled && strings.TrimSpace(c.Journal.DataDir) == "" {
		errs = append(errs, errors.New("journal.data_dir: required when the journal is enabled"))
	}
	if c.Journal.Retain < 0 {
		errs = append(errs, fmt.Errorf("journal.retain: must be >= 0, got %d", c.Journal.Retain))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Options converts the channel section into wire options. An unknown codec
// name leaves the codec unset so the channel default applies.
func (c ChannelConfig) Options() wire.Options {
	cd, _ := codec.ByName(c.Codec)
	return wire.Options{
		Budget:       c.Timeout.Duration,
		PollInterval: c.PollInterval.Duration,
		MaxMessage:   c.MaxMessage,
		Codec:        cd,
	}
}

func validMode(mode string) bool {
	for _, m := range Modes {
		if mode == m {
			return true
		}
	}
	return false
}

func validateListenAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("address is empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("host is empty (use 0.0.0.0 to listen on all interfaces)")
	}
	if port == "" {
		return errors.New("port is empty")
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
