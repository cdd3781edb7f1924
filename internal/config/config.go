// Package config loads peerlink settings from defaults, an optional TOML
// file and PEERLINK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rudransh-shrivastava/peerlink/internal/db"
	"github.com/rudransh-shrivastava/peerlink/internal/rate"
	"github.com/rudransh-shrivastava/peerlink/internal/relay"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
)

const envPrefix = "PEERLINK_"

// maxChunkSize keeps chunks below the smallest message limit of the
// supported channels.
const maxChunkSize = 256 * 1024

var (
	ErrInvalidChunkSize = errors.New("config: chunk size out of range")
	ErrInvalidCapacity  = errors.New("config: room capacity must be positive")
	ErrMissingRelay     = errors.New("config: relay url is empty")
)

type Config struct {
	Direct DirectConfig `toml:"direct"`
	Log    LogConfig    `toml:"log"`
	Peer   PeerConfig   `toml:"peer"`
	Relay  RelayConfig  `toml:"relay"`
}

// DirectConfig tunes the QUIC endpoint used by send --direct and
// receive --listen.
type DirectConfig struct {
	CertValidity time.Duration `toml:"cert_validity"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`
	KeepAlive    time.Duration `toml:"keep_alive"`
}

// Transport turns the section into transport options for the peer named
// name.
func (d DirectConfig) Transport(name string, logger *logrus.Logger) transport.Options {
	return transport.Options{
		CertValidity: d.CertValidity,
		IdleTimeout:  d.IdleTimeout,
		KeepAlive:    d.KeepAlive,
		Logger:       logger,
		Name:         name,
	}
}

type LogConfig struct {
	Level string `toml:"level"`
}

type PeerConfig struct {
	ChunkSize      int           `toml:"chunk_size"`
	HistoryDB      string        `toml:"history_db"`
	LowWaterMark   int           `toml:"low_water_mark"`
	RelayURL       string        `toml:"relay_url"`
	Room           string        `toml:"room"`
	SampleInterval time.Duration `toml:"sample_interval"`
	STUNServers    []string      `toml:"stun_servers"`
	Username       string        `toml:"username"`
}

type RelayConfig struct {
	Addr      string `toml:"addr"`
	Advertise bool   `toml:"advertise"`
	Capacity  int    `toml:"capacity"`
	Instance  string `toml:"instance"`
	TCPAddr   string `toml:"tcp_addr"`
}

func Default() Config {
	username := os.Getenv("USER")
	if username == "" {
		username = "peer"
	}

	return Config{
		Direct: DirectConfig{
			CertValidity: transport.DefaultCertValidity,
			IdleTimeout:  transport.DefaultIdleTimeout,
			KeepAlive:    transport.DefaultKeepAlive,
		},
		Log: LogConfig{Level: "info"},
		Peer: PeerConfig{
			ChunkSize:      transfer.DefaultChunkSize,
			HistoryDB:      db.MemoryPath,
			LowWaterMark:   transfer.DefaultLowWaterMark,
			RelayURL:       "ws://localhost:8080" + relay.WebsocketPath,
			Room:           "default",
			SampleInterval: rate.DefaultInterval,
			Username:       username,
		},
		Relay: RelayConfig{
			Addr:     ":8080",
			Capacity: relay.DefaultCapacity,
			Instance: "peerlink",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)

	str("RELAY_ADDR", &c.Relay.Addr)
	str("RELAY_TCP_ADDR", &c.Relay.TCPAddr)
	str("RELAY_INSTANCE", &c.Relay.Instance)
	if err := num("RELAY_CAPACITY", &c.Relay.Capacity); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "RELAY_ADVERTISE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sRELAY_ADVERTISE: %w", envPrefix, err)
		}
		c.Relay.Advertise = b
	}

	str("RELAY_URL", &c.Peer.RelayURL)
	str("ROOM", &c.Peer.Room)
	str("USERNAME", &c.Peer.Username)
	str("HISTORY_DB", &c.Peer.HistoryDB)
	if err := num("CHUNK_SIZE", &c.Peer.ChunkSize); err != nil {
		return err
	}
	if err := num("LOW_WATER_MARK", &c.Peer.LowWaterMark); err != nil {
		return err
	}
	if err := dur("SAMPLE_INTERVAL", &c.Peer.SampleInterval); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "STUN_SERVERS"); ok && v != "" {
		c.Peer.STUNServers = splitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		"DIRECT_CERT_VALIDITY": &c.Direct.CertValidity,
		"DIRECT_IDLE_TIMEOUT":  &c.Direct.IdleTimeout,
		"DIRECT_KEEP_ALIVE":    &c.Direct.KeepAlive,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Peer.ChunkSize <= 0 || c.Peer.ChunkSize > maxChunkSize {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.Peer.ChunkSize)
	}
	if c.Peer.LowWaterMark < 0 {
		return fmt.Errorf("config: negative low water mark %d", c.Peer.LowWaterMark)
	}
	if c.Peer.SampleInterval <= 0 {
		return fmt.Errorf("config: sample interval must be positive, got %s", c.Peer.SampleInterval)
	}
	if c.Peer.RelayURL == "" {
		return ErrMissingRelay
	}
	if c.Relay.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if c.Direct.CertValidity <= 0 || c.Direct.IdleTimeout <= 0 || c.Direct.KeepAlive <= 0 {
		return fmt.Errorf("config: direct durations must be positive, got %+v", c.Direct)
	}
	if err := c.Direct.Transport("", nil).Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
