package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peerlink.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", env(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Peer.ChunkSize != 16384 {
		t.Errorf("Expected default chunk size 16384, got %d", cfg.Peer.ChunkSize)
	}
	if cfg.Relay.Capacity != 2 {
		t.Errorf("Expected default capacity 2, got %d", cfg.Relay.Capacity)
	}
	if cfg.Peer.SampleInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms sample interval, got %s", cfg.Peer.SampleInterval)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[peer]
chunk_size = 8192
room = "lab"
sample_interval = "250ms"
stun_servers = ["stun:a.example:3478"]

[relay]
addr = ":9000"
advertise = true
`)

	cfg, err := load(path, env(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Peer.ChunkSize != 8192 || cfg.Peer.Room != "lab" {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.Peer.SampleInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", cfg.Peer.SampleInterval)
	}
	if cfg.Relay.Addr != ":9000" || !cfg.Relay.Advertise {
		t.Errorf("Relay values not applied: %+v", cfg.Relay)
	}
	if len(cfg.Peer.STUNServers) != 1 {
		t.Errorf("Expected one STUN server, got %v", cfg.Peer.STUNServers)
	}
	// Untouched keys keep their defaults.
	if cfg.Peer.LowWaterMark != 65536 {
		t.Errorf("Expected default low water mark, got %d", cfg.Peer.LowWaterMark)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[peer]
chunk_size = 8192
room = "lab"
`)

	cfg, err := load(path, env(map[string]string{
		"PEERLINK_CHUNK_SIZE":      "4096",
		"PEERLINK_RELAY_ADVERTISE": "true",
		"PEERLINK_STUN_SERVERS":    "stun:a:1, stun:b:2,",
		"PEERLINK_SAMPLE_INTERVAL": "1s",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Peer.ChunkSize != 4096 {
		t.Errorf("Expected env chunk size 4096, got %d", cfg.Peer.ChunkSize)
	}
	if cfg.Peer.Room != "lab" {
		t.Errorf("Expected file room to survive, got %q", cfg.Peer.Room)
	}
	if !cfg.Relay.Advertise {
		t.Error("Expected advertise from env")
	}
	if got := cfg.Peer.STUNServers; len(got) != 2 || got[1] != "stun:b:2" {
		t.Errorf("Unexpected STUN servers %v", got)
	}
	if cfg.Peer.SampleInterval != time.Second {
		t.Errorf("Expected 1s, got %s", cfg.Peer.SampleInterval)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want error
	}{
		{"zero chunk", map[string]string{"PEERLINK_CHUNK_SIZE": "0"}, ErrInvalidChunkSize},
		{"huge chunk", map[string]string{"PEERLINK_CHUNK_SIZE": "10000000"}, ErrInvalidChunkSize},
		{"zero capacity", map[string]string{"PEERLINK_RELAY_CAPACITY": "0"}, ErrInvalidCapacity},
		{"keep-alive past idle", map[string]string{"PEERLINK_DIRECT_KEEP_ALIVE": "1m"}, transport.ErrKeepAliveTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load("", env(tt.vars))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMalformedInput(t *testing.T) {
	if _, err := load("", env(map[string]string{"PEERLINK_CHUNK_SIZE": "big"})); err == nil {
		t.Error("Expected error for non-numeric chunk size")
	}
	if _, err := load("", env(map[string]string{"PEERLINK_DIRECT_IDLE_TIMEOUT": "soon"})); err == nil {
		t.Error("Expected error for malformed idle timeout")
	}
	if _, err := load("", env(map[string]string{"PEERLINK_LOG_LEVEL": "loud"})); err == nil {
		t.Error("Expected error for unknown log level")
	}
	if _, err := load(writeConfig(t, "[peer\n"), env(nil)); err == nil {
		t.Error("Expected error for malformed TOML")
	}
	if _, err := load(filepath.Join(t.TempDir(), "missing.toml"), env(nil)); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDirectSection(t *testing.T) {
	path := writeConfig(t, `
[direct]
idle_timeout = "1m"
keep_alive = "20s"
`)

	cfg, err := load(path, env(map[string]string{"PEERLINK_DIRECT_CERT_VALIDITY": "2h"}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	opts := cfg.Direct.Transport("alice", nil)
	if opts.IdleTimeout != time.Minute || opts.KeepAlive != 20*time.Second {
		t.Errorf("File values not applied: %+v", cfg.Direct)
	}
	if opts.CertValidity != 2*time.Hour {
		t.Errorf("Expected 2h cert validity from env, got %s", opts.CertValidity)
	}
	if opts.Name != "alice" {
		t.Errorf("Expected name alice, got %q", opts.Name)
	}
}

func TestDirectDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Direct.IdleTimeout != transport.DefaultIdleTimeout || cfg.Direct.KeepAlive != transport.DefaultKeepAlive {
		t.Errorf("Expected transport defaults, got %+v", cfg.Direct)
	}
}
