package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Fatalf("port=%d mode=%s", cfg.Port, cfg.Mode)
	}
	if cfg.PingPeriod != 54*time.Second || cfg.PongWait() != 60*time.Second {
		t.Fatalf("ping=%s pong=%s", cfg.PingPeriod, cfg.PongWait())
	}
	if cfg.MaxReoffers != 1 || !cfg.Audio || cfg.Video {
		t.Fatalf("max_reoffers=%d audio=%v video=%v", cfg.MaxReoffers, cfg.Audio, cfg.Video)
	}
	if !slices.Equal(cfg.ICEServers, []string{"stun:stun.l.google.com:19302"}) {
		t.Fatalf("ice_servers = %v", cfg.ICEServers)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("level = %s", cfg.Level())
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"mode: debug",
		"port: 9090",
		"log_level: debug",
		"rate_limit: 5",
		"rate_interval: 2s",
		"ice_servers: []",
		"video: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Mode != "debug" || cfg.Port != 9090 || cfg.RateLimit != 5 || cfg.RateInterval != 2*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.ICEServers) != 0 || !cfg.Video {
		t.Fatalf("ice_servers=%v video=%v", cfg.ICEServers, cfg.Video)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("level = %s", cfg.Level())
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFile on a missing file succeeded")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VOICE_PORT", "7000")
	t.Setenv("VOICE_RELAY_URL", "ws://relay:7000/api/ws/signal")
	t.Setenv("VOICE_JOIN_TIMEOUT", "3s")

	cfg, err := FromViper(New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.Port != 7000 || cfg.RelayURL != "ws://relay:7000/api/ws/signal" || cfg.JoinTimeout != 3*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"bad mode", "mode", "prod"},
		{"bad level", "log_level", "loud"},
		{"port zero", "port", 0},
		{"no rate", "rate_limit", 0},
		{"no buffer", "send_buffer", 0},
		{"negative reoffers", "max_reoffers", -1},
		{"bad backpressure", "backpressure", "block"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.val)
			if _, err := FromViper(v); err == nil {
				t.Fatalf("%s=%v accepted", tt.key, tt.val)
			}
		})
	}
}
