package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strangercall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NegotiationTimeout != 30*time.Second {
		t.Errorf("expected 30s negotiation timeout, got %s", cfg.NegotiationTimeout)
	}
	if len(cfg.ICEServers) != 3 {
		t.Fatalf("expected 3 default ICE servers, got %d", len(cfg.ICEServers))
	}
	if cfg.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected first ICE server %v", cfg.ICEServers[0].URLs)
	}
	if !cfg.AllowLocalRooms || !cfg.PlaceholderMedia {
		t.Error("expected local rooms and placeholder media enabled by default")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level from file, got %q", cfg.LogLevel)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
signaling_url: wss://call.example.com/ws
negotiation_timeout: 12s
ice_servers:
  - urls: ["turn:turn.example.com:3478"]
    username: user
    credential: secret
`)
	t.Setenv("STRANGERCALL_NEGOTIATION_TIMEOUT", "5s")
	t.Setenv("STRANGERCALL_FORCE_RELAY", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NegotiationTimeout != 5*time.Second {
		t.Errorf("expected env to override file, got %s", cfg.NegotiationTimeout)
	}
	if !cfg.ForceRelay {
		t.Error("expected force relay from env")
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Credential != "secret" {
		t.Errorf("unexpected ICE servers %+v", cfg.ICEServers)
	}
	if !cfg.SecureSignaling() {
		t.Error("expected wss endpoint to be secure")
	}
}

func TestLoad_TURNAppended(t *testing.T) {
	path := writeFile(t, "turn_url: turn:relay.example.com:3478\nturn_username: u\nturn_credential: p\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ICEServers) != 4 {
		t.Fatalf("expected defaults plus TURN, got %d servers", len(cfg.ICEServers))
	}
	last := cfg.ICEServers[3]
	if last.URLs[0] != "turn:relay.example.com:3478" || last.Username != "u" {
		t.Errorf("unexpected TURN entry %+v", last)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"http signaling", "signaling_url: http://localhost/ws\n"},
		{"zero timeout", "negotiation_timeout: 0s\n"},
		{"relay without turn", "force_relay: true\n"},
		{"negative retries", "signaling_retries: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.body)); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestSecureSignaling(t *testing.T) {
	cases := map[string]bool{
		"ws://localhost:8089/ws":    true,
		"ws://127.0.0.1:8089/ws":    true,
		"ws://[::1]:8089/ws":        true,
		"wss://call.example.com/ws": true,
		"ws://call.example.com/ws":  false,
		"ws://192.168.1.20:8089/ws": false,
	}
	for raw, want := range cases {
		c := &Config{SignalingURL: raw}
		if got := c.SecureSignaling(); got != want {
			t.Errorf("%s: expected %v, got %v", raw, want, got)
		}
	}
}
