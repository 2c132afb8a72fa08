package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
listen: "127.0.0.1:9090"
telegram:
  token: "123:abc"
  channel_id: -100500
storage:
  path: "./data/aksiyon.db"
logging:
  console: true
operators:
  - name: ayse
    password: s3cret
  - name: mehmet
    password: hunter2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseValid(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Fatalf("listen = %q", cfg.ListenAddr())
	}
	if cfg.Telegram.ChannelID != -100500 {
		t.Fatalf("channel = %d", cfg.Telegram.ChannelID)
	}
	if len(cfg.Operators) != 2 || cfg.Operators[0].Name != "ayse" {
		t.Fatalf("operators = %+v", cfg.Operators)
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, `
telegram: {token: "t", channel_id: 1}
storage: {path: "x.db"}
operators: [{name: a, password: b}]
`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:8090" {
		t.Fatalf("default listen = %q", cfg.ListenAddr())
	}
	if d, _ := cfg.StorageBusyTimeout(); d != 5*time.Second {
		t.Fatalf("default busy timeout = %v", d)
	}
	if d, _ := cfg.FetchTimeout(); d != 10*time.Second {
		t.Fatalf("default fetch timeout = %v", d)
	}
	if cfg.SweepSpec() != "0 4 * * *" {
		t.Fatalf("default sweep spec = %q", cfg.SweepSpec())
	}
	if cfg.SweepRetention() != 30*24*time.Hour {
		t.Fatalf("default retention = %v", cfg.SweepRetention())
	}
	if cfg.PostRate() != 1 {
		t.Fatalf("default rate = %d", cfg.PostRate())
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML+"\nmystery_knob: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsBadConfigs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "no token", body: `
telegram: {channel_id: 1}
storage: {path: "x.db"}
operators: [{name: a, password: b}]
`},
		{name: "no operators", body: `
telegram: {token: "t", channel_id: 1}
storage: {path: "x.db"}
operators: []
`},
		{name: "three operators", body: `
telegram: {token: "t", channel_id: 1}
storage: {path: "x.db"}
operators: [{name: a, password: b}, {name: c, password: d}, {name: e, password: f}]
`},
		{name: "duplicate operator", body: `
telegram: {token: "t", channel_id: 1}
storage: {path: "x.db"}
operators: [{name: a, password: b}, {name: a, password: c}]
`},
		{name: "bad busy timeout", body: `
telegram: {token: "t", channel_id: 1}
storage: {path: "x.db", busy_timeout: "soon"}
operators: [{name: a, password: b}]
`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, tt.body))
			if _, err := m.Parse(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestLoadAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}
