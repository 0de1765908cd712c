package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile(missing) error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty map for missing file, got %v", values)
	}
}

func TestLoadFile_ParsesKeyValuePairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marabu.conf")
	content := `# comment line
datadir = /tmp/marabu

p2p.port = 12345
p2p.seeds = a:1,b:2
mining.enabled = true
log.level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	want := map[string]string{
		"datadir":        "/tmp/marabu",
		"p2p.port":       "12345",
		"p2p.seeds":      "a:1,b:2",
		"mining.enabled": "true",
		"log.level":      "debug",
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("values[%q] = %q, want %q", k, values[k], v)
		}
	}
}

func TestLoadFile_RejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	if err := os.WriteFile(path, []byte("this is not key=value\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestApplyFileConfig(t *testing.T) {
	cfg := Default()
	values := map[string]string{
		"p2p.port":       "9999",
		"p2p.outgoing":   "16",
		"mining.enabled": "yes",
		"mining.pubkey":  "aabb",
		"log.json":       "on",
		"unknown.key":    "ignored",
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig error: %v", err)
	}
	if cfg.P2P.ListenPort != 9999 {
		t.Errorf("p2p.port not applied: got %d", cfg.P2P.ListenPort)
	}
	if cfg.P2P.OutgoingTarget != 16 {
		t.Errorf("p2p.outgoing not applied: got %d", cfg.P2P.OutgoingTarget)
	}
	if !cfg.Mining.Enabled {
		t.Error("mining.enabled not applied")
	}
	if cfg.Mining.Pubkey != "aabb" {
		t.Errorf("mining.pubkey not applied: got %q", cfg.Mining.Pubkey)
	}
	if !cfg.Log.JSON {
		t.Error("log.json not applied")
	}
}

func TestApplyFileConfig_InvalidInt(t *testing.T) {
	cfg := Default()
	err := ApplyFileConfig(cfg, map[string]string{"p2p.port": "not-a-number"})
	if err == nil {
		t.Fatal("expected error for non-numeric p2p.port")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marabu.conf")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig error: %v", err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(written default) error: %v", err)
	}
	if values["p2p.port"] != "18018" {
		t.Errorf("default p2p.port = %q, want 18018", values["p2p.port"])
	}
}

func TestParseStringList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b,c", 3},
		{"a, b ,, c", 3},
	}
	for _, tt := range tests {
		got := parseStringList(tt.in)
		if len(got) != tt.want {
			t.Errorf("parseStringList(%q) = %v, want %d entries", tt.in, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	truthy := []string{"true", "1", "yes", "on", "TRUE", "On"}
	for _, s := range truthy {
		if !parseBool(s) {
			t.Errorf("parseBool(%q) = false, want true", s)
		}
	}
	falsy := []string{"false", "0", "no", "off", ""}
	for _, s := range falsy {
		if parseBool(s) {
			t.Errorf("parseBool(%q) = true, want false", s)
		}
	}
}
