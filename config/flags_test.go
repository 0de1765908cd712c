package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestApplyFlags_OverridesOnlySetFields(t *testing.T) {
	cfg := Default()
	f := &Flags{
		DataDir:        "/custom/dir",
		P2PPort:        4242,
		Seeds:          "x:1,y:2",
		OutgoingTarget: 3,
		Pubkey:         "aabb",
		Threads:        4,
		LogLevel:       "debug",
		LogFile:        "/tmp/log",
	}
	ApplyFlags(cfg, f)

	if cfg.DataDir != "/custom/dir" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.P2P.ListenPort != 4242 {
		t.Errorf("ListenPort = %d", cfg.P2P.ListenPort)
	}
	if len(cfg.P2P.Seeds) != 2 {
		t.Errorf("Seeds = %v", cfg.P2P.Seeds)
	}
	if cfg.P2P.OutgoingTarget != 3 {
		t.Errorf("OutgoingTarget = %d", cfg.P2P.OutgoingTarget)
	}
	if cfg.Mining.Pubkey != "aabb" {
		t.Errorf("Pubkey = %q", cfg.Mining.Pubkey)
	}
	if cfg.Mining.Threads != 4 {
		t.Errorf("Threads = %d", cfg.Mining.Threads)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
	if cfg.Log.File != "/tmp/log" {
		t.Errorf("File = %q", cfg.Log.File)
	}
	// Mining.Enabled wasn't explicitly set (SetMine false), so it should
	// remain at its default.
	if cfg.Mining.Enabled {
		t.Error("Mining.Enabled should not change without SetMine")
	}
}

func TestApplyFlags_MineRequiresSetMine(t *testing.T) {
	cfg := Default()
	cfg.Mining.Enabled = true

	f := &Flags{Mine: false, SetMine: false}
	ApplyFlags(cfg, f)
	if !cfg.Mining.Enabled {
		t.Error("Mining.Enabled should be untouched when SetMine is false")
	}

	f = &Flags{Mine: false, SetMine: true}
	ApplyFlags(cfg, f)
	if cfg.Mining.Enabled {
		t.Error("Mining.Enabled should be set false when SetMine is true and Mine is false")
	}
}

func TestIsFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var v string
	fs.StringVar(&v, "foo", "", "")
	if err := fs.Parse([]string{"-foo=bar"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !isFlagSet(fs, "foo") {
		t.Error("expected foo to be reported as set")
	}
	if isFlagSet(fs, "bar") {
		t.Error("expected bar to be reported as not set")
	}
}

func TestEnsureDataDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "marabu")
	cfg := Default()
	cfg.DataDir = dir

	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs error: %v", err)
	}

	for _, sub := range []string{dir, cfg.ObjectsDir(), cfg.KeystoreDir()} {
		if info, err := os.Stat(sub); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", sub)
		}
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Errorf("expected default config file at %s", cfg.ConfigFile())
	}
}

func TestEnsureDataDirs_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "marabu")
	cfg := Default()
	cfg.DataDir = dir

	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("first EnsureDataDirs error: %v", err)
	}
	if err := os.WriteFile(cfg.ConfigFile(), []byte("p2p.port = 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("second EnsureDataDirs error: %v", err)
	}

	values, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if values["p2p.port"] != "1" {
		t.Error("EnsureDataDirs should not overwrite an existing config file")
	}
}
