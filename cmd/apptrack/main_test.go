package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/szibis/apptrack/internal/config"
	"github.com/szibis/apptrack/internal/prefs"
)

func TestRunMissingEventScriptStopsBeforeInit(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "apptrack.yaml")
	doc := "version: 1\ntrack_id: \"123451234512345\"\ntrack_domain: \"https://collector.example.com\"\nsend_delay: 3600\n"
	if err := os.WriteFile(cfgFile, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultAppConfig()
	cfg.ConfigFile = cfgFile
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.EventsFile = filepath.Join(dir, "missing.jsonl")
	cfg.StatsAddr = ""

	if code := run(cfg); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}

	store, err := prefs.Open("file", prefsPath(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok, _ := store.Get(prefs.KeyEverID); ok {
		t.Error("tracker was initialized although the event script could not be opened")
	}
}
