package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewProgressBar(t *testing.T) {
	if bar := newProgressBar(false, 10); bar != nil {
		t.Errorf("expected no progress bar")
	}

	bar := newProgressBar(true, 3)
	if bar == nil {
		t.Fatal("expected progress bar")
	}
	for i := 0; i < 3; i++ {
		bar.Increment()
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsActor || *c.CommActionSpace != 2 || c.BatchSize != 32 {
		t.Errorf("unexpected default configuration %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default configuration invalid: %v", err)
	}

	filename := filepath.Join(t.TempDir(), "actor.json")
	data := []byte(`{"InputDim": 5, "OutDim": 3, "CommActionSpace": 1,
		"BatchSize": 4}`)
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err = loadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsActor || c.InputDim != 5 || *c.CommActionSpace != 1 {
		t.Errorf("configuration not loaded %+v", c)
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
