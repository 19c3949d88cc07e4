package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	if info.Version == "" {
		t.Error("expected non-empty version")
	}
	if !strings.Contains(info.Platform, runtime.GOOS) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOOS, info.Platform)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.Contains(s, ApplicationName) {
		t.Errorf("expected string to contain %s, got %s", ApplicationName, s)
	}
}

func TestShort(t *testing.T) {
	originalVersion := Version
	originalCommit := Commit
	defer func() { Version = originalVersion; Commit = originalCommit }()

	Version = "1.0.0"
	Commit = "abc123def456789"
	s := Short()
	if !strings.Contains(s, "1.0.0") || !strings.Contains(s, "abc123de") {
		t.Errorf("expected short string to contain version and truncated commit, got %s", s)
	}
}

func TestJSON(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()
	Version = "1.2.3"

	var info Info
	if err := json.Unmarshal([]byte(JSON()), &info); err != nil {
		t.Fatalf("JSON() did not produce valid JSON: %v", err)
	}
	if info.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %s", info.Version)
	}
}
