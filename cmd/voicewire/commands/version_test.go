package commands

import (
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "voicewire") {
		t.Fatalf("expected 'voicewire', got: %s", stdout)
	}
	if strings.Contains(stdout, "go:") {
		t.Fatalf("runtime details should need --verbose, got: %s", stdout)
	}
}

func TestVersionVerbose(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version", "--verbose")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "go:") {
		t.Fatalf("expected runtime details, got: %s", stdout)
	}
}
