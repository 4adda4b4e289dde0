package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBaseDirXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")

	dir, err := BaseDir()
	if err != nil {
		t.Fatalf("BaseDir error: %v", err)
	}
	want := filepath.Join("/tmp/xdgtest", "voicewire")
	if dir != want {
		t.Errorf("BaseDir() = %q, want %q", dir, want)
	}
}

func TestBaseDirHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	dir, err := BaseDir()
	if err != nil {
		t.Fatalf("BaseDir error: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir error: %v", err)
	}
	want := filepath.Join(home, baseDirName)
	if dir != want {
		t.Errorf("BaseDir() = %q, want %q", dir, want)
	}
	if !strings.HasSuffix(dir, ".voicewire") {
		t.Errorf("BaseDir() = %q, want ~/.voicewire suffix", dir)
	}
}

func TestPathsLayout(t *testing.T) {
	p := PathsAt("/base")

	tests := []struct {
		got  string
		want string
	}{
		{p.DataDir(), filepath.Join("/base", "data")},
		{p.TurnsDir(), filepath.Join("/base", "data", "turns")},
		{p.TapesDir(), filepath.Join("/base", "data", "tapes")},
		{p.LogDir(), filepath.Join("/base", "logs")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPathsEnsure(t *testing.T) {
	p := PathsAt(t.TempDir())

	if err := p.EnsureTurnsDir(); err != nil {
		t.Fatalf("EnsureTurnsDir error: %v", err)
	}
	if err := p.EnsureTapesDir(); err != nil {
		t.Fatalf("EnsureTapesDir error: %v", err)
	}
	if err := p.EnsureLogDir(); err != nil {
		t.Fatalf("EnsureLogDir error: %v", err)
	}

	for _, dir := range []string{p.TurnsDir(), p.TapesDir(), p.LogDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s) error: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestNewPathsUsesBaseDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	p, err := NewPaths()
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	want := filepath.Join(tmp, "voicewire")
	if p.Base != want {
		t.Errorf("Base = %q, want %q", p.Base, want)
	}
}
