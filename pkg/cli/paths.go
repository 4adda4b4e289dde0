package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

// baseDirName is the hidden directory used when XDG_CONFIG_HOME is not
// set.
const baseDirName = ".voicewire"

// BaseDir returns the voicewire base directory. When XDG_CONFIG_HOME is
// set the directory is $XDG_CONFIG_HOME/voicewire, otherwise
// ~/.voicewire.
func BaseDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "voicewire"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, baseDirName), nil
}

// Paths resolves the on-disk layout under a voicewire base directory.
type Paths struct {
	// Base is the root directory everything lives under.
	Base string
}

// NewPaths creates a Paths rooted at the default base directory.
func NewPaths() (*Paths, error) {
	base, err := BaseDir()
	if err != nil {
		return nil, err
	}
	return &Paths{Base: base}, nil
}

// PathsAt creates a Paths rooted at an explicit directory. Used when a
// config overrides the data location, and by tests.
func PathsAt(base string) *Paths {
	return &Paths{Base: base}
}

// DataDir returns the data directory (<base>/data).
func (p *Paths) DataDir() string {
	return filepath.Join(p.Base, "data")
}

// TurnsDir returns the turn log database directory (<base>/data/turns).
func (p *Paths) TurnsDir() string {
	return filepath.Join(p.DataDir(), "turns")
}

// TapesDir returns the session tape directory (<base>/data/tapes).
func (p *Paths) TapesDir() string {
	return filepath.Join(p.DataDir(), "tapes")
}

// LogDir returns the log directory (<base>/logs).
func (p *Paths) LogDir() string {
	return filepath.Join(p.Base, "logs")
}

// EnsureTurnsDir creates the turn log directory if it doesn't exist.
func (p *Paths) EnsureTurnsDir() error {
	return os.MkdirAll(p.TurnsDir(), 0755)
}

// EnsureTapesDir creates the tape directory if it doesn't exist.
func (p *Paths) EnsureTapesDir() error {
	return os.MkdirAll(p.TapesDir(), 0755)
}

// EnsureLogDir creates the log directory if it doesn't exist.
func (p *Paths) EnsureLogDir() error {
	return os.MkdirAll(p.LogDir(), 0755)
}
