// Package build carries the version stamp for the voicewire binary.
// Release builds overwrite the defaults with -X, for example:
//
//	go build -ldflags "\
//	  -X github.com/voicewire/voicewire/cmd/voicewire/internal/build.Version=v0.3.0 \
//	  -X github.com/voicewire/voicewire/cmd/voicewire/internal/build.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/voicewire/voicewire/cmd/voicewire/internal/build.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package build

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the one-line version banner.
func String() string {
	return fmt.Sprintf("voicewire %s (%s) built %s %s/%s",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}
