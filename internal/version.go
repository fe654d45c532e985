package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of boardlive
// This should be updated with each release
const Version = "0.4.0"

// UserAgent identifies the terminal client to the server, e.g.
// "boardlive/0.4.0 (linux/arm64)".
func UserAgent() string {
	return fmt.Sprintf("boardlive/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
