package internal

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the release version, overridden at build time with
// -ldflags "-X relaychat/internal.Version=...".
var Version = "0.4.0"

// BuildInfo describes the running binary for --version output.
func BuildInfo() string {
	revision := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				revision = " (" + setting.Value[:7] + ")"
			}
		}
	}
	return fmt.Sprintf("relaychat %s%s %s/%s %s", Version, revision, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
