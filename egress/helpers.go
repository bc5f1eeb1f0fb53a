package egress

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/99souls/watchgraph/backtrace"
)

func sourceOf(v uint64) backtrace.Source { return backtrace.Source(v) }

func timeFromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// LocalModuleManifest builds the capability handshake's module manifest
// for this process. Go binaries are statically linked, so the manifest
// is a single entry for the executable, carrying the main module's
// build metadata; RuntimeBase stays zero because symbolization goes
// through runtime.CallersFrames rather than load-address arithmetic.
func LocalModuleManifest() []ModuleManifestEntry {
	entry := ModuleManifestEntry{Arch: runtime.GOARCH}
	if exe, err := os.Executable(); err == nil {
		entry.ModulePath = exe
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if entry.ModulePath == "" {
			entry.ModulePath = bi.Main.Path
		}
		entry.DebugID = bi.Main.Version
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				entry.BuildID = s.Value
			}
		}
	}
	return []ModuleManifestEntry{entry}
}
