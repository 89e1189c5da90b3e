package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X proxyfinder/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
	BuiltAt   string `json:"built_at"`
}

var readBuildInfo = debug.ReadBuildInfo

// Get combines the linker-provided version with what the Go toolchain
// embedded in the binary.
func Get() Info {
	info := Info{Version: buildVersion, BuiltAt: builtAt}

	build, ok := readBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = build.GoVersion
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			info.Commit = setting.Value[:7]
		}
	}
	return info
}

func (i Info) String() string {
	s := i.Version
	if i.Commit != "" {
		s += "-" + i.Commit
	}
	if i.GoVersion != "" {
		s = fmt.Sprintf("%s %s", s, i.GoVersion)
	}
	return s + " (built " + i.BuiltAt + ")"
}
