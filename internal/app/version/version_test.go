package version

import (
	"runtime/debug"
	"testing"
)

func TestGetReadsBuildInfo(t *testing.T) {
	previous := readBuildInfo
	t.Cleanup(func() { readBuildInfo = previous })

	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			GoVersion: "go1.24.1",
			Settings:  []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
		}, true
	}

	info := Get()
	if info.Commit != "0123456" || info.GoVersion != "go1.24.1" {
		t.Fatalf("Get returned %+v, want commit 0123456 and go1.24.1", info)
	}
	if got, want := info.String(), "dev-0123456 go1.24.1 (built unknown)"; got != want {
		t.Fatalf("String returned %q, want %q", got, want)
	}
}

func TestGetWithoutBuildInfo(t *testing.T) {
	previous := readBuildInfo
	t.Cleanup(func() { readBuildInfo = previous })
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }

	if got := Get().String(); got != "dev (built unknown)" {
		t.Fatalf("String returned %q, want dev (built unknown)", got)
	}
}
