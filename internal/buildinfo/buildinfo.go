// Package buildinfo reports which grotto build is running.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

const defaultVersion = "0.1.0"

// Set with -ldflags "-X github.com/agusx1211/grotto/internal/buildinfo.Version=...".
var (
	Version    = defaultVersion
	CommitHash = ""
	BuildDate  = ""
)

// Info is normalized build metadata for display.
type Info struct {
	Version    string
	CommitHash string
	BuildDate  string
}

type vcsInfo struct {
	revision string
	time     string
	dirty    bool
}

// Current merges the linker overrides with the module's build settings.
// Fields that stay unknown read "unknown".
func Current() Info {
	info := Info{
		Version:    strings.TrimSpace(Version),
		CommitHash: strings.TrimSpace(CommitHash),
		BuildDate:  strings.TrimSpace(BuildDate),
	}

	var vcs vcsInfo
	if bi, ok := debug.ReadBuildInfo(); ok {
		if (info.Version == "" || info.Version == defaultVersion) && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		vcs = readVCS(bi.Settings)
	}

	if info.CommitHash == "" && vcs.revision != "" {
		info.CommitHash = vcs.revision
		if vcs.dirty {
			info.CommitHash += "-dirty"
		}
	}
	if info.BuildDate == "" {
		info.BuildDate = vcs.time
	}
	if parsed, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = parsed.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	info.Version = orUnknown(info.Version)
	info.CommitHash = orUnknown(info.CommitHash)
	info.BuildDate = orUnknown(info.BuildDate)
	return info
}

func readVCS(settings []debug.BuildSetting) vcsInfo {
	var v vcsInfo
	for _, s := range settings {
		val := strings.TrimSpace(s.Value)
		switch s.Key {
		case "vcs.revision":
			v.revision = val
		case "vcs.time":
			v.time = val
		case "vcs.modified":
			v.dirty = strings.EqualFold(val, "true")
		}
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// ShortCommit is the first 12 characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.CommitHash) > 12 && i.CommitHash != "unknown" {
		dirty := strings.HasSuffix(i.CommitHash, "-dirty")
		short := i.CommitHash[:12]
		if dirty {
			short += "-dirty"
		}
		return short
	}
	return i.CommitHash
}

// String is the one-line form printed by grotto version.
func (i Info) String() string {
	return fmt.Sprintf("grotto %s (commit %s, built %s)", i.Version, i.ShortCommit(), i.BuildDate)
}

// UserAgent identifies the CLI to the daemon.
func (i Info) UserAgent() string {
	return "grotto/" + i.Version
}
