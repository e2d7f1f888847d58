// Package version reports build metadata injected with -ldflags or read
// from the module build info.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/conneroisu/docrelay/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// BuildInfo is what `docrelay version --format json` prints and /healthz
// summarises.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	Modified  bool      `json:"modified,omitempty"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

// resolve merges ldflags values with VCS stamping. Values set with ldflags
// win; the module build info fills the gaps.
func resolve() *BuildInfo {
	bi := &BuildInfo{
		Version:   "dev",
		GitCommit: "unknown",
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	var vcs map[string]string
	mainVersion := ""
	if info, ok := readBuildInfo(); ok && info != nil {
		vcs = make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			vcs[s.Key] = s.Value
		}
		if v := info.Main.Version; v != "" && v != "(devel)" {
			mainVersion = v
		}
	}
	rev := vcs["vcs.revision"]
	bi.Modified = vcs["vcs.modified"] == "true"

	switch {
	case Version != "" && Version != "dev":
		bi.Version = Version
	case mainVersion != "":
		bi.Version = mainVersion
	case len(rev) >= 7:
		bi.Version = "dev-" + rev[:7]
	}

	switch {
	case GitCommit != "" && GitCommit != "unknown":
		bi.GitCommit = GitCommit
	case rev != "":
		bi.GitCommit = rev
	}

	if bi.BuildTime.IsZero() {
		bi.BuildTime = parseBuildTime(vcs["vcs.time"])
	}

	return bi
}

func GetBuildInfo() *BuildInfo { return resolve() }

func GetVersion() string { return resolve().Version }

func GetGitCommit() string { return resolve().GitCommit }

// GetDetailedVersion returns the multi-line text for `docrelay version`.
func GetDetailedVersion() string {
	info := resolve()

	lines := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		commit := "Commit: " + info.GitCommit
		if info.Modified {
			commit += " (dirty)"
		}
		lines = append(lines, commit)
	}
	if !info.BuildTime.IsZero() {
		lines = append(lines, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+info.GoVersion, "Platform: "+info.Platform)

	return strings.Join(lines, "\n")
}

// IsRelease reports whether the binary carries a real version rather than
// a dev placeholder.
func IsRelease() bool {
	v := GetVersion()
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

var buildTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseBuildTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range buildTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
