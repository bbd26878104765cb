package version

import (
	"runtime"
	"time"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// Info is the build information reported by the version command.
type Info struct {
	Version   string
	Commit    string
	BuildTime string
	GoVersion string
	OS        string
	Arch      string
}

// Get returns the build info, with BuildTime reformatted when it parses as
// RFC 3339.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    CommitID,
		BuildTime: formatBuildTime(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func formatBuildTime() string {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}
