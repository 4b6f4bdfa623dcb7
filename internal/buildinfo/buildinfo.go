package buildinfo

import "time"

// Set via -ldflags at build time
var (
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC()

// Info is the build and uptime summary reported by /health
type Info struct {
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Started   string `json:"started"`
	Uptime    string `json:"uptime"`
}

// Current returns the build info as of now
func Current() Info {
	return Info{
		Commit:    CommitHash,
		BuildTime: BuildTime,
		Started:   StartTime.Format(time.RFC3339),
		Uptime:    time.Since(StartTime).Truncate(time.Second).String(),
	}
}
