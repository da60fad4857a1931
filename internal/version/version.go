// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of debug-bridge
const Version = "0.1.0"

// Info describes the running binary
type Info struct {
	Version   string `json:"version" yaml:"version"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the version info of the running binary
func Get() Info {
	return Info{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("debug-bridge %s (%s, %s)", i.Version, i.GoVersion, i.Platform)
}
