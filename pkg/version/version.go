// Package version carries build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	gitVersion = "dev"
	gitCommit  = "unknown"
	buildDate  = "unknown"
)

// Info is the resolved build metadata.
type Info struct {
	GitVersion string `json:"gitVersion"`
	GitCommit  string `json:"gitCommit"`
	BuildDate  string `json:"buildDate"`
}

// Get returns the build metadata of this binary.
func Get() Info {
	return Info{
		GitVersion: gitVersion,
		GitCommit:  gitCommit,
		BuildDate:  buildDate,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.GitVersion, i.GitCommit, i.BuildDate)
}
