package main

import (
	"fmt"
	"runtime"
)

const AppName = "memebank"

var (
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
	Version   = "unknown"
)

type Info struct {
	Name      string `json:"name"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildTime string `json:"build_time"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

func GetVersion() Info {
	return Info{
		Name:      AppName,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		Version:   Version,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf(
		"%s %s\nGit Branch: %s\nGit Commit: %s\nBuild Time: %s\nGo Version: %s",
		i.Name,
		i.Version,
		i.GitBranch,
		i.GitCommit,
		i.BuildTime,
		i.GoVersion,
	)
}
