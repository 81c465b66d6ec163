// Package version 构建版本信息
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Version 版本号，构建时通过 -ldflags "-X kq-tunnel/internal/version.Version=1.2.3" 注入
	Version = "dev"

	// BuildTime 构建时间，通过 -ldflags 注入
	BuildTime = ""

	// GitCommit Git 提交哈希，通过 -ldflags 注入；为空时取 go 工具链记录的 vcs.revision
	GitCommit = ""
)

func init() {
	Version = strings.TrimPrefix(Version, "v")
	if GitCommit == "" {
		GitCommit = vcsRevision()
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// GetVersion 获取完整版本信息
func GetVersion() string {
	version := "v" + Version
	if BuildTime != "" {
		version += " (built " + BuildTime + ")"
	}
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		version += " commit " + commit
	}
	return version
}

// GetShortVersion 获取简短版本号
func GetShortVersion() string {
	return "v" + Version
}

// Platform 运行平台，如 linux/amd64 go1.24.4
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH + " " + runtime.Version()
}
