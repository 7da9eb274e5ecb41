// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

// set with -ldflags by the magefile
var (
	commitHash string
	buildDate  string
)

// numericalModules change backtest results when their version changes, so
// their versions are recorded with every report
var numericalModules = []string{"gonum.org/v1/gonum"}

// Version is a SemVer 2.0.0 build version. Suffix marks a pre-release.
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Suffix == "" {
		return s
	}
	s += "-" + v.Suffix
	if commitHash != "" {
		s += "+" + strings.ToLower(commitHash)
	}
	return s
}

// Dependency is a module compiled into the binary
type Dependency struct {
	Path    string
	Version string
}

// Dependencies lists the modules compiled into the binary sorted by path.
// It is empty when build information is unavailable, e.g. in tests.
func Dependencies() []Dependency {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	deps := make([]Dependency, 0, len(bi.Deps))
	for _, dep := range bi.Deps {
		deps = append(deps, Dependency{Path: dep.Path, Version: dep.Version})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })
	return deps
}

// BuildInfo identifies the code that produced a backtest
type BuildInfo struct {
	Program   string            `json:"program"`
	Version   string            `json:"version"`
	Commit    string            `json:"commit,omitempty"`
	BuildDate string            `json:"build_date,omitempty"`
	GoVersion string            `json:"go_version"`
	Numerical map[string]string `json:"numerical,omitempty"`
}

// CurrentBuild describes the running binary
func CurrentBuild() BuildInfo {
	info := BuildInfo{
		Program:   ProgramName,
		Version:   "v" + CurrentVersion.String(),
		Commit:    commitHash,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}
	for _, dep := range Dependencies() {
		for _, mod := range numericalModules {
			if dep.Path == mod {
				if info.Numerical == nil {
					info.Numerical = make(map[string]string)
				}
				info.Numerical[dep.Path] = dep.Version
			}
		}
	}
	return info
}

// BuildVersionString is the output of "pvopt version"
func BuildVersionString(withDeps bool) string {
	info := CurrentBuild()
	date := info.BuildDate
	if date == "" {
		date = "unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s/%s\n\nBuild Date: %s\nCommit: %s\nBuilt with: %s",
		info.Program, info.Version, runtime.GOOS, runtime.GOARCH, date, info.Commit, info.GoVersion)

	if withDeps {
		sb.WriteString("\n\nDependencies:\n")
		for _, dep := range Dependencies() {
			fmt.Fprintf(&sb, "\n%s=%q", dep.Path, dep.Version)
		}
	} else if len(info.Numerical) > 0 {
		sb.WriteString("\n")
		for _, mod := range numericalModules {
			if v, ok := info.Numerical[mod]; ok {
				fmt.Fprintf(&sb, "\n%s %s", mod, v)
			}
		}
	}
	return sb.String()
}
