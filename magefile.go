//go:build mage

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

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "pvopt"
	modulePath = "github.com/penny-vault/pv-optimal"
	sampleDir  = "testdata/sample"
	coverFile  = "coverage.out"
)

var ldflags = "-X " + modulePath + "/common.commitHash=$COMMIT_HASH -X " + modulePath + "/common.buildDate=$BUILD_DATE"

// allow user to override go executable by running as GOEXE=xxx mage ...
var goexe = "go"

func init() {
	if exe := os.Getenv("GOEXE"); exe != "" {
		goexe = exe
	}
}

var Default = Build

// Build the pvopt binary with the commit hash and build date stamped in
func Build() error {
	fmt.Println("Building...")
	return sh.RunWith(versionEnv(), goexe, "build", "-o", binaryName, "-ldflags", ldflags, ".")
}

// Remove build and coverage outputs
func Clean() error {
	fmt.Println("Cleaning...")
	for _, fn := range []string{binaryName, coverFile, filepath.Join(sampleDir, "report.json")} {
		if err := sh.Rm(fn); err != nil {
			return err
		}
	}
	return nil
}

// Run formatting checks, vet and the race-enabled test suites
func Check() {
	mg.SerialDeps(Fmt, Vet, TestRace)
}

// Run every ginkgo suite
func Test() error {
	return runVerbose(goexe, "test", "./...")
}

// Run every ginkgo suite with the race detector; the scheduler runs dates
// concurrently
func TestRace() error {
	return runVerbose(goexe, "test", "-race", "./...")
}

// Fail if any file is not gofmt'ed
func Fmt() error {
	out, err := sh.Output("gofmt", "-l", ".")
	if err != nil {
		return err
	}
	var unformatted []string
	for _, fn := range strings.Fields(out) {
		if !strings.HasPrefix(fn, "_") {
			unformatted = append(unformatted, fn)
		}
	}
	if len(unformatted) > 0 {
		return fmt.Errorf("files are not gofmt'ed: %s", strings.Join(unformatted, ", "))
	}
	return nil
}

// Run go vet
func Vet() error {
	if err := sh.Run(goexe, "vet", "./..."); err != nil {
		return fmt.Errorf("error running go vet: %w", err)
	}
	return nil
}

// Write a coverage profile for all packages and open it in the browser
func Cover() error {
	if err := runVerbose(goexe, "test", "-coverprofile="+coverFile, "-covermode=count", "./..."); err != nil {
		return err
	}
	return sh.Run(goexe, "tool", "cover", "-html="+coverFile)
}

// Backtest the sample portfolio in testdata/sample and print the report
func Backtest() error {
	mg.Deps(Build)
	return sh.RunV("./"+binaryName, "backtest",
		"--config", filepath.Join(sampleDir, "pvopt.toml"),
		"--prices", filepath.Join(sampleDir, "prices.csv"),
		"--groups", filepath.Join(sampleDir, "groups.csv"),
		"--benchmark", filepath.Join(sampleDir, "benchmark.csv"),
	)
}

// BacktestJSON writes the sample backtest report to testdata/sample/report.json
func BacktestJSON() error {
	mg.Deps(Build)
	return sh.RunV("./"+binaryName, "backtest",
		"--config", filepath.Join(sampleDir, "pvopt.toml"),
		"--prices", filepath.Join(sampleDir, "prices.csv"),
		"--groups", filepath.Join(sampleDir, "groups.csv"),
		"--format", "json",
		"--output", filepath.Join(sampleDir, "report.json"),
	)
}

func versionEnv() map[string]string {
	hash, _ := sh.Output("git", "rev-parse", "--short", "HEAD")
	return map[string]string{
		"COMMIT_HASH": hash,
		"BUILD_DATE":  time.Now().Format("2006-01-02T15:04:05Z0700"),
	}
}

func runVerbose(cmd string, args ...string) error {
	if mg.Verbose() {
		return sh.RunV(cmd, args...)
	}
	out, err := sh.Output(cmd, args...)
	if err != nil {
		fmt.Fprintln(os.Stderr, out)
	}
	return err
}
