// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version holds build metadata injected with -ldflags, e.g.
//
//	-X github.com/united-manufacturing-hub/screenswitch/pkg/version.AppVersion=1.2.0
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

var (
	AppVersion = "0.0.0-dev"
	GitCommit  = "unknown"
	BuildDate  = "unknown"
)

// GetAppVersion returns the version the binary was built with.
func GetAppVersion() string {
	return AppVersion
}

// IsRelease reports whether AppVersion is a valid semantic version without a prerelease tag.
func IsRelease() bool {
	v, err := semver.NewVersion(AppVersion)
	if err != nil {
		return false
	}
	return v.Prerelease() == ""
}

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("screenswitch %s (commit %s, built %s, %s %s/%s)",
		AppVersion, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
