// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package config

import (
	"io/fs"
	"log/slog"
	"os"
	"runtime"
)

// groupOrOtherRead covers the mode bits that expose a file beyond its owner.
const groupOrOtherRead fs.FileMode = 0o044

// WarnInsecurePermissions logs a warning when the config file at path is
// readable by group or others. Provider API keys live in that file. Startup
// is never blocked. Windows uses ACLs, so the check is skipped there.
func WarnInsecurePermissions(path string) bool {
	if path == "" || runtime.GOOS == "windows" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return false
	}

	if info.Mode().Perm()&groupOrOtherRead == 0 {
		return false
	}

	slog.Warn("config file has insecure permissions; provider keys may be readable by other users",
		"path", path,
		"mode", info.Mode(),
		"recommended", "0600",
	)
	return true
}
