// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2026 The undofs Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package dirs holds the process-wide, read-only-after-init location of
// the undofs backing root. It is set exactly once, at mount time (or by
// a test fixture), and read everywhere else in the tree.
package dirs

import (
	"fmt"
	"path/filepath"
)

// RootDir is the absolute, canonicalized backing root configured at
// mount time. It is immutable after SetRootDir returns, by convention:
// nothing outside of main() and tests should call SetRootDir.
var RootDir string

// SetRootDir canonicalizes dir and installs it as the backing root.
// It fails if dir does not exist or cannot be resolved to an absolute
// path, since the mangler (see package pathmangle) assumes RootDir is
// already absolute and clean.
func SetRootDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("cannot resolve backing root %q: %w", dir, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("cannot resolve backing root %q: %w", dir, err)
	}
	RootDir = real
	return nil
}

// LogPath is the append-only log sink living at the top of the backing
// root.
func LogPath() string {
	return filepath.Join(RootDir, "log.txt")
}

// CachePath is the optional bbolt latest-revision cache file, kept
// alongside the log sink rather than inside the mangled tree so it can
// never collide with a mangled user path.
func CachePath() string {
	return filepath.Join(RootDir, ".undofs-cache.db")
}
