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

// Package pathmangle implements the bijection between user-visible
// paths and backing-store version-directory paths. These are pure
// functions: no I/O, no process-wide state beyond the backing root
// string passed in by the caller.
package pathmangle

import (
	"fmt"
	"strings"
	"syscall"
)

// nodeSuffix is appended to every path component when forming a
// version-directory path. Only the per-component scheme is
// implemented; an alternate single-suffix scheme was considered and
// rejected as unnecessary indirection.
const nodeSuffix = ".node"

const (
	// Sentinel names: fixed, reserved children of a version directory.
	DirMarker     = "dir"
	DeletedMarker = "deleted"
)

// maxPathLen mirrors PATH_MAX on Linux; mangling that would produce a
// longer path fails with ENAMETOOLONG.
const maxPathLen = 4096

// VersionDir returns the backing version-directory path D(P) for user
// path userPath under backing root root. userPath must be absolute
// (begin with "/"); repeated separators collapse, e.g.
// `/a/b/c` -> `<root>/a.node/b.node/c.node`.
func VersionDir(root, userPath string) (string, error) {
	if userPath == "/" {
		return root, nil
	}

	var b strings.Builder
	b.WriteString(root)
	for _, comp := range strings.Split(userPath, "/") {
		if comp == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(comp)
		b.WriteString(nodeSuffix)
	}

	out := b.String()
	if len(out) > maxPathLen {
		return "", fmt.Errorf("mangled path for %q exceeds PATH_MAX: %w", userPath, syscall.ENAMETOOLONG)
	}
	return out, nil
}

// RevisionPath returns the path of revision n inside version directory
// versionDir.
func RevisionPath(versionDir string, n int) string {
	return fmt.Sprintf("%s/%d", versionDir, n)
}

// MarkerPath returns the path of the named sentinel inside versionDir.
func MarkerPath(versionDir, marker string) string {
	return versionDir + "/" + marker
}

// Demangle strips exactly one trailing ".node" suffix from a raw
// backing directory entry name, yielding the user-visible name shown
// through readdir. ok is false if entry does not end in
// ".node" — such entries (sentinels, numeric revisions) are a filter
// signal to omit, not an error.
func Demangle(entry string) (name string, ok bool) {
	if !strings.HasSuffix(entry, nodeSuffix) || len(entry) <= len(nodeSuffix) {
		return "", false
	}
	return entry[:len(entry)-len(nodeSuffix)], true
}
