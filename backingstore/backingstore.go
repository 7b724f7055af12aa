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

// Package backingstore is a thin, typed wrapper over POSIX directory
// and file operations on the backing root. It never knows
// about user-visible paths, revisions or tombstones - that's
// package revision's job - it only forwards to the host filesystem and
// translates host errors into the errno-flavored errors the rest of
// undofs expects.
package backingstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Store is the backing-store adapter. It is safe for concurrent use:
// it holds no mutable state beyond the clone rate limiter, which is
// itself concurrency-safe.
type Store struct {
	cloneLimiter *rate.Limiter
}

// New returns a Store whose Clone primitive is throttled to at most
// cloneBurst forks in quick succession, refilling at cloneRate per
// second. A write storm against many distinct paths would otherwise
// fork a "cp -a" child per write; the limiter bounds that
// to a sane rate without ever rejecting a caller outright (Clone
// blocks on the limiter, honoring ctx cancellation).
func New(cloneRate float64, cloneBurst int) *Store {
	return &Store{
		cloneLimiter: rate.NewLimiter(rate.Limit(cloneRate), cloneBurst),
	}
}

// Stat is a thin alias kept for readability at call sites.
func (s *Store) Stat(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

// Exists reports whether path exists, collapsing any other stat error
// to false (as is-directory/is-tombstoned predicates do:
// "true iff D/marker exists").
func (s *Store) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// MkdirAll creates path and any missing parents with mode.
func (s *Store) MkdirAll(path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Mkdir creates exactly path (parent must already exist) with mode.
func (s *Store) Mkdir(path string, mode os.FileMode) error {
	if err := os.Mkdir(path, mode); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Touch creates an empty regular file at path, failing if it already
// exists. This is the exclusive-create primitive used for sentinel
// files and for claiming a revision slot.
func (s *Store) Touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("touch %s: %w", path, err)
	}
	return f.Close()
}

// CreateFile creates a regular file at path with mode, failing if it
// already exists, and returns an open write handle.
func (s *Store) CreateFile(path string, mode os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// Open opens path with the given flags (as passed through from the
// FUSE open() callback).
func (s *Store) Open(path string, flags int, mode os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Remove unlinks path.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Rename renames oldpath to newpath, both on the backing store.
func (s *Store) Rename(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldpath, newpath, err)
	}
	return nil
}

// Symlink creates a symlink at linkpath pointing to target.
func (s *Store) Symlink(target, linkpath string) error {
	if err := os.Symlink(target, linkpath); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", linkpath, target, err)
	}
	return nil
}

// Readlink reads the target of the symlink at path.
func (s *Store) Readlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", path, err)
	}
	return target, nil
}

// Link creates a hard link at newpath pointing to oldpath.
func (s *Store) Link(oldpath, newpath string) error {
	if err := os.Link(oldpath, newpath); err != nil {
		return fmt.Errorf("link %s -> %s: %w", newpath, oldpath, err)
	}
	return nil
}

// Chmod changes the mode of path.
func (s *Store) Chmod(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// Chown changes the owner/group of path.
func (s *Store) Chown(path string, uid, gid int) error {
	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

// Truncate changes the size of path.
func (s *Store) Truncate(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}

// Utimes sets the access and modification times of path.
func (s *Store) Utimes(path string, atime, mtime time.Time) error {
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return fmt.Errorf("utimes %s: %w", path, err)
	}
	return nil
}

// Access checks path against mode (F_OK/R_OK/W_OK/X_OK) as the calling
// process's real uid/gid would see it.
func (s *Store) Access(path string, mode uint32) error {
	if err := unix.Access(path, mode); err != nil {
		return fmt.Errorf("access %s: %w", path, err)
	}
	return nil
}

// Mknod creates a non-regular, non-directory filesystem node.
func (s *Store) Mknod(path string, mode uint32, dev int) error {
	if err := unix.Mknod(path, mode, dev); err != nil {
		return fmt.Errorf("mknod %s: %w", path, err)
	}
	return nil
}

// Statfs reports filesystem-level statistics for path, used for the
// FUSE statfs()/statvfs() callback.
func (s *Store) Statfs(path string) (*unix.Statfs_t, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}
	return &st, nil
}

// ReadDir lists the raw entries of a backing directory, unfiltered;
// telling ".node"-suffixed names apart from sentinels/revisions is left
// to the callers (package fsops via pathmangle.Demangle, package
// revision's revision scan), not this adapter.
func (s *Store) ReadDir(path string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	return entries, nil
}

// Clone duplicates src to dst, preserving mode, ownership, timestamps
// and xattrs, by shelling out to the external "cp -a" utility rather
// than reimplementing attribute-preserving copy. Abnormal child
// termination (signal, stop) is reported as an EIO-class error.
func (s *Store) Clone(ctx context.Context, src, dst string) error {
	if err := s.cloneLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("clone %s -> %s: %w", src, dst, err)
	}

	cmd := exec.CommandContext(ctx, "cp", "-a", src, dst)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			return fmt.Errorf("clone %s -> %s: cp terminated abnormally: %w", src, dst, syscall.EIO)
		}
		return fmt.Errorf("clone %s -> %s: %w", src, dst, syscall.EIO)
	}
	return nil
}
