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

// Package revision is the versioning state-machine layer: it owns the
// on-disk representation of a user-visible node and implements
// resolve-for-read, resolve-for-write, tombstone, untombstone and the
// directory-creation primitive, all in terms of package pathmangle
// (naming) and package backingstore (I/O).
package revision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/retry.v1"

	"github.com/wvdschel/undofs/backingstore"
	"github.com/wvdschel/undofs/logger"
	"github.com/wvdschel/undofs/pathmangle"
)

// Engine implements the versioning state machine over a single backing
// root. It holds no mutable state of its own beyond an optional cache;
// all durable state lives on disk.
type Engine struct {
	root  string
	store *backingstore.Store
	cache *Cache
}

// collisionRetry bounds how many times ResolveForWrite retries after
// losing a race to claim the next revision number. Five attempts with
// a short exponential backoff is enough to ride out a burst of racing
// writers without turning a single collision into a user-visible
// stall.
var collisionRetry retry.Strategy = retry.LimitCount(5, retry.Exponential{
	Initial: 2 * time.Millisecond,
	Factor:  2,
})

// New returns an Engine rooted at root. cache may be nil to disable
// the latest-revision cache entirely.
func New(root string, store *backingstore.Store, cache *Cache) *Engine {
	return &Engine{root: root, store: store, cache: cache}
}

// VersionDir computes D(P) for userPath.
func (e *Engine) VersionDir(userPath string) (string, error) {
	return pathmangle.VersionDir(e.root, userPath)
}

// IsDirectory reports whether versionDir represents a directory node.
// The backing root itself is always a live directory: it predates any
// "dir" marker and is never mangled into one, since it has no parent
// path component to carry the marker under.
func (e *Engine) IsDirectory(versionDir string) bool {
	if versionDir == e.root {
		return true
	}
	return e.store.Exists(pathmangle.MarkerPath(versionDir, pathmangle.DirMarker))
}

// IsTombstoned reports whether versionDir is currently marked deleted.
// The backing root can never be tombstoned.
func (e *Engine) IsTombstoned(versionDir string) bool {
	if versionDir == e.root {
		return false
	}
	return e.store.Exists(pathmangle.MarkerPath(versionDir, pathmangle.DeletedMarker))
}

// LatestRevision returns the latest revision number for userPath, or
// -1 if it has none.
func (e *Engine) LatestRevision(userPath string) (int, error) {
	versionDir, err := pathmangle.VersionDir(e.root, userPath)
	if err != nil {
		return 0, err
	}
	return e.latestRevision(versionDir), nil
}

// latestRevision is the cache-assisted version of the scan: a cache
// hit is only trusted after confirming with two cheap stat calls that
// it still looks current (the cached revision file exists and the
// next one doesn't); any disagreement falls back to a full scan.
func (e *Engine) latestRevision(versionDir string) int {
	if e.cache != nil {
		if n, ok := e.cache.Get(versionDir); ok && n >= 0 {
			cur := pathmangle.RevisionPath(versionDir, n)
			next := pathmangle.RevisionPath(versionDir, n+1)
			if e.store.Exists(cur) && !e.store.Exists(next) {
				return n
			}
		}
	}

	n := e.scanLatestRevision(versionDir)
	if e.cache != nil {
		e.cache.Set(versionDir, n)
	}
	return n
}

// scanLatestRevision implements the latest-revision primitive
// literally: the largest integer parsed from a numeric child of
// versionDir, or -1 if versionDir doesn't exist or has no numeric
// children. Non-numeric names are ignored (failure-tolerant read).
func (e *Engine) scanLatestRevision(versionDir string) int {
	entries, err := e.store.ReadDir(versionDir)
	if err != nil {
		return -1
	}

	max := -1
	for _, ent := range entries {
		name := ent.Name()
		if name == pathmangle.DirMarker || name == pathmangle.DeletedMarker {
			continue
		}
		v, err := strconv.Atoi(name)
		if err != nil || v < 0 {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

// Resolution is what ResolveForRead hands back to the dispatcher.
type Resolution struct {
	// Path is the backing-store path the caller should operate on:
	// versionDir itself for a directory node, or the latest revision
	// file for a regular-file node.
	Path string
	// IsDirectory mirrors Engine.IsDirectory(versionDir).
	IsDirectory bool
	// Tombstoned mirrors Engine.IsTombstoned(versionDir). Whether a
	// tombstoned regular file surfaces as ENOENT is the caller's
	// decision, not the engine's.
	Tombstoned bool
}

// ResolveForRead computes the backing path to read from for userPath.
// It returns an error wrapping syscall.ENOENT if userPath is Absent:
// D(P) doesn't exist, or exists but is an empty, revision-less
// regular-file node, which behaves the same as Absent.
func (e *Engine) ResolveForRead(userPath string) (*Resolution, error) {
	versionDir, err := pathmangle.VersionDir(e.root, userPath)
	if err != nil {
		return nil, err
	}
	if !e.store.Exists(versionDir) {
		return nil, fmt.Errorf("resolve-for-read %s: %w", userPath, syscall.ENOENT)
	}

	if e.IsDirectory(versionDir) {
		return &Resolution{
			Path:        versionDir,
			IsDirectory: true,
			Tombstoned:  e.IsTombstoned(versionDir),
		}, nil
	}

	v := e.latestRevision(versionDir)
	if v < 0 {
		return nil, fmt.Errorf("resolve-for-read %s: %w", userPath, syscall.ENOENT)
	}
	return &Resolution{
		Path:       pathmangle.RevisionPath(versionDir, v),
		Tombstoned: e.IsTombstoned(versionDir),
	}, nil
}

// ResolveForWrite allocates the next revision for userPath and returns
// the backing path the caller should create/open/truncate. Three
// cases:
//
//   - No version directory yet: it is created (mode 0700, owner-only)
//     and revision 0 is returned for the caller to create.
//   - Version directory exists and is tombstoned: it is untombstoned
//     and the next revision is returned empty, for the caller to
//     populate fresh.
//   - Version directory exists, live: the latest revision is cloned
//     (attributes and all) into the next revision slot, which the
//     caller then mutates.
//
// Two concurrent writers can compute the same "next" revision number;
// ResolveForWrite claims the slot with an exclusive create before
// doing anything else, and retries against a freshly observed state
// on collision.
func (e *Engine) ResolveForWrite(ctx context.Context, userPath string) (string, error) {
	versionDir, err := pathmangle.VersionDir(e.root, userPath)
	if err != nil {
		return "", err
	}
	if e.IsDirectory(versionDir) {
		return "", fmt.Errorf("resolve-for-write %s: %w", userPath, syscall.EISDIR)
	}

	var lastErr error
	for a := retry.Start(collisionRetry, nil); a.Next(); {
		fpath, retryable, err := e.tryResolveForWrite(ctx, versionDir)
		if err == nil {
			return fpath, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
		logger.Debugf("resolve-for-write %s: collision, retrying (%v)", userPath, err)
	}
	return "", fmt.Errorf("resolve-for-write %s: too many concurrent revision collisions: %w", userPath, lastErr)
}

// tryResolveForWrite makes one attempt at allocating the next
// revision. retryable tells the caller whether a failure is a
// transient collision worth retrying, or a hard error to surface.
func (e *Engine) tryResolveForWrite(ctx context.Context, versionDir string) (fpath string, retryable bool, err error) {
	v := e.latestRevision(versionDir)
	next := v + 1
	fpath = pathmangle.RevisionPath(versionDir, next)

	if v < 0 {
		if err := e.store.Mkdir(versionDir, 0o700); err != nil {
			if errors.Is(err, os.ErrExist) || os.IsExist(err) {
				return "", true, err
			}
			return "", false, err
		}
		if e.cache != nil {
			e.cache.Invalidate(versionDir)
		}
		return fpath, false, nil
	}

	tombstoned := e.IsTombstoned(versionDir)

	// Claim the revision slot exclusively before mutating anything
	// else, so two writers racing on the same `next` never both
	// believe they own it.
	if err := e.store.Touch(fpath); err != nil {
		return "", errors.Is(err, os.ErrExist), err
	}

	if tombstoned {
		if err := e.Untombstone(versionDir); err != nil {
			return "", true, err
		}
	} else {
		old := pathmangle.RevisionPath(versionDir, v)
		if err := e.store.Clone(ctx, old, fpath); err != nil {
			// Release the claimed slot so an empty file does not
			// become the latest revision.
			e.store.Remove(fpath)
			return "", false, err
		}
	}

	if e.cache != nil {
		e.cache.Set(versionDir, next)
	}
	return fpath, false, nil
}

// Tombstone marks versionDir as logically deleted. It fails if a
// tombstone is already present.
func (e *Engine) Tombstone(versionDir string) error {
	if err := e.store.Touch(pathmangle.MarkerPath(versionDir, pathmangle.DeletedMarker)); err != nil {
		return fmt.Errorf("tombstone %s: %w", versionDir, err)
	}
	return nil
}

// Untombstone removes the deleted marker from versionDir.
func (e *Engine) Untombstone(versionDir string) error {
	if err := e.store.Remove(pathmangle.MarkerPath(versionDir, pathmangle.DeletedMarker)); err != nil {
		return fmt.Errorf("untombstone %s: %w", versionDir, err)
	}
	return nil
}

// MakeDirectory creates a live directory node at userPath with mode m.
// If userPath previously existed as a tombstoned directory, it is
// resurrected instead. If it previously existed as a tombstoned
// regular file, undofs rejects with EEXIST rather than guessing.
func (e *Engine) MakeDirectory(userPath string, mode os.FileMode) error {
	versionDir, err := pathmangle.VersionDir(e.root, userPath)
	if err != nil {
		return err
	}

	if e.store.Exists(versionDir) {
		if !e.IsTombstoned(versionDir) {
			return fmt.Errorf("mkdir %s: %w", userPath, syscall.EEXIST)
		}
		if !e.IsDirectory(versionDir) {
			return fmt.Errorf("mkdir %s: tombstoned regular file in the way: %w", userPath, syscall.EEXIST)
		}
		return e.Untombstone(versionDir)
	}

	if err := e.store.Mkdir(versionDir, mode); err != nil {
		return err
	}
	if err := e.store.Touch(pathmangle.MarkerPath(versionDir, pathmangle.DirMarker)); err != nil {
		return err
	}
	if e.cache != nil {
		e.cache.Invalidate(versionDir)
	}
	return nil
}
