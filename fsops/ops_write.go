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

package fsops

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sync/errgroup"

	"github.com/wvdschel/undofs/logger"
	"github.com/wvdschel/undofs/pathmangle"
	"github.com/wvdschel/undofs/revision"
)

// readdirFanout bounds how many per-child is-directory/is-tombstoned
// checks Readdir runs concurrently. Each check is a couple of stat(2)
// calls against an independent version directory, so they parallelize
// cleanly; the bound keeps a directory with thousands of children from
// opening thousands of goroutines (and file descriptors) at once.
const readdirFanout = 16

// readdirChild holds one demangled entry plus the result of its
// concurrently-run version-directory checks.
type readdirChild struct {
	name        string
	tombstoned  bool
	isDirectory bool
}

// Readdir lists the live (non-tombstoned) children of n, demangling
// raw backing-directory entries back to user-visible names. The
// per-child is-directory/is-tombstoned checks fan out across a bounded
// pool of goroutines, since each is independent I/O against its own
// version directory.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	versionDir, err := n.engine.VersionDir(n.userPath)
	if err != nil {
		return nil, errnoOf(err)
	}

	raw, err := n.store.ReadDir(versionDir)
	if err != nil {
		return nil, errnoOf(err)
	}

	children := make([]readdirChild, 0, len(raw))
	for _, ent := range raw {
		name, ok := pathmangle.Demangle(ent.Name())
		if !ok {
			continue
		}
		children = append(children, readdirChild{name: name})
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(readdirFanout)
	for i := range children {
		i := i
		g.Go(func() error {
			childVersionDir := mustVersionDir(n, join(n.userPath, children[i].name))
			children[i].tombstoned = n.engine.IsTombstoned(childVersionDir)
			children[i].isDirectory = n.engine.IsDirectory(childVersionDir)
			return nil
		})
	}
	g.Wait() // the checks above never return a non-nil error

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		if c.tombstoned {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		if c.isDirectory {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: c.name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func mustVersionDir(n *Node, userPath string) string {
	versionDir, err := n.engine.VersionDir(userPath)
	if err != nil {
		return ""
	}
	return versionDir
}

// fileHandle wraps an *os.File opened against a backing revision
// file, implementing the FileXxxx interfaces go-fuse forwards to from
// the owning Node's FileHandle argument.
type fileHandle struct {
	f *os.File
}

var _ = (fs.FileReader)((*fileHandle)(nil))
var _ = (fs.FileWriter)((*fileHandle)(nil))
var _ = (fs.FileFlusher)((*fileHandle)(nil))
var _ = (fs.FileFsyncer)((*fileHandle)(nil))
var _ = (fs.FileReleaser)((*fileHandle)(nil))

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && n == 0 {
		if errno, ok := err.(*os.PathError); ok {
			if e, ok := errno.Err.(syscall.Errno); ok && e != 0 {
				return nil, e
			}
		}
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.f.WriteAt(data, off)
	if err != nil {
		return uint32(n), errnoOf(err)
	}
	return uint32(n), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	// The real fsync happens in Fsync; close(2)'s implicit flush has
	// no durability guarantee on Linux either, so Flush is a no-op
	// beyond what the kernel already did.
	return 0
}

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	if err := h.f.Sync(); err != nil {
		return errnoOf(err)
	}
	return 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.f.Close(); err != nil {
		return errnoOf(err)
	}
	return 0
}

// Open resolves n for read or for write depending on the requested
// access mode, and returns a handle over the chosen backing revision.
// A write-intent open (O_WRONLY/O_RDWR) always allocates a fresh
// revision up front, even if the caller never writes a byte: this
// matches undofs's per-session versioning model, where "was this file
// opened for writing" rather than "did a write syscall actually
// happen" is what creates history.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	var backingPath string
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		fpath, err := n.engine.ResolveForWrite(ctx, n.userPath)
		if err != nil {
			return nil, 0, errnoOf(err)
		}
		backingPath = fpath
	} else {
		res, err := n.engine.ResolveForRead(n.userPath)
		if err != nil {
			return nil, 0, errnoOf(err)
		}
		backingPath = res.Path
	}

	f, err := n.store.Open(backingPath, int(flags)&^syscall.O_CREAT, 0)
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	return &fileHandle{f: f}, 0, 0
}

// Create makes a brand-new regular file named name under n and opens
// it for writing.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath, res, f, errno := n.createChild(ctx, name, flags, mode)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	child := n.childNode(ctx, childPath, res, out)
	return child, &fileHandle{f: f}, 0, 0
}

// createChild does the resolve-for-write-then-open work behind
// Create, split out from the fs.Inode construction so it can run
// against a Node that isn't part of a live mounted tree.
func (n *Node) createChild(ctx context.Context, name string, flags uint32, mode uint32) (childPath string, res *revision.Resolution, f *os.File, errno syscall.Errno) {
	childPath = join(n.userPath, name)

	fpath, err := n.engine.ResolveForWrite(ctx, childPath)
	if err != nil {
		return "", nil, nil, errnoOf(err)
	}

	f, err = n.store.Open(fpath, int(flags)|syscall.O_CREAT, os.FileMode(mode&0o777))
	if err != nil {
		return "", nil, nil, errnoOf(err)
	}

	res, err = n.engine.ResolveForRead(childPath)
	if err != nil {
		f.Close()
		return "", nil, nil, errnoOf(err)
	}
	return childPath, res, f, 0
}

// Mkdir creates a live directory node named name under n.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath, res, errno := n.mkdirChild(name, mode)
	if errno != 0 {
		return nil, errno
	}
	return n.childNode(ctx, childPath, res, out), 0
}

// mkdirChild does the work behind Mkdir, split out from the fs.Inode
// construction so it can run against a Node that isn't part of a live
// mounted tree.
func (n *Node) mkdirChild(name string, mode uint32) (childPath string, res *revision.Resolution, errno syscall.Errno) {
	childPath = join(n.userPath, name)
	if err := n.engine.MakeDirectory(childPath, os.FileMode(mode&0o777)); err != nil {
		return "", nil, errnoOf(err)
	}
	res, err := n.engine.ResolveForRead(childPath)
	if err != nil {
		return "", nil, errnoOf(err)
	}
	return childPath, res, 0
}

// Mknod creates a non-regular, non-directory node (device, FIFO,
// socket) named name under n.
func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := join(n.userPath, name)
	fpath, err := n.engine.ResolveForWrite(ctx, childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	if err := n.store.Mknod(fpath, mode, int(dev)); err != nil {
		return nil, errnoOf(err)
	}
	res, err := n.engine.ResolveForRead(childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return n.childNode(ctx, childPath, res, out), 0
}

// Unlink tombstones the regular-file (or symlink) child named name.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	childPath := join(n.userPath, name)
	versionDir, err := n.engine.VersionDir(childPath)
	if err != nil {
		return errnoOf(err)
	}
	if n.engine.IsDirectory(versionDir) {
		return syscall.EISDIR
	}
	if err := n.engine.Tombstone(versionDir); err != nil {
		return errnoOf(err)
	}
	return 0
}

// Rmdir tombstones the directory child named name, refusing if it
// still has live children.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	childPath := join(n.userPath, name)
	versionDir, err := n.engine.VersionDir(childPath)
	if err != nil {
		return errnoOf(err)
	}
	if !n.engine.IsDirectory(versionDir) {
		return syscall.ENOTDIR
	}

	raw, err := n.store.ReadDir(versionDir)
	if err != nil {
		return errnoOf(err)
	}
	for _, ent := range raw {
		name, ok := pathmangle.Demangle(ent.Name())
		if !ok {
			continue
		}
		if !n.engine.IsTombstoned(mustVersionDir(n, join(childPath, name))) {
			return syscall.ENOTEMPTY
		}
	}

	if err := n.engine.Tombstone(versionDir); err != nil {
		return errnoOf(err)
	}
	return 0
}

// Rename moves a child from n to newParent. A directory is moved whole
// (its entire version directory, and therefore its whole revision
// history, in one backing-store rename); a destination that already
// has a non-empty version directory is not replaced, and the rename
// fails with ENOTEMPTY. A regular file instead tombstones the source and
// clones its latest revision into a freshly allocated revision at the
// destination, so the source's history survives under its old name
// rather than moving with it.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	destNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}

	oldPath := join(n.userPath, name)
	newPath := join(destNode.userPath, newName)

	oldVersionDir, err := n.engine.VersionDir(oldPath)
	if err != nil {
		return errnoOf(err)
	}

	if n.engine.IsDirectory(oldVersionDir) {
		return n.renameDirectory(oldPath, newPath, oldVersionDir)
	}
	return n.renameRegularFile(ctx, oldPath, newPath, oldVersionDir)
}

// renameDirectory implements the directory branch of rename: the
// whole version directory moves to newPath. Only an empty leftover
// version directory at newPath is removed first; any other existing
// destination (live or tombstoned, which always holds a marker or a
// revision) makes the rename fail, and its history is kept.
func (n *Node) renameDirectory(oldPath, newPath, oldVersionDir string) syscall.Errno {
	newVersionDir, err := n.engine.VersionDir(newPath)
	if err != nil {
		return errnoOf(err)
	}

	if n.store.Exists(newVersionDir) && !n.engine.IsTombstoned(newVersionDir) {
		if n.engine.IsDirectory(newVersionDir) {
			logger.Noticef("rename %s -> %s: overwriting an existing directory entry", oldPath, newPath)
		}
		if err := n.store.Remove(newVersionDir); err != nil {
			// newVersionDir is a non-empty directory; os.Remove
			// fails where os.RemoveAll would succeed, but undofs
			// does not silently destroy history that way.
			return syscall.ENOTEMPTY
		}
	}

	if err := n.store.Rename(oldVersionDir, newVersionDir); err != nil {
		return errnoOf(err)
	}
	return 0
}

// renameRegularFile implements the regular-file branch of rename:
// resolve the source's latest revision, resolve-for-write a fresh
// revision at the destination, tombstone the source, then clone the
// source revision into the destination. A clone failure untombstones
// the source again, undofs's one explicit compensating action.
func (n *Node) renameRegularFile(ctx context.Context, oldPath, newPath, oldVersionDir string) syscall.Errno {
	srcRes, err := n.engine.ResolveForRead(oldPath)
	if err != nil {
		return errnoOf(err)
	}

	dstPath, err := n.engine.ResolveForWrite(ctx, newPath)
	if err != nil {
		return errnoOf(err)
	}

	if err := n.engine.Tombstone(oldVersionDir); err != nil {
		return errnoOf(err)
	}

	if err := n.store.Clone(ctx, srcRes.Path, dstPath); err != nil {
		if untombErr := n.engine.Untombstone(oldVersionDir); untombErr != nil {
			logger.Noticef("rename %s -> %s: clone failed (%v), and restoring %s also failed: %v", oldPath, newPath, err, oldPath, untombErr)
		}
		return errnoOf(err)
	}
	return 0
}

// Link creates a new name for the existing node target, hard-linking
// its latest revision into a revision freshly allocated for the new
// path by resolve-for-write, the same allocation path Create/Mknod/
// Symlink use (untombstone-and-reuse or collision-retried allocation
// included, rather than a bare Mkdir that only handles the
// never-existed-before case).
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath, res, errno := n.linkChild(ctx, target, name)
	if errno != 0 {
		return nil, errno
	}
	return n.childNode(ctx, childPath, res, out), 0
}

// linkChild does the work behind Link, split out from the fs.Inode
// construction so it can run against Nodes that aren't part of a live
// mounted tree.
func (n *Node) linkChild(ctx context.Context, target fs.InodeEmbedder, name string) (childPath string, res *revision.Resolution, errno syscall.Errno) {
	src, ok := target.(*Node)
	if !ok {
		return "", nil, syscall.EXDEV
	}

	srcRes, err := src.engine.ResolveForRead(src.userPath)
	if err != nil {
		return "", nil, errnoOf(err)
	}
	if srcRes.IsDirectory {
		return "", nil, syscall.EPERM
	}

	childPath = join(n.userPath, name)
	fpath, err := n.engine.ResolveForWrite(ctx, childPath)
	if err != nil {
		return "", nil, errnoOf(err)
	}
	// ResolveForWrite may already have put a file at fpath (a clone of
	// the prior revision, or an empty claimed slot); for a brand-new
	// path it leaves fpath absent. Link wants the raw hard link
	// instead, so discard whatever is there first.
	if err := n.store.Remove(fpath); err != nil && errnoOf(err) != syscall.ENOENT {
		return "", nil, errnoOf(err)
	}
	if err := n.store.Link(srcRes.Path, fpath); err != nil {
		return "", nil, errnoOf(err)
	}

	res, err = n.engine.ResolveForRead(childPath)
	if err != nil {
		return "", nil, errnoOf(err)
	}
	return childPath, res, 0
}

// Symlink creates a new symlink named name under n, pointing at
// target.
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := join(n.userPath, name)
	fpath, err := n.engine.ResolveForWrite(ctx, childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	if err := n.store.Symlink(target, fpath); err != nil {
		return nil, errnoOf(err)
	}
	res, err := n.engine.ResolveForRead(childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return n.childNode(ctx, childPath, res, out), 0
}

// Readlink reads the target of the symlink at n.
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	res, err := n.engine.ResolveForRead(n.userPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	target, err := n.store.Readlink(res.Path)
	if err != nil {
		return nil, errnoOf(err)
	}
	return []byte(target), 0
}
