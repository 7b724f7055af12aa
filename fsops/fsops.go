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

// Package fsops is the operation dispatcher: it implements the
// go-fuse node API on top of package revision, translating every FUSE
// callback into a resolve-for-read/resolve-for-write/tombstone call
// plus a single backing-store operation. It never touches a
// version-directory path directly; all naming decisions live in
// package pathmangle and all state-machine decisions live in package
// revision.
package fsops

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/wvdschel/undofs/backingstore"
	"github.com/wvdschel/undofs/logger"
	"github.com/wvdschel/undofs/revision"
)

// Node is the single InodeEmbedder type used throughout the tree: the
// root, every directory and every regular file are all a Node,
// distinguished only by userPath and by what IsDirectory(path)
// reports at call time.
type Node struct {
	fs.Inode

	engine *revision.Engine
	store  *backingstore.Store

	// userPath is this node's path in the undofs namespace, "/" for
	// the root. It is immutable for the lifetime of the Inode; a
	// rename creates fresh child Nodes rather than mutating this
	// field in place, matching how the kernel's dentry cache expects
	// renamed inodes to behave.
	userPath string

	// onMount is only set on the root Node; OnAdd calls it once the
	// root inode is live. Non-root Nodes leave it nil.
	onMount func()
}

var inodeCounter uint64

// nextStableAttr hands out a fresh, process-unique inode number. Nodes
// are created fresh on every Lookup rather than cached by path
// (undofs's backing identity for a path changes on every write, which
// would otherwise invalidate any persistent inode number anyway), so
// uniqueness across the process lifetime is all that's required.
func nextStableAttr(mode uint32) fs.StableAttr {
	return fs.StableAttr{
		Mode: mode,
		Ino:  atomic.AddUint64(&inodeCounter, 1),
	}
}

// Root returns the root Node for a Mount call. onMount, if non-nil, is
// run once from OnAdd when the root inode becomes live.
func Root(engine *revision.Engine, store *backingstore.Store, onMount func()) *Node {
	return &Node{engine: engine, store: store, userPath: "/", onMount: onMount}
}

func join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// errnoOf unwraps err looking for the syscall.Errno that every
// package revision / package backingstore error is built around,
// falling back to EIO for anything else (a clone failure, a disk
// full, or similar genuine I/O trouble).
func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for {
		if errno, ok := err.(syscall.Errno); ok {
			return errno
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return syscall.EIO
		}
		err = u.Unwrap()
	}
}

var _ = (fs.InodeEmbedder)((*Node)(nil))
var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeCreater)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeMknoder)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))
var _ = (fs.NodeRmdirer)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeLinker)((*Node)(nil))
var _ = (fs.NodeSymlinker)((*Node)(nil))
var _ = (fs.NodeReadlinker)((*Node)(nil))
var _ = (fs.NodeAccesser)((*Node)(nil))
var _ = (fs.NodeStatfser)((*Node)(nil))
var _ = (fs.NodeOnAdder)((*Node)(nil))

// OnAdd fires once for every Node added to the tree; only the root
// (userPath == "/") has anything to do here, logging the same
// mount-time notice the original daemon logged and running the
// caller's OnMount hook (typically the systemd readiness notification).
func (n *Node) OnAdd(ctx context.Context) {
	if n.userPath != "/" {
		return
	}
	logger.Noticef("Init undofs.")
	if n.onMount != nil {
		n.onMount()
	}
}

// childNode resolves name under n for read, and builds the Inode +
// EntryOut the kernel expects in response, shared by Lookup and every
// operation that introduces a brand-new tree entry (Create, Mkdir,
// Mknod, Link, Symlink).
func (n *Node) childNode(ctx context.Context, childPath string, res *revision.Resolution, out *fuse.EntryOut) *fs.Inode {
	info, err := n.store.Stat(res.Path)
	mode := uint32(fuse.S_IFREG | 0o644)
	if err == nil {
		mode = fuse.ToStatT(info).Mode
	}
	if res.IsDirectory {
		mode = fuse.S_IFDIR | (mode &^ syscall.S_IFMT)
	}

	if err == nil {
		out.Attr.FromStat(fuse.ToStatT(info))
	}
	out.Attr.Mode = mode

	child := &Node{engine: n.engine, store: n.store, userPath: childPath}
	return n.NewInode(ctx, child, nextStableAttr(mode&syscall.S_IFMT))
}

// Lookup resolves name as a direct child of n.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := join(n.userPath, name)
	res, err := n.engine.ResolveForRead(childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return n.childNode(ctx, childPath, res, out), 0
}

// Getattr fills out the attributes of n itself. A tombstoned regular
// file reports ENOENT.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	res, err := n.engine.ResolveForRead(n.userPath)
	if err != nil {
		return errnoOf(err)
	}
	if res.Tombstoned && !res.IsDirectory {
		return syscall.ENOENT
	}
	info, err := n.store.Stat(res.Path)
	if err != nil {
		return errnoOf(err)
	}
	out.Attr.FromStat(fuse.ToStatT(info))
	return 0
}

// Setattr applies chmod/chown/truncate/utimens to n, resolving a new
// revision first if the change would mutate a live regular file's
// backing data (truncate); metadata-only changes apply in place to
// the current revision.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	res, err := n.engine.ResolveForRead(n.userPath)
	if err != nil {
		return errnoOf(err)
	}
	target := res.Path

	if sz, ok := in.GetSize(); ok && !res.IsDirectory {
		fpath, err := n.engine.ResolveForWrite(ctx, n.userPath)
		if err != nil {
			return errnoOf(err)
		}
		target = fpath
		if err := n.store.Truncate(target, int64(sz)); err != nil {
			return errnoOf(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.store.Chmod(target, os.FileMode(mode&^syscall.S_IFMT)); err != nil {
			return errnoOf(err)
		}
	}
	if uid, uok := in.GetUID(); uok {
		gid, gok := in.GetGID()
		if !gok {
			gid = ^uint32(0)
		}
		if err := n.store.Chown(target, int(uid), int(gid)); err != nil {
			return errnoOf(err)
		}
	} else if gid, gok := in.GetGID(); gok {
		if err := n.store.Chown(target, -1, int(gid)); err != nil {
			return errnoOf(err)
		}
	}
	if atime, ok := in.GetATime(); ok {
		mtime := atime
		if m, ok := in.GetMTime(); ok {
			mtime = m
		}
		if err := n.store.Utimes(target, atime, mtime); err != nil {
			return errnoOf(err)
		}
	}

	info, err := n.store.Stat(target)
	if err != nil {
		return errnoOf(err)
	}
	out.Attr.FromStat(fuse.ToStatT(info))
	return 0
}

// Access checks mask against the backing file behind n.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	res, err := n.engine.ResolveForRead(n.userPath)
	if err != nil {
		return errnoOf(err)
	}
	if err := n.store.Access(res.Path, mask); err != nil {
		return errnoOf(err)
	}
	return 0
}

// Statfs reports filesystem-level statistics from the backing root.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	root, err := n.engine.VersionDir("/")
	if err != nil {
		return errnoOf(err)
	}
	st, err := n.store.Statfs(root)
	if err != nil {
		return errnoOf(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Frsize)
	return 0
}

