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
	"fmt"
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/wvdschel/undofs/backingstore"
	"github.com/wvdschel/undofs/logger"
	"github.com/wvdschel/undofs/revision"
)

// Hooks lets the caller observe the mount/unmount lifecycle: OnMount
// runs once the root inode is live, OnUnmount runs once, the first
// time Unmount is called. Either may be nil.
type Hooks struct {
	OnMount   func()
	OnUnmount func()
}

// Server wraps the running fuse.Server, running the configured
// OnUnmount hook exactly once, the first time Unmount is called.
type Server struct {
	*fuse.Server

	onUnmount func()
	once      sync.Once
}

// Unmount tears down the mount, then runs the OnUnmount hook exactly
// once regardless of how many times Unmount is called or what it
// returns.
func (s *Server) Unmount() error {
	err := s.Server.Unmount()
	s.once.Do(func() {
		logger.Noticef("Destroying undofs")
		if s.onUnmount != nil {
			s.onUnmount()
		}
	})
	return err
}

// Mount mounts an undofs tree rooted at engine/store on mountpoint and
// returns the running server. Call Wait on the result to block until
// unmount, or Unmount to tear it down.
func Mount(mountpoint string, engine *revision.Engine, store *backingstore.Store, debug bool, hooks Hooks) (*Server, error) {
	root := Root(engine, store, hooks.OnMount)
	raw, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "undofs",
			Name:   "undofs",
			Debug:  debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	return &Server{Server: raw, onUnmount: hooks.OnUnmount}, nil
}
