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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"gopkg.in/tomb.v2"

	"github.com/wvdschel/undofs/backingstore"
	"github.com/wvdschel/undofs/confine"
	"github.com/wvdschel/undofs/dirs"
	"github.com/wvdschel/undofs/fsops"
	"github.com/wvdschel/undofs/logger"
	"github.com/wvdschel/undofs/revision"
)

type options struct {
	Debug      bool    `long:"debug" description:"log every FUSE callback"`
	Foreground bool    `short:"f" long:"foreground" description:"accepted for compatibility; undofs always runs in the foreground"`
	Config     string  `short:"c" long:"config" description:"path to an INI config file"`
	Seccomp    bool    `long:"seccomp" description:"confine the process to its required syscalls after mounting"`
	CloneRate  float64 `long:"clone-rate" default:"50" description:"max backing-store clones per second"`
	CloneBurst int     `long:"clone-burst" default:"20" description:"burst size for clone rate limiting"`
	NoCache    bool    `long:"no-cache" description:"disable the on-disk latest-revision cache"`

	Args struct {
		BackingRoot string `positional-arg-name:"backing-root" required:"yes"`
		MountPoint  string `positional-arg-name:"mountpoint" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "undofs:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	if opts.Config != "" {
		if err := applyConfigFile(opts.Config, &opts); err != nil {
			return err
		}
	}

	if err := dirs.SetRootDir(opts.Args.BackingRoot); err != nil {
		return fmt.Errorf("backing root: %w", err)
	}

	logFile, err := os.OpenFile(dirs.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger.SimpleSetup(logFile, opts.Debug)

	store := backingstore.New(opts.CloneRate, opts.CloneBurst)

	var cache *revision.Cache
	if !opts.NoCache {
		cache, err = revision.OpenCache(dirs.CachePath())
		if err != nil {
			logger.Noticef("revision cache unavailable, continuing without it: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	engine := revision.New(dirs.RootDir, store, cache)

	hooks := fsops.Hooks{
		OnMount: func() {
			logger.Noticef("mounted %s on %s", opts.Args.BackingRoot, opts.Args.MountPoint)
			notifyReady()
		},
		OnUnmount: func() {
			if cache != nil {
				if err := cache.Close(); err != nil {
					logger.Debugf("closing revision cache: %v", err)
				}
			}
		},
	}
	server, err := fsops.Mount(opts.Args.MountPoint, engine, store, opts.Debug, hooks)
	if err != nil {
		return err
	}

	if opts.Seccomp {
		if err := confine.Enforce(); err != nil {
			return fmt.Errorf("seccomp confinement: %w", err)
		}
		logger.Noticef("seccomp confinement enabled")
	}

	var t tomb.Tomb
	t.Go(func() error {
		server.Wait()
		return nil
	})
	t.Go(func() error {
		return watchSignals(&t, server)
	})

	if err := t.Wait(); err != nil {
		return err
	}
	return nil
}

// watchSignals waits for SIGINT/SIGTERM and unmounts the filesystem
// in response, so a ^C during interactive use and a service stop both
// go through the same orderly fusermount -u path rather than leaving
// the mount stale.
func watchSignals(t *tomb.Tomb, server interface{ Unmount() error }) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		logger.Noticef("received %v, unmounting", sig)
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("unmount: %w", err)
		}
		return nil
	case <-t.Dying():
		return nil
	}
}
