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

// Package confine installs an optional seccomp syscall allow-list for
// the undofs process, once it has opened its log file, its cache file
// and the FUSE /dev/fuse handle. Backing files are still opened by
// name afterwards, so open/openat stay on the allow-list. It is opt-in (cmd/undofs's --seccomp flag): a filter
// mismatch kills the process outright, so it is off by default and
// meant for operators who know their kernel/libc syscall surface.
package confine

import (
	"fmt"

	seccomp "github.com/seccomp/libseccomp-golang"
)

// syscalls is every syscall undofs's own code path can make once
// mounted: the POSIX operations package backingstore performs, plus
// what the FUSE kernel transport, the Go runtime (scheduler, GC,
// network poller) and package backingstore's "cp -a" child need to fork
// and exec.
var syscalls = []string{
	"read", "write", "pread64", "pwrite64", "readv", "writev",
	"open", "openat", "close", "fstat", "stat", "lstat", "newfstatat",
	"access", "faccessat", "faccessat2",
	"getdents64", "readlink", "readlinkat",
	"mkdir", "mkdirat", "rmdir", "unlink", "unlinkat",
	"rename", "renameat", "renameat2",
	"link", "linkat", "symlink", "symlinkat",
	"chmod", "fchmod", "fchmodat",
	"chown", "fchown", "fchownat", "lchown",
	"truncate", "ftruncate",
	"utime", "utimes", "utimensat", "futimesat",
	"mknod", "mknodat",
	"statfs", "fstatfs",
	"lseek", "fsync", "fdatasync", "flock",
	"getxattr", "lgetxattr", "fgetxattr",
	"setxattr", "lsetxattr", "fsetxattr",
	"listxattr", "llistxattr", "flistxattr",
	"mmap", "munmap", "mprotect", "madvise", "brk",
	"clone", "clone3", "fork", "vfork", "execve", "wait4", "waitid",
	"exit", "exit_group", "rt_sigaction", "rt_sigprocmask",
	"rt_sigreturn", "sigaltstack", "futex",
	"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
	"poll", "ppoll", "pipe2", "eventfd2",
	"nanosleep", "clock_gettime", "clock_nanosleep", "gettimeofday",
	"sched_yield", "sched_getaffinity", "getrandom",
	"rseq", "set_robust_list", "set_tid_address", "prctl",
	"getpid", "gettid", "getppid", "getuid", "geteuid", "getgid", "getegid",
	"ioctl", "dup", "dup2", "dup3",
}

// Enforce builds an allow-list filter from syscalls plus extra (e.g.
// "--seccomp" callers supplying something package confine doesn't
// already know about), with SIGSYS-killing the default action for
// everything else, and loads it into the running process. It does not
// return on success other than normally; a disallowed syscall after
// this point terminates the process via SIGSYS, not a Go error.
func Enforce(extra ...string) error {
	filter, err := seccomp.NewFilter(seccomp.ActKill)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()

	for _, name := range append(append([]string{}, syscalls...), extra...) {
		call, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			// Not every syscall name is defined on every
			// architecture (e.g. "open" on arm64); skip rather
			// than fail the whole filter.
			continue
		}
		if err := filter.AddRule(call, seccomp.ActAllow); err != nil {
			return fmt.Errorf("add seccomp rule for %s: %w", name, err)
		}
	}

	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
