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

// Package logger is undofs's logging sink. Every FUSE callback logs on
// the hot path, and those callbacks may run concurrently on many
// threads, so the sink serializes writes under a mutex and rate-limits
// them with a token bucket. Each accepted line is still written
// synchronously by the calling callback. Logging failures are swallowed
// rather than propagated to the caller.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/juju/ratelimit"
)

// Flags mirror the handful of knobs the stdlib log package exposes.
const (
	DefaultFlags = log.LstdFlags
)

// Logger is the interface the rest of undofs logs through.
type Logger interface {
	Noticef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type undofsLogger struct {
	mu     sync.Mutex
	log    *log.Logger
	bucket *ratelimit.Bucket
	debug  bool
	// dropped counts every log line dropped by the rate limiter over
	// the logger's lifetime; a summary line is emitted on the first
	// drop and again after every further bucketCapacity drops.
	dropped int
}

// capacity/fillrate of the token bucket guarding the sink: ~200
// messages/sec sustained, bursts up to 1000, which comfortably covers
// a single interactive session without letting a pathological caller
// (e.g. a tight stat() loop) turn logging into the bottleneck.
const (
	bucketCapacity = 1000
	bucketFillRate = 200
)

var (
	logger   Logger = &undofsLogger{log: log.New(os.Stderr, "", DefaultFlags)}
	loggerMu sync.Mutex
)

// New creates a Logger writing to w. debug enables Debugf output.
func New(w io.Writer, debug bool) Logger {
	return &undofsLogger{
		log:    log.New(w, "", DefaultFlags),
		bucket: ratelimit.NewBucketWithRate(bucketFillRate, bucketCapacity),
		debug:  debug,
	}
}

// SetLogger installs l as the process-wide logger.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// SimpleSetup configures the default logger to write to w, typically
// dirs.LogPath() opened for append.
func SimpleSetup(w io.Writer, debug bool) {
	SetLogger(New(w, debug))
}

func get() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return logger
}

// Noticef logs an always-on message (errors, lifecycle events).
func Noticef(format string, args ...interface{}) {
	get().Noticef(format, args...)
}

// Debugf logs a message only when debug output is enabled.
func Debugf(format string, args ...interface{}) {
	get().Debugf(format, args...)
}

func (l *undofsLogger) write(prefix, format string, args ...interface{}) {
	defer func() {
		// A panicking Logger must never bring down a filesystem
		// callback; swallow and move on.
		recover()
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucket != nil && l.bucket.TakeAvailable(1) == 0 {
		l.dropped++
		if l.dropped%bucketCapacity == 1 {
			l.log.Printf("undofs: dropped %d log lines (rate limited)", l.dropped)
		}
		return
	}

	l.log.Output(3, prefix+fmt.Sprintf(format, args...))
}

func (l *undofsLogger) Noticef(format string, args ...interface{}) {
	l.write("", format, args...)
}

func (l *undofsLogger) Debugf(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG: ", format, args...)
}

// MockedLogger is what MockLogger hands back: a buffer that also
// satisfies io.Writer so tests can both feed it to New and assert on
// its contents.
type MockedLogger = *mockBuffer

type mockBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *mockBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *mockBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// MockLogger installs an in-memory logger for the duration of a test
// and returns the buffer plus a restore func, for use from a test's
// SetUpTest/TearDownTest pair.
func MockLogger() (buf MockedLogger, restore func()) {
	loggerMu.Lock()
	old := logger
	loggerMu.Unlock()

	buf = &mockBuffer{}
	SetLogger(New(buf, true))
	return buf, func() {
		loggerMu.Lock()
		logger = old
		loggerMu.Unlock()
	}
}
