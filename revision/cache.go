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

package revision

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var latestRevisionBucket = []byte("latest-revision")

// Cache is a disk-backed read-through cache from a mangled version
// directory path to its last-known latest-revision number. It exists
// purely to let Engine skip a readdir scan of D(P) on the hot
// getattr/open path (SPEC_FULL.md's DOMAIN STACK). It is never the
// source of truth: Engine always re-validates a cache hit with a
// cheap stat before trusting it, and falls back to a full scan on any
// disagreement, so a stale or corrupt cache can only cost performance,
// never correctness.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens (creating if necessary) a bbolt cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open revision cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(latestRevisionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init revision cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close flushes and closes the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached latest-revision number for versionDir, if
// any.
func (c *Cache) Get(versionDir string) (n int, ok bool) {
	c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(latestRevisionBucket).Get([]byte(versionDir))
		if v == nil {
			return nil
		}
		parsed, consumed := binary.Varint(v)
		if consumed <= 0 {
			return nil
		}
		n, ok = int(parsed), true
		return nil
	})
	return n, ok
}

// Set records n as the latest-revision number for versionDir.
func (c *Cache) Set(versionDir string, n int) {
	c.db.Update(func(tx *bbolt.Tx) error {
		buf := make([]byte, binary.MaxVarintLen64)
		l := binary.PutVarint(buf, int64(n))
		return tx.Bucket(latestRevisionBucket).Put([]byte(versionDir), buf[:l])
	})
}

// Invalidate drops any cached entry for versionDir, forcing the next
// lookup to rescan. Used whenever Engine creates a version directory
// from scratch, where a scan is cheap anyway (the directory is empty
// or near-empty).
func (c *Cache) Invalidate(versionDir string) {
	c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(latestRevisionBucket).Delete([]byte(versionDir))
	})
}
