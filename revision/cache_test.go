// -*- Mode: Go; indent-tabs-mode: t -*-

package revision_test

import (
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/wvdschel/undofs/revision"
)

type cacheSuite struct {
	cache *revision.Cache
}

var _ = Suite(&cacheSuite{})

func (s *cacheSuite) SetUpTest(c *C) {
	cache, err := revision.OpenCache(filepath.Join(c.MkDir(), "cache.db"))
	c.Assert(err, IsNil)
	s.cache = cache
}

func (s *cacheSuite) TearDownTest(c *C) {
	c.Assert(s.cache.Close(), IsNil)
}

func (s *cacheSuite) TestGetOnEmptyCacheMisses(c *C) {
	_, ok := s.cache.Get("/some/dir")
	c.Check(ok, Equals, false)
}

func (s *cacheSuite) TestSetThenGet(c *C) {
	s.cache.Set("/d", 3)
	n, ok := s.cache.Get("/d")
	c.Assert(ok, Equals, true)
	c.Check(n, Equals, 3)
}

func (s *cacheSuite) TestSetZeroIsDistinctFromMiss(c *C) {
	s.cache.Set("/d", 0)
	n, ok := s.cache.Get("/d")
	c.Assert(ok, Equals, true)
	c.Check(n, Equals, 0)
}

func (s *cacheSuite) TestInvalidateClearsEntry(c *C) {
	s.cache.Set("/d", 5)
	s.cache.Invalidate("/d")
	_, ok := s.cache.Get("/d")
	c.Check(ok, Equals, false)
}

func (s *cacheSuite) TestDistinctKeysAreIndependent(c *C) {
	s.cache.Set("/a", 1)
	s.cache.Set("/b", 2)
	n, ok := s.cache.Get("/a")
	c.Assert(ok, Equals, true)
	c.Check(n, Equals, 1)
	n, ok = s.cache.Get("/b")
	c.Assert(ok, Equals, true)
	c.Check(n, Equals, 2)
}

func (s *cacheSuite) TestReopenPersistsData(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "cache.db")
	cache, err := revision.OpenCache(path)
	c.Assert(err, IsNil)
	cache.Set("/p", 7)
	c.Assert(cache.Close(), IsNil)

	reopened, err := revision.OpenCache(path)
	c.Assert(err, IsNil)
	defer reopened.Close()

	n, ok := reopened.Get("/p")
	c.Assert(ok, Equals, true)
	c.Check(n, Equals, 7)
}
