// -*- Mode: Go; indent-tabs-mode: t -*-

package dirs_test

import (
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/wvdschel/undofs/dirs"
)

func Test(t *testing.T) { TestingT(t) }

type dirsSuite struct{}

var _ = Suite(&dirsSuite{})

func (s *dirsSuite) TestSetRootDirResolvesAbsolute(c *C) {
	tmp := c.MkDir()
	err := dirs.SetRootDir(tmp)
	c.Assert(err, IsNil)
	c.Check(filepath.IsAbs(dirs.RootDir), Equals, true)
}

func (s *dirsSuite) TestSetRootDirRejectsMissingDir(c *C) {
	err := dirs.SetRootDir(filepath.Join(c.MkDir(), "does-not-exist"))
	c.Assert(err, NotNil)
}

func (s *dirsSuite) TestLogAndCachePaths(c *C) {
	tmp := c.MkDir()
	c.Assert(dirs.SetRootDir(tmp), IsNil)
	c.Check(dirs.LogPath(), Equals, filepath.Join(dirs.RootDir, "log.txt"))
	c.Check(dirs.CachePath(), Equals, filepath.Join(dirs.RootDir, ".undofs-cache.db"))
}
