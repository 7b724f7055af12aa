// -*- Mode: Go; indent-tabs-mode: t -*-

package pathmangle_test

import (
	"strings"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/wvdschel/undofs/pathmangle"
)

func Test(t *testing.T) { TestingT(t) }

type mangleSuite struct{}

var _ = Suite(&mangleSuite{})

func (s *mangleSuite) TestRootMapsToRoot(c *C) {
	d, err := pathmangle.VersionDir("/srv/store", "/")
	c.Assert(err, IsNil)
	c.Check(d, Equals, "/srv/store")
}

func (s *mangleSuite) TestExampleFromSpec(c *C) {
	d, err := pathmangle.VersionDir("/srv/store", "/a/b/c")
	c.Assert(err, IsNil)
	c.Check(d, Equals, "/srv/store/a.node/b.node/c.node")
}

func (s *mangleSuite) TestRepeatedSlashesCollapse(c *C) {
	d, err := pathmangle.VersionDir("/srv/store", "/a//b///c")
	c.Assert(err, IsNil)
	c.Check(d, Equals, "/srv/store/a.node/b.node/c.node")
}

func (s *mangleSuite) TestInjective(c *C) {
	d1, err := pathmangle.VersionDir("/r", "/a/b")
	c.Assert(err, IsNil)
	d2, err := pathmangle.VersionDir("/r", "/ab")
	c.Assert(err, IsNil)
	d3, err := pathmangle.VersionDir("/r", "/a/bc")
	c.Assert(err, IsNil)
	c.Check(d1, Not(Equals), d2)
	c.Check(d1, Not(Equals), d3)
	c.Check(d2, Not(Equals), d3)
}

func (s *mangleSuite) TestTooLongFails(c *C) {
	long := "/" + strings.Repeat("x", 8192)
	_, err := pathmangle.VersionDir("/r", long)
	c.Assert(err, NotNil)
	c.Check(strings.Contains(err.Error(), "PATH_MAX") || strings.Contains(err.Error(), "ENAMETOOLONG") ||
		strings.Contains(err.Error(), "file name too long"), Equals, true)
}

func (s *mangleSuite) TestDemangleRoundTrip(c *C) {
	d, err := pathmangle.VersionDir("/r", "/hello")
	c.Assert(err, IsNil)
	// last path component of D(P)
	last := d[strings.LastIndex(d, "/")+1:]
	name, ok := pathmangle.Demangle(last)
	c.Assert(ok, Equals, true)
	c.Check(name, Equals, "hello")
}

func (s *mangleSuite) TestDemangleFiltersNonNodeEntries(c *C) {
	for _, entry := range []string{"dir", "deleted", "0", "1", "42", ".node"} {
		_, ok := pathmangle.Demangle(entry)
		c.Check(ok, Equals, false, Commentf("entry %q should not demangle", entry))
	}
}

func (s *mangleSuite) TestRevisionAndMarkerPaths(c *C) {
	c.Check(pathmangle.RevisionPath("/r/a.node", 3), Equals, "/r/a.node/3")
	c.Check(pathmangle.MarkerPath("/r/a.node", pathmangle.DirMarker), Equals, "/r/a.node/dir")
	c.Check(pathmangle.MarkerPath("/r/a.node", pathmangle.DeletedMarker), Equals, "/r/a.node/deleted")
}
