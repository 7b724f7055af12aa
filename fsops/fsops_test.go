// -*- Mode: Go; indent-tabs-mode: t -*-

package fsops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	. "gopkg.in/check.v1"

	"github.com/wvdschel/undofs/backingstore"
	"github.com/wvdschel/undofs/revision"
)

func Test(t *testing.T) { TestingT(t) }

type fsopsSuite struct{}

var _ = Suite(&fsopsSuite{})

func (s *fsopsSuite) TestJoinRoot(c *C) {
	c.Check(join("/", "a"), Equals, "/a")
}

func (s *fsopsSuite) TestJoinNested(c *C) {
	c.Check(join("/a", "b"), Equals, "/a/b")
}

func (s *fsopsSuite) TestErrnoOfNil(c *C) {
	c.Check(errnoOf(nil), Equals, syscall.Errno(0))
}

func (s *fsopsSuite) TestErrnoOfWrapped(c *C) {
	err := fmtErrorf(syscall.ENOENT)
	c.Check(errnoOf(err), Equals, syscall.ENOENT)
}

func (s *fsopsSuite) TestErrnoOfOther(c *C) {
	c.Check(errnoOf(errors.New("boom")), Equals, syscall.EIO)
}

func fmtErrorf(errno syscall.Errno) error {
	return &wrappedErrno{errno}
}

type wrappedErrno struct {
	errno syscall.Errno
}

func (w *wrappedErrno) Error() string { return w.errno.Error() }
func (w *wrappedErrno) Unwrap() error { return w.errno }

// nodeSuite exercises the Node operation dispatcher directly against a
// scratch backing root, without a live FUSE mount: every method tested
// here does its work purely in terms of package revision and package
// backingstore and never touches Inode.NewInode, so it runs safely on
// a Node built by hand rather than one wired into a real mounted tree.
type nodeSuite struct {
	root   string
	store  *backingstore.Store
	engine *revision.Engine
	node   *Node
}

var _ = Suite(&nodeSuite{})

func (s *nodeSuite) SetUpTest(c *C) {
	s.root = c.MkDir()
	s.store = backingstore.New(1000, 100)
	s.engine = revision.New(s.root, s.store, nil)
	s.node = Root(s.engine, s.store, nil)
}

// childOf returns a Node for a path directly under the root, the same
// shape childNode would build, but without touching the Inode/NewInode
// machinery that requires a live mount.
func (s *nodeSuite) childOf(userPath string) *Node {
	return &Node{engine: s.engine, store: s.store, userPath: userPath}
}

// create drives n through createChild/Write/Release to populate name
// with content, the same sequence create(2)+write(2)+release(2) drive
// through the real dispatcher.
func (s *nodeSuite) create(c *C, n *Node, name, content string) {
	ctx := context.Background()
	_, _, f, errno := n.createChild(ctx, name, syscall.O_WRONLY|syscall.O_CREAT, 0o644)
	c.Assert(errno, Equals, syscall.Errno(0))
	h := &fileHandle{f: f}
	_, errno = h.Write(ctx, []byte(content), 0)
	c.Assert(errno, Equals, syscall.Errno(0))
	c.Assert(h.Release(ctx), Equals, syscall.Errno(0))
}

func (s *nodeSuite) readdirNames(c *C, n *Node) []string {
	stream, errno := n.Readdir(context.Background())
	c.Assert(errno, Equals, syscall.Errno(0))
	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		c.Assert(errno, Equals, syscall.Errno(0))
		names = append(names, e.Name)
	}
	return names
}

// TestS1CreateWriteRelease is literal scenario S1: create("/hello"),
// write "Hi\n" at offset 0, release. /r/hello.node/0 must hold "Hi\n"
// at mode 0644, and nothing else.
func (s *nodeSuite) TestS1CreateWriteRelease(c *C) {
	s.create(c, s.node, "hello", "Hi\n")

	versionDir := filepath.Join(s.root, "hello.node")
	entries, err := os.ReadDir(versionDir)
	c.Assert(err, IsNil)
	c.Check(len(entries), Equals, 1)

	data, err := os.ReadFile(filepath.Join(versionDir, "0"))
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "Hi\n")

	info, err := os.Stat(filepath.Join(versionDir, "0"))
	c.Assert(err, IsNil)
	c.Check(info.Mode().Perm(), Equals, os.FileMode(0o644))
}

// TestS2OverwriteAllocatesNewRevision is literal scenario S2:
// continuing S1, open O_WRONLY and write "Bye\n". Revision 0 ("Hi\n")
// must survive alongside the new revision 1 ("Bye\n").
func (s *nodeSuite) TestS2OverwriteAllocatesNewRevision(c *C) {
	s.create(c, s.node, "hello", "Hi\n")

	ctx := context.Background()
	helloNode := s.childOf("/hello")
	fh, _, errno := helloNode.Open(ctx, syscall.O_WRONLY)
	c.Assert(errno, Equals, syscall.Errno(0))
	h := fh.(*fileHandle)
	_, errno = h.Write(ctx, []byte("Bye\n"), 0)
	c.Assert(errno, Equals, syscall.Errno(0))
	c.Assert(h.Release(ctx), Equals, syscall.Errno(0))

	versionDir := filepath.Join(s.root, "hello.node")
	data0, err := os.ReadFile(filepath.Join(versionDir, "0"))
	c.Assert(err, IsNil)
	c.Check(string(data0), Equals, "Hi\n")
	data1, err := os.ReadFile(filepath.Join(versionDir, "1"))
	c.Assert(err, IsNil)
	c.Check(string(data1), Equals, "Bye\n")
}

// TestS3UnlinkTombstones is scenario S3, started from S1's state
// rather than S2's: unlink("/hello"). A deleted marker must appear,
// getattr must ENOENT,
// and readdir("/") must no longer list hello.
func (s *nodeSuite) TestS3UnlinkTombstones(c *C) {
	s.create(c, s.node, "hello", "Hi\n")
	c.Assert(s.node.Unlink(context.Background(), "hello"), Equals, syscall.Errno(0))

	_, err := os.Stat(filepath.Join(s.root, "hello.node", "deleted"))
	c.Assert(err, IsNil)

	var out fuse.AttrOut
	errno := s.childOf("/hello").Getattr(context.Background(), nil, &out)
	c.Check(errno, Equals, syscall.Errno(syscall.ENOENT))

	c.Check(s.readdirNames(c, s.node), HasLen, 0)
}

// TestS4RecreateAfterUnlinkGetsFreshRevision is literal scenario S4:
// continuing S3, create+write "Z". The deleted marker must clear,
// revision 2 must hold "Z", and revisions 0/1 must still be present.
func (s *nodeSuite) TestS4RecreateAfterUnlinkGetsFreshRevision(c *C) {
	s.create(c, s.node, "hello", "Hi\n")
	s.create(c, s.node, "hello", "Bye\n")
	c.Assert(s.node.Unlink(context.Background(), "hello"), Equals, syscall.Errno(0))

	s.create(c, s.node, "hello", "Z")

	versionDir := filepath.Join(s.root, "hello.node")
	_, err := os.Stat(filepath.Join(versionDir, "deleted"))
	c.Check(os.IsNotExist(err), Equals, true)

	data2, err := os.ReadFile(filepath.Join(versionDir, "2"))
	c.Assert(err, IsNil)
	c.Check(string(data2), Equals, "Z")

	data0, err := os.ReadFile(filepath.Join(versionDir, "0"))
	c.Assert(err, IsNil)
	c.Check(string(data0), Equals, "Hi\n")
	data1, err := os.ReadFile(filepath.Join(versionDir, "1"))
	c.Assert(err, IsNil)
	c.Check(string(data1), Equals, "Bye\n")
}

// TestS5MkdirCreateNested is literal scenario S5: mkdir("/d"),
// create("/d/f") + write "x". A dir sentinel must appear at
// /r/d.node/dir, /r/d.node/f.node/0 must hold "x", and readdir("/d")
// must list only f.
func (s *nodeSuite) TestS5MkdirCreateNested(c *C) {
	childPath, _, errno := s.node.mkdirChild("d", 0o755)
	c.Assert(errno, Equals, syscall.Errno(0))
	c.Check(childPath, Equals, "/d")

	dNode := s.childOf("/d")
	s.create(c, dNode, "f", "x")

	_, err := os.Stat(filepath.Join(s.root, "d.node", "dir"))
	c.Assert(err, IsNil)
	data, err := os.ReadFile(filepath.Join(s.root, "d.node", "f.node", "0"))
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "x")

	c.Check(s.readdirNames(c, dNode), DeepEquals, []string{"f"})
}

// TestS6RenameRegularFilePreservesSourceHistory is literal scenario
// S6: continuing S5, rename("/d/f", "/d/g"). The source must
// tombstone (its history surviving under its old name), the
// destination must hold a fresh revision 0 with the source's content,
// and readdir("/d") must list only g.
func (s *nodeSuite) TestS6RenameRegularFilePreservesSourceHistory(c *C) {
	_, _, errno := s.node.mkdirChild("d", 0o755)
	c.Assert(errno, Equals, syscall.Errno(0))
	dNode := s.childOf("/d")
	s.create(c, dNode, "f", "x")

	c.Assert(dNode.Rename(context.Background(), "f", dNode, "g", 0), Equals, syscall.Errno(0))

	_, err := os.Stat(filepath.Join(s.root, "d.node", "f.node", "deleted"))
	c.Assert(err, IsNil)

	data, err := os.ReadFile(filepath.Join(s.root, "d.node", "g.node", "0"))
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "x")

	c.Check(s.readdirNames(c, dNode), DeepEquals, []string{"g"})
}

// TestRenameDirectoryMovesWholeHistory checks the directory branch of
// Rename: the whole version directory, and every revision inside it,
// moves to the destination name in one step.
func (s *nodeSuite) TestRenameDirectoryMovesWholeHistory(c *C) {
	_, _, errno := s.node.mkdirChild("d", 0o755)
	c.Assert(errno, Equals, syscall.Errno(0))
	s.create(c, s.childOf("/d"), "f", "x")

	c.Assert(s.node.Rename(context.Background(), "d", s.node, "e", 0), Equals, syscall.Errno(0))

	_, err := os.Stat(filepath.Join(s.root, "d.node"))
	c.Check(os.IsNotExist(err), Equals, true)
	data, err := os.ReadFile(filepath.Join(s.root, "e.node", "f.node", "0"))
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "x")
}

// TestRootGetattrAndAccessSucceed guards against the mount root
// resolving as Absent: the root version directory carries no "dir"
// sentinel of its own, so IsDirectory/ResolveForRead must special-case
// it rather than falling through to the regular-file scan.
func (s *nodeSuite) TestRootGetattrAndAccessSucceed(c *C) {
	var out fuse.AttrOut
	c.Assert(s.node.Getattr(context.Background(), nil, &out), Equals, syscall.Errno(0))
	c.Assert(s.node.Access(context.Background(), 0), Equals, syscall.Errno(0))

	var sout fuse.StatfsOut
	c.Assert(s.node.Statfs(context.Background(), &sout), Equals, syscall.Errno(0))
}

// TestLinkOntoPreviouslyTombstonedPathSucceeds guards against Link
// hand-rolling a bare Mkdir for its destination allocation: a
// destination that was previously created and then unlinked already
// has a version directory on disk (tombstoned), which a bare Mkdir
// rejects with EEXIST where resolve-for-write correctly untombstones
// and reuses it.
func (s *nodeSuite) TestLinkOntoPreviouslyTombstonedPathSucceeds(c *C) {
	s.create(c, s.node, "src", "x")
	s.create(c, s.node, "dst", "stale")
	c.Assert(s.node.Unlink(context.Background(), "dst"), Equals, syscall.Errno(0))

	childPath, res, errno := s.node.linkChild(context.Background(), s.childOf("/src"), "dst")
	c.Assert(errno, Equals, syscall.Errno(0))
	c.Check(childPath, Equals, "/dst")
	c.Check(res.IsDirectory, Equals, false)

	data, err := os.ReadFile(res.Path)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "x")
}
