package ramfs

import (
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/x86kernel/internal/kerrno"
	"github.com/example/x86kernel/internal/vfs"
)

func newTestSuperblock() *Superblock {
	return NewSuperblock(timeutil.RealClock())
}

func TestRootHasDotAndDotDot(t *testing.T) {
	sb := newTestSuperblock()
	root, err := sb.Root()
	require.NoError(t, err)

	self, ok := root.dir.Lookup(".")
	require.True(t, ok)
	assert.Equal(t, uint64(root.ino), self)

	parent, ok := root.dir.Lookup("..")
	require.True(t, ok)
	assert.Equal(t, uint64(root.ino), parent)
}

func TestMakeDirectoryThenLookup(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	child, err := ops.MakeDirectory(root, "etc", 0755)
	require.NoError(t, err)

	found, err := ops.LookupInode(root, "etc")
	require.NoError(t, err)
	assert.Equal(t, child.ID(), found.ID())
}

func TestMakeDirectoryDuplicateIsEEXIST(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	_, err := ops.MakeDirectory(root, "etc", 0755)
	require.NoError(t, err)
	_, err = ops.MakeDirectory(root, "etc", 0755)
	assert.Error(t, err)
	assert.ErrorIs(t, err, kerrno.EEXIST)
}

// Boundary scenario from spec §8: mkdir then unlink restores inode/dirent
// counts.
func TestMkdirThenUnlinkRestoresState(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	before := root.dir.size

	_, err := ops.MakeDirectory(root, "tmp", 0755)
	require.NoError(t, err)
	require.NoError(t, ops.UnlinkInode(root, "tmp"))

	assert.Equal(t, before, root.dir.size)
	_, err = ops.LookupInode(root, "tmp")
	assert.Error(t, err)
}

func TestMakeInodeThenGetHasSizeZero(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "foo.txt", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), in.Attr().Size)
}

func TestWriteThenReadRoundTripsWithinSingleBlock(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "foo.txt", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)

	payload := []byte("hello, ramfs")
	n, err := ops.WriteInode(in, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = ops.ReadInode(in, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestWriteSpanningMultipleDirectBlocksRoundTrips(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "big.bin", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, PageSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := ops.WriteInode(in, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = ops.ReadInode(in, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestWriteReachingSingleIndirectRangeRoundTrips(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "huge.bin", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)

	// Land one write in the single-indirect range (beyond the 12 direct
	// blocks) without materializing gigabytes of backing storage.
	offset := int64((NDirect + 3) * PageSize)
	payload := []byte("indirect block contents")
	_, err = ops.WriteInode(in, payload, offset)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = ops.ReadInode(in, buf, offset)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestTruncateShrinkFreesTrailingDirectBlocks(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "shrink.bin", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)
	payload := make([]byte, PageSize*4)
	_, err = ops.WriteInode(in, payload, 0)
	require.NoError(t, err)

	require.NoError(t, ops.TruncInode(in, PageSize))
	assert.Equal(t, int64(PageSize), in.Attr().Size)

	r, _ := asRamInode(in)
	for i := 1; i < NDirect; i++ {
		assert.Equal(t, uint32(0), r.file.direct[i])
	}
}

func TestTruncateGrowExtendsWithImplicitZeros(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "grow.bin", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)
	_, err = ops.WriteInode(in, []byte("abc"), 0)
	require.NoError(t, err)

	require.NoError(t, ops.TruncInode(in, 10))
	buf := make([]byte, 10)
	n, err := ops.ReadInode(in, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []byte("abc\x00\x00\x00\x00\x00\x00\x00"), buf)
}

// A truncate-down into the single-indirect range followed by a truncate-up
// (e.g. via ftruncate growing the file back) must read back as zeros, not
// the old indirect block's stale contents — spec §8, §9's trunc resolution.
func TestTruncateDownThenUpInIndirectRangeReadsZeros(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "indirect-trunc.bin", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)

	offset := int64((NDirect + 3) * PageSize)
	payload := []byte("stale indirect contents")
	_, err = ops.WriteInode(in, payload, offset)
	require.NoError(t, err)

	require.NoError(t, ops.TruncInode(in, PageSize))

	r, _ := asRamInode(in)
	assert.Equal(t, uint32(0), r.file.single, "single-indirect block should be freed once every slot it held is truncated away")

	require.NoError(t, ops.TruncInode(in, offset+int64(len(payload))))

	buf := make([]byte, len(payload))
	n, err := ops.ReadInode(in, buf, offset)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, make([]byte, len(payload)), buf, "region freed by truncate-down must read back as zeros after truncate-up, not stale data")
}

func TestUnlinkDecrementsLinkCountAndReapsAtZero(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "f", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)
	ino := in.ID()

	require.NoError(t, ops.UnlinkInode(root, "f"))

	_, err = ops.InodeGet(ino)
	assert.Error(t, err)
}

func TestLinkInodeAddsSecondNameForSameInode(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	in, err := ops.MakeInode(root, "orig", vfs.ModeReg|0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, ops.LinkInode(in, root, "alias"))
	found, err := ops.LookupInode(root, "alias")
	require.NoError(t, err)
	assert.Equal(t, in.ID(), found.ID())
	assert.Equal(t, uint32(2), found.Attr().NLinks)
}

func TestGetDirentryEnumeratesDotAndDotDot(t *testing.T) {
	sb := newTestSuperblock()
	root, _ := sb.Root()
	ops := sb.Ops()

	var iter uint64
	var names []string
	for {
		de, ok := ops.GetDirentry(root, &iter)
		if !ok {
			break
		}
		names = append(names, de.Name)
	}
	assert.Contains(t, names, ".")
	assert.Contains(t, names, "..")
}
