package fuse

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/testutil"
)

// fuseAvailable skips tests that need a real mount when /dev/fuse is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

func testArchive(t *testing.T) *asarcore.Archive {
	t.Helper()
	src := testutil.NewBuilder().
		File("package.json", `{"name":"app"}`).
		File("lib/index.js", "module.exports = 1\n").
		Exec("bin/tool", "#!/bin/sh\n").
		Link("lib/main.js", "index.js").
		Source()
	a, err := asarcore.New(src, asarcore.WithModTime(time.Unix(1700000000, 0)))
	require.NoError(t, err)
	return a
}

func testMount(t *testing.T) string {
	t.Helper()
	fuseAvailable(t)

	mountpoint := filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(Options{Mountpoint: mountpoint, Archive: testArchive(t)})
	if err != nil {
		t.Skipf("skipping: mount failed: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint
}

func TestMountReadsFiles(t *testing.T) {
	mountpoint := testMount(t)

	data, err := os.ReadFile(filepath.Join(mountpoint, "lib", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1\n", string(data))

	data, err = os.ReadFile(filepath.Join(mountpoint, "lib", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1\n", string(data))

	target, err := os.Readlink(filepath.Join(mountpoint, "lib", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "index.js", target)

	info, err := os.Stat(filepath.Join(mountpoint, "bin", "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o111)

	entries, err := os.ReadDir(mountpoint)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMountIsReadOnly(t *testing.T) {
	mountpoint := testMount(t)

	err := os.WriteFile(filepath.Join(mountpoint, "package.json"), []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestMountRequiresOptions(t *testing.T) {
	t.Parallel()

	_, err := Mount(Options{Archive: testArchive(t)})
	assert.Error(t, err)
	_, err = Mount(Options{Mountpoint: t.TempDir()})
	assert.Error(t, err)
}

func TestFillAttr(t *testing.T) {
	t.Parallel()

	mod := time.Unix(1700000000, 0)

	var attr fuse.Attr
	fillAttr(&attr, asarcore.NewFile(1000, true), mod)
	assert.Equal(t, uint32(syscall.S_IFREG|0o555), attr.Mode)
	assert.Equal(t, uint64(1000), attr.Size)
	assert.Equal(t, uint64(2), attr.Blocks)
	assert.Equal(t, uint64(mod.Unix()), attr.Mtime)

	attr = fuse.Attr{}
	fillAttr(&attr, asarcore.NewDirectory(), mod)
	assert.Equal(t, uint32(syscall.S_IFDIR|0o555), attr.Mode)

	attr = fuse.Attr{}
	fillAttr(&attr, asarcore.NewLink("a/b"), time.Time{})
	assert.Equal(t, uint32(syscall.S_IFLNK|0o777), attr.Mode)
	assert.Equal(t, uint64(3), attr.Size)
	assert.Zero(t, attr.Mtime)
}

func TestLinkTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, target, want string
	}{
		{"main.js", "lib/index.js", "lib/index.js"},
		{"a/b/link", "../c", "../c"},
		{"main.js", "/lib/index.js", "lib/index.js"},
		{"bin/run", "/lib/index.js", "../lib/index.js"},
		{"a/b/c/link", "/x", "../../../x"},
		{"a/link", "/", ".."},
		{"link", "/", "."},
		{"a/link", "//lib/./x/../y", "../lib/y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, linkTarget(tt.name, tt.target), "%s -> %s", tt.name, tt.target)
	}
}

func TestErrno(t *testing.T) {
	t.Parallel()

	assert.Equal(t, syscall.ENOENT, errno(os.ErrNotExist))
	assert.Equal(t, syscall.EISDIR, errno(asarcore.ErrIsDir))
	assert.Equal(t, syscall.EIO, errno(asarcore.ErrIntegrity))
}
