package asar_test

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/testutil"
)

// rawContainer frames a literal JSON header and data region.
func rawContainer(js, data string) []byte {
	out := make([]byte, 8, 8+len(js)+len(data))
	binary.LittleEndian.PutUint64(out, uint64(len(js)))
	out = append(out, js...)
	return append(out, data...)
}

func newArchive(t *testing.T, data []byte, opts ...asarcore.Option) *asarcore.Archive {
	t.Helper()
	a, err := asarcore.New(testutil.NewMockByteSource(data), opts...)
	require.NoError(t, err)
	return a
}

func TestWorkedExampleReads(t *testing.T) {
	t.Parallel()

	data := rawContainer(`{"files":{"a.txt":{"size":5,"offset":"0"},"b.txt":{"size":3,"offset":"5"}}}`, "helloxyz")
	a := newArchive(t, data)

	got, err := a.ReadRange("a.txt", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got, err = a.ReadRange("b.txt", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(got))

	// Reads are clipped to the entry, never into the neighbor.
	got, err = a.ReadRange("a.txt", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(got))

	got, err = a.ReadRange("a.txt", 5, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = a.ReadRange("a.txt", 6, 1)
	assert.ErrorIs(t, err, asarcore.ErrOutOfRange)

	assert.Equal(t, uint64(8+len(`{"files":{"a.txt":{"size":5,"offset":"0"},"b.txt":{"size":3,"offset":"5"}}}`)), a.HeaderSize())
}

func TestWorkedExampleInvalidOffset(t *testing.T) {
	t.Parallel()

	data := rawContainer(`{"files":{"x":{"size":5,"offset":"10"}}}`, "0123456789ab")
	_, err := asarcore.New(testutil.NewMockByteSource(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, asarcore.ErrInvalidOffset)
	assert.ErrorIs(t, err, asarcore.ErrInvalidArchive)
	assert.NotErrorIs(t, err, asarcore.ErrMalformedHeader)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short prefix", []byte{1, 2, 3}, asarcore.ErrMalformedHeader},
		{"prefix exceeds file", func() []byte {
			b := rawContainer(`{"files":{}}`, "")
			binary.LittleEndian.PutUint64(b, 1000)
			return b
		}(), asarcore.ErrMalformedHeader},
		{"invalid json", rawContainer(`{"files":`, ""), asarcore.ErrMalformedHeader},
		{"unknown kind", rawContainer(`{"files":{"x":{"mode":1}}}`, ""), asarcore.ErrMalformedHeader},
		{"overlap", rawContainer(`{"files":{"a":{"size":4,"offset":"0"},"b":{"size":4,"offset":"2"}}}`, "abcdefgh"), asarcore.ErrInvalidOffset},
		{"overflow", rawContainer(`{"files":{"a":{"size":4,"offset":"18446744073709551615"}}}`, "abcd"), asarcore.ErrInvalidOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := asarcore.New(testutil.NewMockByteSource(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, asarcore.ErrInvalidArchive)
		})
	}
}

func TestMaxHeaderSize(t *testing.T) {
	t.Parallel()

	data := rawContainer(`{"files":{"a":{"size":1,"offset":"0"}}}`, "x")
	_, err := asarcore.New(testutil.NewMockByteSource(data), asarcore.WithMaxHeaderSize(8))
	assert.ErrorIs(t, err, asarcore.ErrMalformedHeader)
}

func TestIntegerOffsetsAccepted(t *testing.T) {
	t.Parallel()

	a := newArchive(t, rawContainer(`{"files":{"a":{"size":2,"offset":1}}}`, "xab"))
	got, err := a.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(got))
}

func TestStatAndReadDir(t *testing.T) {
	t.Parallel()

	a := newArchive(t, testutil.NewBuilder().
		File("lib/z.js", "zz").
		Exec("lib/run", "#!/bin/sh").
		Dir("empty").
		File("index.js", "main").
		Bytes())

	info, err := a.Stat("lib/z.js")
	require.NoError(t, err)
	assert.Equal(t, "z.js", info.Name())
	assert.Equal(t, int64(2), info.Size())
	assert.False(t, info.IsDir())

	info, err = a.Stat("lib/run")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o555), info.Mode().Perm())

	info, err = a.Stat(".")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = a.Stat("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = a.Stat("index.js/child")
	assert.ErrorIs(t, err, asarcore.ErrNotDir)

	_, err = a.ReadFile("lib")
	assert.ErrorIs(t, err, asarcore.ErrIsDir)

	entries, err := a.ReadDir("lib")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run", entries[0].Name())
	assert.Equal(t, "z.js", entries[1].Name())

	entries, err = a.ReadDir("empty")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = a.ReadDir("index.js")
	assert.ErrorIs(t, err, asarcore.ErrNotDir)

	var order []string
	for name := range a.Entries() {
		order = append(order, name)
	}
	assert.Equal(t, []string{"lib", "lib/z.js", "lib/run", "empty", "index.js"}, order)
	assert.Equal(t, 5, a.Len())
}

func TestLinks(t *testing.T) {
	t.Parallel()

	a := newArchive(t, testutil.NewBuilder().
		File("lib/real.js", "real").
		Link("lib/alias.js", "real.js").
		Link("lib/up.js", "../top.txt").
		Link("dirlink", "lib").
		Link("self", "self").
		Link("ping", "pong").
		Link("pong", "ping").
		Link("escape", "../outside").
		File("top.txt", "top").
		Bytes())

	got, err := a.ReadFile("lib/alias.js")
	require.NoError(t, err)
	assert.Equal(t, "real", string(got))

	got, err = a.ReadFile("lib/up.js")
	require.NoError(t, err)
	assert.Equal(t, "top", string(got))

	got, err = a.ReadFile("dirlink/alias.js")
	require.NoError(t, err)
	assert.Equal(t, "real", string(got))

	real, err := a.Realpath("dirlink/alias.js")
	require.NoError(t, err)
	assert.Equal(t, "lib/real.js", real)

	target, err := a.Readlink("lib/alias.js")
	require.NoError(t, err)
	assert.Equal(t, "real.js", target)

	_, err = a.Readlink("top.txt")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	linfo, err := a.Lstat("lib/alias.js")
	require.NoError(t, err)
	assert.Equal(t, fs.ModeSymlink, linfo.Mode().Type())

	info, err := a.Stat("lib/alias.js")
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())

	for _, name := range []string{"self", "ping"} {
		_, err = a.ReadFile(name)
		assert.ErrorIs(t, err, asarcore.ErrLinkCycle, name)
		assert.ErrorIs(t, err, fs.ErrNotExist, name)
	}

	_, err = a.Stat("escape")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLinkHopLimit(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder().File("f0", "end")
	// l1 -> f0, l2 -> l1, ... l5 -> l4
	prev := "f0"
	for _, name := range []string{"l1", "l2", "l3", "l4", "l5"} {
		b.Link(name, prev)
		prev = name
	}
	data := b.Bytes()

	a := newArchive(t, data, asarcore.WithMaxLinkHops(5))
	_, err := a.ReadFile("l5")
	require.NoError(t, err)

	a = newArchive(t, data, asarcore.WithMaxLinkHops(4))
	_, err = a.ReadFile("l5")
	assert.ErrorIs(t, err, asarcore.ErrLinkCycle)
}

func TestUnpackedEntry(t *testing.T) {
	t.Parallel()

	a := newArchive(t, testutil.NewBuilder().Unpacked("native.node", "binary").File("a", "x").Bytes())
	info, err := a.Stat("native.node")
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size())

	_, err = a.ReadFile("native.node")
	assert.ErrorIs(t, err, asarcore.ErrUnpacked)

	got, err := a.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestOpenFileReadSeek(t *testing.T) {
	t.Parallel()

	a := newArchive(t, testutil.NewBuilder().File("doc.txt", "0123456789").Bytes())
	f, err := a.OpenEntry("doc.txt")
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(rest))

	buf := make([]byte, 3)
	n, err := f.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "234", string(buf[:n]))

	_, err = a.OpenEntry(".")
	assert.ErrorIs(t, err, asarcore.ErrIsDir)
}

func TestVerifyIntegrity(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().BlockSize(4).File("a.txt", "hello world").Bytes()
	a := newArchive(t, data, asarcore.WithVerifyIntegrity(true))
	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 0x80
	a = newArchive(t, corrupt, asarcore.WithVerifyIntegrity(true))
	_, err = a.ReadFile("a.txt")
	assert.ErrorIs(t, err, asarcore.ErrIntegrity)

	// The first block is untouched.
	got, err = a.ReadRange("a.txt", 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "hell", string(got))

	plain := testutil.NewBuilder().WithoutIntegrity().File("a.txt", "x").Bytes()
	a = newArchive(t, plain, asarcore.WithVerifyIntegrity(true))
	_, err = a.Open("a.txt")
	assert.ErrorIs(t, err, asarcore.ErrIntegrity)
}

func TestSniff(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().File("a", "b").Bytes()
	assert.True(t, asarcore.Sniff(testutil.NewMockByteSource(data), int64(len(data))))

	junk := []byte("#!/bin/sh\necho not an archive\n")
	assert.False(t, asarcore.Sniff(testutil.NewMockByteSource(junk), int64(len(junk))))
}

func TestConcurrentReads(t *testing.T) {
	t.Parallel()

	a := newArchive(t, testutil.NewBuilder().File("a", "alpha").File("b", "bravo").Bytes(),
		asarcore.WithVerifyIntegrity(true))
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Go(func() {
			name, want := "a", "alpha"
			if i%2 == 1 {
				name, want = "b", "bravo"
			}
			got, err := a.ReadFile(name)
			if err == nil && string(got) != want {
				err = errors.New("unexpected content for " + name)
			}
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestFSCompliance(t *testing.T) {
	t.Parallel()

	a := newArchive(t, testutil.NewBuilder().
		File("a.txt", "alpha").
		File("dir/b.txt", "bravo").
		File("dir/sub/c.txt", "charlie").
		Bytes())
	require.NoError(t, fstest.TestFS(a, "a.txt", "dir/b.txt", "dir/sub/c.txt"))
}
