package asar_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/testutil"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestCreateRoundTrip(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{
		"package.json":      `{"main":"index.js"}`,
		"index.js":          "require('./lib/util')",
		"lib/util.js":       "module.exports = {}",
		"lib/deep/data.bin": string(bytes.Repeat([]byte{0xAB}, 1000)),
		"empty.txt":         "",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "emptydir"), 0o755))
	require.NoError(t, os.Chmod(filepath.Join(dir, "index.js"), 0o755))

	var stages sync.Map
	var buf bytes.Buffer
	err := asarcore.Create(context.Background(), dir, &buf,
		asarcore.CreateWithBlockSize(128),
		asarcore.CreateWithProgress(func(ev asarcore.ProgressEvent) {
			stages.Store(ev.Stage, true)
		}),
	)
	require.NoError(t, err)

	for _, st := range []asarcore.ProgressStage{asarcore.StageEnumerating, asarcore.StageHashing, asarcore.StageWriting} {
		_, ok := stages.Load(st)
		assert.True(t, ok, st.String())
	}

	a, err := asarcore.New(testutil.NewMockByteSource(buf.Bytes()), asarcore.WithVerifyIntegrity(true))
	require.NoError(t, err)

	got, err := a.ReadFile("lib/deep/data.bin")
	require.NoError(t, err)
	assert.Len(t, got, 1000)

	got, err = a.ReadFile("package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"main":"index.js"}`, string(got))

	got, err = a.ReadFile("empty.txt")
	require.NoError(t, err)
	assert.Empty(t, got)

	info, err := a.Stat("emptydir")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	if runtime.GOOS != "windows" {
		e, err := a.Lookup("index.js")
		require.NoError(t, err)
		assert.True(t, e.Executable)
	}

	e, err := a.Lookup("lib/deep/data.bin")
	require.NoError(t, err)
	require.NotNil(t, e.Integrity)
	assert.Equal(t, "SHA256", e.Integrity.Algorithm)
	assert.Len(t, e.Integrity.Blocks, 8)

	// Serializing the parsed tree reproduces the container front exactly.
	front, dataSize, err := asarcore.Serialize(a.Header().Root)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes()[:a.HeaderSize()], front)
	assert.Equal(t, a.Header().DataSize, dataSize)
}

func TestCreateIsDeterministic(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"b": "2", "a/c": "3", "a/a": "1"})
	var first, second bytes.Buffer
	require.NoError(t, asarcore.Create(context.Background(), dir, &first))
	require.NoError(t, asarcore.Create(context.Background(), dir, &second, asarcore.CreateWithConcurrency(1)))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestCreateExcludeAndUnpack(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{
		"main.js":              "main",
		"addon.node":           "native",
		"assets/big/video.mp4": "movie",
		"node_modules/x/a.js":  "x",
		"secret.env":           "TOKEN=1",
	})
	out := filepath.Join(t.TempDir(), "app.asar")

	a, err := asarcore.CreateFile(context.Background(), dir, out,
		asarcore.CreateWithExclude("*.env"),
		asarcore.CreateWithUnpack("assets/big"),
		asarcore.CreateWithUnpackFunc(asarcore.NativeModules),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.Stat("secret.env")
	assert.Error(t, err)

	e, err := a.Lookup("addon.node")
	require.NoError(t, err)
	assert.True(t, e.Unpacked)

	e, err = a.Lookup("assets/big/video.mp4")
	require.NoError(t, err)
	assert.True(t, e.Unpacked)

	e, err = a.Lookup("main.js")
	require.NoError(t, err)
	assert.False(t, e.Unpacked)

	got, err := os.ReadFile(filepath.Join(out+".unpacked", "addon.node"))
	require.NoError(t, err)
	assert.Equal(t, "native", string(got))

	got, err = os.ReadFile(filepath.Join(out+".unpacked", "assets", "big", "video.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "movie", string(got))

	assert.Equal(t, out, a.Path())
}

func TestCreateSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	t.Parallel()

	dir := writeTree(t, map[string]string{"lib/real.js": "real"})
	require.NoError(t, os.Symlink("real.js", filepath.Join(dir, "lib", "alias.js")))

	var buf bytes.Buffer
	require.NoError(t, asarcore.Create(context.Background(), dir, &buf))
	a, err := asarcore.New(testutil.NewMockByteSource(buf.Bytes()))
	require.NoError(t, err)

	target, err := a.Readlink("lib/alias.js")
	require.NoError(t, err)
	assert.Equal(t, "real.js", target)

	got, err := a.ReadFile("lib/alias.js")
	require.NoError(t, err)
	assert.Equal(t, "real", string(got))

	escaping := t.TempDir()
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(escaping, "bad")))
	err = asarcore.Create(context.Background(), escaping, &bytes.Buffer{})
	assert.ErrorContains(t, err, "must be relative")
}

func TestCreateLimits(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"a": "1", "b": "2", "c": "3"})
	err := asarcore.Create(context.Background(), dir, &bytes.Buffer{}, asarcore.CreateWithMaxFiles(2))
	assert.ErrorIs(t, err, asarcore.ErrTooManyFiles)

	err = asarcore.Create(context.Background(), dir, &bytes.Buffer{}, asarcore.CreateWithExclude("[bad"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = asarcore.Create(ctx, dir, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenFileFromDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.asar")
	require.NoError(t, os.WriteFile(path, testutil.NewBuilder().File("f", "disk").Bytes(), 0o644))

	a, err := asarcore.OpenFile(path)
	require.NoError(t, err)
	got, err := a.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "disk", string(got))
	assert.Contains(t, a.SourceID(), "file:")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
