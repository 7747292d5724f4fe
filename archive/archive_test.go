package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, path string) map[string]string {
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	contents := make(map[string]string)
	for _, f := range r.File {
		assert_.Equal(t, zip.Deflate, f.Method, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		contents[f.Name] = string(data)
	}
	return contents
}

func TestName(t *testing.T) {
	assert := assert_.New(t)
	ts := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	assert.Equal("playlist_20240309_070501.zip", Name(ts))
}

func TestBundleRoundTrip(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	var paths []string
	expected := make(map[string]string)
	for i, name := range []string{"a.mp4", "b.mkv", "c.mp3"} {
		sub := filepath.Join(dir, string(rune('1'+i)))
		require.NoError(t, os.MkdirAll(sub, 0755))
		path := filepath.Join(sub, name)
		require.NoError(t, os.WriteFile(path, []byte("content of "+name), 0644))
		paths = append(paths, path)
		expected[name] = "content of " + name
	}

	destination := filepath.Join(dir, Name(time.Now()))
	require.NoError(t, NewPackager().Bundle(paths, destination))
	assert.Equal(expected, readArchive(t, destination))
}

func TestBundleDuplicateNames(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		sub := filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.MkdirAll(sub, 0755))
		path := filepath.Join(sub, "clip.mp4")
		require.NoError(t, os.WriteFile(path, []byte{byte('0' + i)}, 0644))
		paths = append(paths, path)
	}

	destination := filepath.Join(dir, "out.zip")
	require.NoError(t, NewPackager().Bundle(paths, destination))
	assert.Equal(map[string]string{
		"clip.mp4":     "0",
		"clip (2).mp4": "1",
		"clip (3).mp4": "2",
	}, readArchive(t, destination))
}

func TestBundleSkipsMissing(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	present := filepath.Join(dir, "present.mp4")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))

	destination := filepath.Join(dir, "out.zip")
	require.NoError(t, NewPackager().Bundle([]string{filepath.Join(dir, "missing.mp4"), present}, destination))
	assert.Equal(map[string]string{"present.mp4": "x"}, readArchive(t, destination))
}

func TestBundleErrors(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	var packagingErr *PackagingError

	destination := filepath.Join(dir, "out.zip")
	err := NewPackager().Bundle([]string{filepath.Join(dir, "missing.mp4")}, destination)
	assert.ErrorAs(err, &packagingErr)
	assert.ErrorIs(err, ErrNothingToPackage)
	assert.NoFileExists(destination)

	err = NewPackager().Bundle(nil, destination)
	assert.ErrorIs(err, ErrNothingToPackage)

	present := filepath.Join(dir, "present.mp4")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))
	unwritable := filepath.Join(dir, "no-such-dir", "out.zip")
	err = NewPackager().Bundle([]string{present}, unwritable)
	assert.ErrorAs(err, &packagingErr)
	assert.Equal(unwritable, packagingErr.Destination)
	assert.NoFileExists(unwritable)
}

func TestEntryNames(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(
		[]string{"a.mp4", "a (2).mp4", "b", "b (2)", "a (3).mp4"},
		entryNames([]string{"/x/a.mp4", "/y/a.mp4", "/x/b", "/y/b", "/z/a.mp4"}),
	)
}
