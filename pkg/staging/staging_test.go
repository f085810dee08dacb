package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(filepath.Base(path)), 0o640))
}

func TestFlatten(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "raw")
	touch(t, filepath.Join(src, "plate1", "a", "b", "C10-1_405_ZS000.tif"))
	touch(t, filepath.Join(src, "plate1", "C10-1_488_ZS000.TIFF"))
	touch(t, filepath.Join(src, "C10-2_405_ZS000.tiff"))
	touch(t, filepath.Join(src, "plate1", "notes.txt"))

	old := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(src, "C10-2_405_ZS000.tiff"), old, old))

	dst := filepath.Join(root, "NF0014")
	n, err := Flatten(src, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	info, err := os.Stat(filepath.Join(dst, "C10-2_405_ZS000.tiff"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.NoFileExists(t, filepath.Join(dst, "notes.txt"))
}

func TestFlatten_DestinationInsideSource(t *testing.T) {
	src := t.TempDir()
	touch(t, filepath.Join(src, "x", "A1-1_405_ZS000.tif"))

	n, err := Flatten(src, filepath.Join(src, "flat"), []string{".tif"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParseImageName(t *testing.T) {
	well, site, ch, z, ok := parseImageName("C10-1_405_ZS000.tif")
	require.True(t, ok)
	assert.Equal(t, []string{"C10", "1", "405", "ZS000"}, []string{well, site, ch, z})

	_, _, _, _, ok = parseImageName("C10_405_ZS000.tif")
	assert.False(t, ok)
	_, _, _, _, ok = parseImageName("C10-1_405.tif")
	assert.False(t, ok)
}

func TestIncompleteSetsAndQuarantine(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "NF0014")
	for _, name := range []string{
		"C10-1_405_ZS000.tif", "C10-1_488_ZS000.tif", "C10-1_555_ZS000.tif", "C10-1_640_ZS000.tif",
		"C10-1_405_ZS001.tif", "C10-1_640_ZS001.tif",
		"D2-3_405_ZS000.tif",
		"readme.tif",
	} {
		touch(t, filepath.Join(dir, name))
	}

	sets, err := IncompleteSets(dir, []string{"405", "488", "555", "640"})
	require.NoError(t, err)
	require.Len(t, sets, 2)

	assert.Equal(t, "C10_site1_ZS001", sets[0].ID())
	assert.Equal(t, []string{"488", "555"}, sets[0].Missing)
	assert.Equal(t, "D2_site3_ZS000", sets[1].ID())
	assert.Equal(t, []string{"488", "555", "640"}, sets[1].Missing)

	moved, err := QuarantineIncomplete(dir, sets)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)

	q := filepath.Join(root, "incomplete_data")
	assert.FileExists(t, filepath.Join(q, "C10-1_405_ZS001.tif"))
	assert.FileExists(t, filepath.Join(q, "D2-3_405_ZS000.tif"))
	assert.FileExists(t, filepath.Join(dir, "C10-1_405_ZS000.tif"))
	assert.FileExists(t, filepath.Join(dir, "readme.tif"))

	again, err := IncompleteSets(dir, []string{"405", "488", "555", "640"})
	require.NoError(t, err)
	assert.Empty(t, again)
}
