package util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExists(t *testing.T) {
	dir, err := ioutil.TempDir("", "util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "f")
	require.Nil(t, ioutil.WriteFile(file, []byte("x"), 0644))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.Nil(t, MustExistDir(dir))
	assert.NotNil(t, MustExistDir(filepath.Join(dir, "missing")))
}
