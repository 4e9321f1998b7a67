package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestHashes(t *testing.T) {
	assert.Equal(t, helloSHA256, HashString("hello"))

	got, err := HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, got)

	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	got, err = HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, got)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
