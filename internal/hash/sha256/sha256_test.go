package sha256

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloWorld = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestStringDeterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, helloWorld, String("hello world"))
	require.Equal(t, String("hello world"), Hex([]byte("hello world")))
}

func TestReaderCountsBytes(t *testing.T) {
	t.Parallel()

	sum, n, err := Reader(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloWorld, sum)
	require.EqualValues(t, 11, n)
}

func TestFileMatchesString(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	sum, n, err := File(path)
	require.NoError(t, err)
	require.Equal(t, helloWorld, sum)
	require.EqualValues(t, 11, n)

	_, _, err = File(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
