package storage

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_CreateRunDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/runs", 0o755))
	ws := NewWorkspace(fs, "/runs")

	dir, err := ws.CreateRunDir("abc123")
	require.NoError(t, err)
	assert.Equal(t, "/runs/abc123", dir)

	_, err = ws.CreateRunDir("abc123")
	assert.Error(t, err, "re-creating the same run dir must fail")
}

func TestWorkspace_CreateRunDir_MissingRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	ws := NewWorkspace(fs, "/does-not-exist")

	_, err := ws.CreateRunDir("abc123")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "create_run_dir"))
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"report.txt":       "report.txt",
		"../../etc/passwd":  "passwd",
		"a b/c.cwl":        "c.cwl",
		"":                 "fallback-id",
		"...":              "fallback-id",
	}
	for input, want := range cases {
		got := SecureFilename(input, "fallback-id")
		assert.Equal(t, want, got, "input=%q", input)
	}
}

func TestWorkspace_SaveAttachment(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/runs/abc", 0o755))
	ws := NewWorkspace(fs, "/runs")

	path, n, err := ws.SaveAttachment("/runs/abc", "input.cwl", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "/runs/abc/input.cwl", path)

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}
