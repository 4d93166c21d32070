package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "koishi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"version"}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Equal(t, "koishi dev (commit: unknown, built: unknown)\n", out.String())
}

func TestCheck(t *testing.T) {
	path := writeConfig(t, "plugins:\n  - name: echo\n  - name: status\n    disabled: true\n")
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"check", path}, nil, &out, &errOut))
	assert.Equal(t, path+": ok (1 plugins)\n", out.String())

	bad := writeConfig(t, "log:\n  level: loud\n")
	out.Reset()
	assert.Equal(t, 1, run([]string{"check", bad}, nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Error:")
	assert.Contains(t, errOut.String(), "log.level")
}

func TestRunCLI(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\nplugins:\n  - name: echo\n")
	var out, errOut bytes.Buffer
	code := run([]string{"run", "-c", path, "--cli"}, strings.NewReader("echo hi\n"), &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "hi\n", out.String())
}

func TestRunInvalidConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"run", "-c", filepath.Join(t.TempDir(), "none.yaml")}, nil, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "failed to initialize")
}
