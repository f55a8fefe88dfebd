package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	require.NoError(t, os.MkdirAll(safeDir, 0o755))
	require.NoError(t, os.MkdirAll(unsafeDir, 0o755))
	require.NoError(t, os.Symlink(unsafeDir, filepath.Join(safeDir, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safeDir, "laps.db"), false},
		{"nested new file", filepath.Join(safeDir, "a", "b", "laps.db"), false},
		{"dot dot escape", filepath.Join(safeDir, "..", "laps.db"), true},
		{"sibling dir", filepath.Join(unsafeDir, "laps.db"), true},
		{"through symlink", filepath.Join(safeDir, "link", "laps.db"), true},
		{"dir itself", safeDir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safeDir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(missing, "x"), missing))
}

func TestValidateExportPath(t *testing.T) {
	assert.NoError(t, ValidateExportPath(filepath.Join(t.TempDir(), "backup.db")))
	assert.NoError(t, ValidateExportPath("laps-backup.db"))
	assert.Error(t, ValidateExportPath("/proc/self/laps.db"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                   "unknown",
		"race-01":            "race-01",
		"Heat 3 / final!":    "Heat_3_final",
		"../../etc/passwd":   "etc_passwd",
		"...":                "unknown",
		"a:b::c":             "a_b_c",
		"0f8fad5b-d9cb-469f": "0f8fad5b-d9cb-469f",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("x", 300)), 128)
}
