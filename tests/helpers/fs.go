package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TempDirWithFiles(t *testing.T, files []string) (string, []string) {
	dirPath := t.TempDir()
	filePaths := make([]string, 0, len(files))
	for _, filename := range files {
		fileName, err := os.CreateTemp(dirPath, "*"+filename)
		assert.Nil(t, err, "failed to create temporary file in temporary dir")
		filePaths = append(filePaths, fileName.Name())
	}

	assert.Len(t, filePaths, len(files), "Expected file paths recorded to match length of requested files")
	return dirPath, filePaths
}

// TempDirWithNamedFiles is similar to TempDirWithFiles except the files are
// created with the exact names given, which is required when the code under
// test inspects file names rather than just their presence.
func TempDirWithNamedFiles(t *testing.T, names []string) (string, []string) {
	dirPath := t.TempDir()
	filePaths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dirPath, name)
		assert.Nil(t, os.WriteFile(path, []byte("content"), 0o644), "failed to create named file in temporary dir")
		filePaths = append(filePaths, path)
	}

	return dirPath, filePaths
}
