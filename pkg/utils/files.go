package utils

import (
	"os"
	"path/filepath"
)

// LoadSource reads a source file and reports the absolute path it was
// resolved from, which the driver uses as the guest's working root.
func LoadSource(relPath string) (src string, fullPath string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return "", "", err
	}
	return string(raw), fullPath, nil
}
