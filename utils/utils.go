// utils/utils.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetVecRoot returns the root directory of the Vec repository.
// It searches for the .vec directory in the current and parent directories.
func GetVecRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	for {
		vecDir := filepath.Join(currentDir, ".vec")
		if FileExists(vecDir) {
			return currentDir, nil
		}

		// Move to the parent directory.
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir { // Reached root.
			return "", fmt.Errorf("not a vec repository (or any of the parent directories)")
		}
		currentDir = parentDir
	}
}
