// Package fileutil holds the one filesystem helper the USB sync path
// needs: locating a document on a freshly mounted volume whose
// filename case it doesn't control.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindFileCaseInsensitive looks for filename inside dir, ignoring case.
// usbsync's mount handler (Watcher.onMount) uses it because a FAT/exFAT stick can hand back
// "CONFIG.JSON" just as easily as "config.json", and os.Open won't
// match one against the other.
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	searchName := strings.ToLower(filename)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == searchName {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s)", filename, dir)
}

