package env

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileSuffix marks a variable that names a file holding the real value,
// the convention used for Docker and Kubernetes secrets.
const FileSuffix = "_FILE"

// LoadSecretFiles replaces each target with the trimmed contents of the file
// named by KEY_FILE, when that variable is set. Targets whose KEY_FILE is
// unset keep their current value. A named file that cannot be read or is
// empty is an error, so a misconfigured secret never falls back silently.
func LoadSecretFiles(targets map[string]*string) error {
	keys := make([]string, 0, len(targets))
	for key := range targets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := os.Getenv(key + FileSuffix)
		if path == "" {
			continue
		}
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read %s%s: %w", key, FileSuffix, err)
		}
		value := bytes.TrimSpace(content)
		if len(value) == 0 {
			return fmt.Errorf("%s%s points to an empty file", key, FileSuffix)
		}
		*targets[key] = string(value)
	}
	return nil
}
