package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PrettyPrint writes v to w as indented JSON
func PrettyPrint(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to pretty print: %w", err)
	}
	return nil
}

// CreateFolder creates path and any missing parents
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// CreateParent creates the directory that will hold file
func CreateParent(file string) error {
	return CreateFolder(filepath.Dir(file))
}

// FileExists reports whether path names an existing regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
