// Package source lists and opens the documents to ingest, from a local
// directory or a Dropbox folder.
package source

import (
	"context"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultExtensions are the file types listed when none are configured
var DefaultExtensions = []string{".pdf"}

// Document is one listed file. Path is what Open needs, Name is the
// sanitised base name used as the document's filename.
type Document struct {
	ID       string
	Path     string
	Name     string
	Size     int64
	Modified time.Time
}

type Source interface {
	List(ctx context.Context) ([]Document, error)
	Open(ctx context.Context, doc Document) (io.ReadCloser, error)
}

var unsafeChars = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename replaces characters that are invalid in file names on
// common file systems with underscores.
func SanitizeFilename(name string) string {
	return unsafeChars.Replace(name)
}

func normalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		return DefaultExtensions
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func hasExtension(name string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
}
