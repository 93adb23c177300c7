package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Dir lists matching files below a local directory, recursively
type Dir struct {
	root       string
	extensions []string
}

func NewDir(root string, extensions []string) *Dir {
	return &Dir{root: root, extensions: normalizeExtensions(extensions)}
}

func (d *Dir) List(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !hasExtension(entry.Name(), d.extensions) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		docs = append(docs, d.document(path, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (d *Dir) Open(ctx context.Context, doc Document) (io.ReadCloser, error) {
	return os.Open(doc.Path)
}

func (d *Dir) document(path string, info fs.FileInfo) Document {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		rel = path
	}
	return Document{
		ID:       filepath.ToSlash(rel),
		Path:     path,
		Name:     SanitizeFilename(info.Name()),
		Size:     info.Size(),
		Modified: info.ModTime(),
	}
}

// Watch calls fn for every matching file created or written below the root
// until ctx is done. New subdirectories are watched as they appear.
func (d *Dir) Watch(ctx context.Context, fn func(Document)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := d.watchTree(watcher, d.root); err != nil {
		return err
	}
	log.Info().Str("root", d.root).Msg("Watching for new documents")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() && event.Has(fsnotify.Create) {
				if err := d.watchTree(watcher, event.Name); err != nil {
					log.Warn().Err(err).Str("dir", event.Name).Msg("Cannot watch directory")
				}
				continue
			}
			if doc, ok := d.handleEvent(event); ok {
				fn(doc)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (d *Dir) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// handleEvent turns a create or write of a matching regular file into a Document
func (d *Dir) handleEvent(event fsnotify.Event) (Document, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return Document{}, false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !hasExtension(name, d.extensions) {
		return Document{}, false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.Mode().IsRegular() {
		return Document{}, false
	}
	return d.document(event.Name, info), true
}
